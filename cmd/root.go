// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Root builds the stg command tree. Grounded on the teacher's Root
// var + Execute() pair, restructured as a constructor (the teacher's
// subcommands are zero-config cobra.Commands; ours carry a shared
// GlobalConfig that every stack-mutating command needs, so they're
// built fresh per invocation instead of package-level vars).
func Root() *cobra.Command {
	cfg := &GlobalConfig{}
	root := &cobra.Command{
		Use:   "stg",
		Short: "stg - a patch-queue manager layered on git",
		Long: `stg (StGit) presents your in-progress work as an ordered stack of
named patches, each a real git commit, and lets you push, pop, refresh,
rename, hide, delete, and import them without leaving git.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfg.WorkTree, "work-tree", "C", "", "path to the git worktree (default: current directory)")
	root.PersistentFlags().StringVarP(&cfg.Branch, "branch", "b", "", "branch to operate on (default: current branch)")
	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		InitCmd(cfg),
		NewCmd(cfg),
		PushCmd(cfg),
		PopCmd(cfg),
		DeleteCmd(cfg),
		RenameCmd(cfg),
		HideCmd(cfg),
		UnhideCmd(cfg),
		RefreshCmd(cfg),
		SeriesCmd(cfg),
		ImportCmd(cfg),
	)
	return root
}

// Execute runs the command tree and translates the result into
// spec.md §6's exit codes. Never panics to the user: a panic in a
// command body is recovered here and reported as an internal failure
// (exit code 2).
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "stg: internal error: %v\n", r)
			os.Exit(2)
		}
	}()
	root := Root()
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stg: %v\n", err)
	}
	os.Exit(exitCode(err))
}
