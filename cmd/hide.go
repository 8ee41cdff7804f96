// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/transaction"
)

// HideCmd hides one or more unapplied patches from default listings.
func HideCmd(globalCfg *GlobalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "hide <name>...",
		Short: "Hide one or more unapplied patches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runHideUnhide(cmd.Context(), cio, globalCfg, args, "hide")
		},
	}
	return c
}

// UnhideCmd restores one or more hidden patches to the unapplied list.
func UnhideCmd(globalCfg *GlobalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "unhide <name>...",
		Short: "Unhide one or more hidden patches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runHideUnhide(cmd.Context(), cio, globalCfg, args, "unhide")
		},
	}
	return c
}

func runHideUnhide(ctx context.Context, cio IO, globalCfg *GlobalConfig, names []string, verb string) error {
	e, err := newEngine(globalCfg, cio)
	if err != nil {
		return err
	}
	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, verb, e.workDir, e.log)
	if err != nil {
		return err
	}
	for _, name := range names {
		var err error
		if verb == "hide" {
			err = txn.Hide(name)
		} else {
			err = txn.Unhide(name)
		}
		if err != nil {
			txn.Abort(ctx)
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintf(cio.Err, "%s: %q\n", verb, name)
	}
	return nil
}
