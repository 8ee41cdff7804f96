// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/config"
	"github.com/chucklever/stgit/internal/editor"
	"github.com/chucklever/stgit/internal/patch"
	"github.com/chucklever/stgit/internal/stgerrors"
	"github.com/chucklever/stgit/internal/transaction"
)

type newConfig struct {
	*GlobalConfig
	Message string
	Edit    bool
}

// NewCmd creates a new, empty patch on top of the current stack.
func NewCmd(globalCfg *GlobalConfig) *cobra.Command {
	cfg := &newConfig{GlobalConfig: globalCfg}
	c := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a new, empty patch on top of the stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runNew(cmd.Context(), cio, cfg, args[0])
		},
	}
	c.Flags().StringVarP(&cfg.Message, "message", "m", "", "patch description")
	c.Flags().BoolVarP(&cfg.Edit, "edit", "e", false, "invoke an editor for the patch description")
	return c
}

func runNew(ctx context.Context, cio IO, cfg *newConfig, name string) error {
	if !patch.ValidName(name) {
		return stgerrors.New(stgerrors.InvalidName, nil).WithPatch(name)
	}
	e, err := newEngine(cfg.GlobalConfig, cio)
	if err != nil {
		return err
	}

	description := cfg.Message
	if cfg.Edit || description == "" {
		edited, err := editor.Edit(ctx, e.backend, e.workDir, editor.Request{
			Description: description,
			Comments:    []string{"Please enter the description for this patch.", "Lines starting with 'STG:' are removed."},
		})
		if err != nil {
			return err
		}
		description = edited
	}

	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "new: "+name, e.workDir, e.log)
	if err != nil {
		return err
	}
	if _, _, ok := txn.Staged().Position(name); ok {
		txn.Abort(ctx)
		return stgerrors.New(stgerrors.NameCollision, nil).WithPatch(name)
	}

	head, err := e.backend.Head(ctx)
	if err != nil {
		txn.Abort(ctx)
		return err
	}
	author := config.Identity(ctx, e.backend, "author")
	committer := config.Identity(ctx, e.backend, "committer")
	rec := patch.New(name, head, author, committer, description)
	txn.Staged().Patches[name] = rec
	txn.Staged().Unapplied = append(txn.Staged().Unapplied, name)

	if err := txn.Push(ctx, name, true); err != nil {
		if _, halted := txn.Halted(); !halted {
			txn.Abort(ctx)
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cio.Err, "New patch \"%s\"\n", name)
	return nil
}
