// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/transaction"
)

// DeleteCmd removes one or more patches from the stack.
func DeleteCmd(globalCfg *GlobalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete one or more patches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runDelete(cmd.Context(), cio, globalCfg, args)
		},
	}
	return c
}

func runDelete(ctx context.Context, cio IO, globalCfg *GlobalConfig, names []string) error {
	e, err := newEngine(globalCfg, cio)
	if err != nil {
		return err
	}
	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "delete", e.workDir, e.log)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := txn.Delete(ctx, name); err != nil {
			txn.Abort(ctx)
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cio.Err, "Deleted %d patch%s\n", len(names), pluralize(names, "es"))
	return nil
}
