// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/transaction"
)

// RenameCmd renames a patch.
func RenameCmd(globalCfg *GlobalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a patch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runRename(cmd.Context(), cio, globalCfg, args[0], args[1])
		},
	}
	return c
}

func runRename(ctx context.Context, cio IO, globalCfg *GlobalConfig, oldName, newName string) error {
	e, err := newEngine(globalCfg, cio)
	if err != nil {
		return err
	}
	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "rename: "+oldName+" -> "+newName, e.workDir, e.log)
	if err != nil {
		return err
	}
	if err := txn.Rename(ctx, oldName, newName); err != nil {
		txn.Abort(ctx)
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cio.Err, "Renamed %q to %q\n", oldName, newName)
	return nil
}
