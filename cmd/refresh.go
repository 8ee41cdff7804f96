// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/transaction"
)

type refreshConfig struct {
	*GlobalConfig
	Message string
}

// RefreshCmd folds the worktree's local changes into the current patch.
func RefreshCmd(globalCfg *GlobalConfig) *cobra.Command {
	cfg := &refreshConfig{GlobalConfig: globalCfg}
	c := &cobra.Command{
		Use:   "refresh",
		Short: "Fold worktree changes into the current patch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runRefresh(cmd.Context(), cio, cfg)
		},
	}
	c.Flags().StringVarP(&cfg.Message, "message", "m", "", "replace the patch description")
	return c
}

func runRefresh(ctx context.Context, cio IO, cfg *refreshConfig) error {
	e, err := newEngine(cfg.GlobalConfig, cio)
	if err != nil {
		return err
	}
	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "refresh", e.workDir, e.log)
	if err != nil {
		return err
	}
	current := txn.Staged().Current
	if current == "" {
		txn.Abort(ctx)
		return fmt.Errorf("no patch applied")
	}
	if err := txn.Refresh(ctx, cfg.Message); err != nil {
		txn.Abort(ctx)
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cio.Err, "Refreshed %q\n", current)
	return nil
}
