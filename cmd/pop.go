// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/transaction"
)

type popConfig struct {
	*GlobalConfig
	All bool
}

// PopCmd unapplies one or more patches, starting from the top of the stack.
func PopCmd(globalCfg *GlobalConfig) *cobra.Command {
	cfg := &popConfig{GlobalConfig: globalCfg}
	c := &cobra.Command{
		Use:   "pop [<name>]",
		Short: "Pop the topmost patch, or down to and including <name>",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runPop(cmd.Context(), cio, cfg, args)
		},
	}
	c.Flags().BoolVarP(&cfg.All, "all", "a", false, "pop every applied patch")
	return c
}

func runPop(ctx context.Context, cio IO, cfg *popConfig, args []string) error {
	e, err := newEngine(cfg.GlobalConfig, cio)
	if err != nil {
		return err
	}
	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "pop", e.workDir, e.log)
	if err != nil {
		return err
	}

	var name string
	switch {
	case cfg.All:
		if len(txn.Staged().Applied) == 0 {
			txn.Abort(ctx)
			return fmt.Errorf("no applied patches")
		}
		name = txn.Staged().Applied[0]
	case len(args) == 1:
		name = args[0]
	default:
		top, ok := txn.Staged().Top()
		if !ok {
			txn.Abort(ctx)
			return fmt.Errorf("no applied patches")
		}
		name = top
	}

	if err := txn.Pop(ctx, name); err != nil {
		txn.Abort(ctx)
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cio.Err, "Popped down to %q\n", name)
	return nil
}
