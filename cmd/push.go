// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/transaction"
)

type pushConfig struct {
	*GlobalConfig
	All   bool
	Empty bool
}

// PushCmd applies one or more unapplied patches onto the stack.
func PushCmd(globalCfg *GlobalConfig) *cobra.Command {
	cfg := &pushConfig{GlobalConfig: globalCfg}
	c := &cobra.Command{
		Use:   "push [<name>...]",
		Short: "Push one or more patches onto the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runPush(cmd.Context(), cio, cfg, args)
		},
	}
	c.Flags().BoolVarP(&cfg.All, "all", "a", false, "push all unapplied patches")
	c.Flags().BoolVar(&cfg.Empty, "empty", false, "push without applying the patch's diff")
	return c
}

func runPush(ctx context.Context, cio IO, cfg *pushConfig, args []string) error {
	e, err := newEngine(cfg.GlobalConfig, cio)
	if err != nil {
		return err
	}
	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "push", e.workDir, e.log)
	if err != nil {
		return err
	}

	names := args
	if cfg.All {
		names = append([]string(nil), txn.Staged().Unapplied...)
	} else if len(names) == 0 {
		if len(txn.Staged().Unapplied) == 0 {
			txn.Abort(ctx)
			return fmt.Errorf("no unapplied patches")
		}
		names = []string{txn.Staged().Unapplied[0]}
	}

	var pushed []string
	for _, name := range names {
		if err := txn.Push(ctx, name, cfg.Empty); err != nil {
			if _, halted := txn.Halted(); halted {
				pushed = append(pushed, name)
				break
			}
			txn.Abort(ctx)
			return err
		}
		pushed = append(pushed, name)
	}

	halted, wasHalted := txn.Halted()
	if err := txn.Commit(ctx); err != nil && !wasHalted {
		return err
	}
	for _, name := range pushed {
		fmt.Fprintf(cio.Err, "Pushed %q\n", name)
	}
	if wasHalted {
		return halted
	}
	return nil
}
