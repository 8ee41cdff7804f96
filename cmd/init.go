// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// InitCmd creates an empty, on-disk-initialised stack for a branch.
func InitCmd(globalCfg *GlobalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "init",
		Short: "Initialise an empty patch stack for the current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runInit(cmd.Context(), cio, globalCfg)
		},
	}
	return c
}

func runInit(ctx context.Context, cio IO, globalCfg *GlobalConfig) error {
	e, err := newEngine(globalCfg, cio)
	if err != nil {
		return err
	}
	head, err := e.backend.Head(ctx)
	if err != nil {
		return err
	}
	if _, err := e.codec.Init(ctx, e.branch, head); err != nil {
		return err
	}
	fmt.Fprintf(cio.Err, "Initialised empty patch stack on %q\n", e.branch)
	return nil
}
