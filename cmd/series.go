// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type seriesConfig struct {
	*GlobalConfig
	ShowHidden bool
}

// SeriesCmd lists the patches in a branch's stack, in order.
func SeriesCmd(globalCfg *GlobalConfig) *cobra.Command {
	cfg := &seriesConfig{GlobalConfig: globalCfg}
	c := &cobra.Command{
		Use:   "series",
		Short: "List the patches in the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			return runSeries(cmd.Context(), cio, cfg)
		},
	}
	c.Flags().BoolVar(&cfg.ShowHidden, "hidden", false, "also list hidden patches")
	return c
}

func runSeries(ctx context.Context, cio IO, cfg *seriesConfig) error {
	e, err := newEngine(cfg.GlobalConfig, cio)
	if err != nil {
		return err
	}
	state, err := e.codec.Load(ctx, e.branch)
	if err != nil {
		return err
	}

	for i := len(state.Applied) - 1; i >= 0; i-- {
		name := state.Applied[i]
		mark := "+"
		if name == state.Current {
			mark = ">"
		}
		fmt.Fprintf(cio.Out, "%s %s\n", mark, name)
	}
	for _, name := range state.Unapplied {
		fmt.Fprintf(cio.Out, "- %s\n", name)
	}
	if cfg.ShowHidden {
		for _, name := range state.Hidden {
			fmt.Fprintf(cio.Out, "! %s\n", name)
		}
	}
	return nil
}
