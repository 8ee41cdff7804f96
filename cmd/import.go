// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chucklever/stgit/internal/config"
	"github.com/chucklever/stgit/internal/importer"
	"github.com/chucklever/stgit/internal/parser"
	"github.com/chucklever/stgit/internal/transaction"
)

type importConfig struct {
	*GlobalConfig
	Name      string
	StripName bool
	Ignore    bool
	Replace   bool
	Reject    bool
	Strip     int
	Mail      bool
	Series    bool
}

// ImportCmd imports one or more patches from a file (or stdin) onto the
// top of the stack.
func ImportCmd(globalCfg *GlobalConfig) *cobra.Command {
	cfg := &importConfig{GlobalConfig: globalCfg, Strip: -1}
	c := &cobra.Command{
		Use:   "import [<file>]",
		Short: "Import one or more patches onto the stack",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cio := IO{Out: cmd.OutOrStdout(), Err: cmd.OutOrStderr()}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runImport(cmd.Context(), cio, cfg, path)
		},
	}
	c.Flags().StringVar(&cfg.Name, "name", "", "name for the imported patch")
	c.Flags().BoolVar(&cfg.StripName, "stripname", false, "strip leading numbers and .diff/.patch suffixes from the derived name")
	c.Flags().BoolVar(&cfg.Ignore, "ignore", false, "skip patches that are already applied")
	c.Flags().BoolVar(&cfg.Replace, "replace", false, "replace an existing unapplied patch of the same name")
	c.Flags().BoolVar(&cfg.Reject, "reject", false, "write .rej files instead of falling back to an empty patch")
	c.Flags().IntVarP(&cfg.Strip, "strip", "p", -1, "number of leading path components to strip")
	c.Flags().BoolVarP(&cfg.Mail, "mail", "m", false, "treat input as a mail message or mbox")
	c.Flags().BoolVarP(&cfg.Series, "series", "s", false, "treat input as a quilt series file")
	return c
}

func runImport(ctx context.Context, cio IO, cfg *importConfig, path string) error {
	e, err := newEngine(cfg.GlobalConfig, cio)
	if err != nil {
		return err
	}

	var buf []byte
	if path == "" || path == "-" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	hint := parser.HintAuto
	switch {
	case cfg.Mail:
		hint = parser.HintMail
	case cfg.Series:
		hint = parser.HintSeries
	}

	patches, err := parser.Parse(ctx, e.backend, buf, hint, parser.Options{})
	if err != nil {
		return err
	}

	author := config.Identity(ctx, e.backend, "author")
	committer := config.Identity(ctx, e.backend, "committer")

	txn, err := transaction.Open(ctx, e.codec, e.backend, e.branch, "import", e.workDir, e.log)
	if err != nil {
		return err
	}

	opts := importer.Options{
		Name:      cfg.Name,
		StripName: cfg.StripName,
		Ignore:    cfg.Ignore,
		Replace:   cfg.Replace,
		Reject:    cfg.Reject,
		Strip:     cfg.Strip,
		Author:    author,
		Committer: committer,
	}
	if err := importer.Import(ctx, txn, e.backend, patches, opts, e.workDir); err != nil {
		if _, halted := txn.Halted(); !halted {
			txn.Abort(ctx)
			return err
		}
	}

	halted, wasHalted := txn.Halted()
	if err := txn.Commit(ctx); err != nil && !wasHalted {
		return err
	}
	fmt.Fprintf(cio.Err, "Imported %d patch%s\n", len(patches), pluralize(patches, "es"))
	if wasHalted {
		return halted
	}
	return nil
}
