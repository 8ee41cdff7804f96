// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/chucklever/stgit/internal/config"
	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/stack"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// IO carries the streams a command writes to, so tests can capture
// them instead of the real stdout/stderr.
type IO struct {
	Out io.Writer
	Err io.Writer
}

// GlobalConfig holds the flags every subcommand inherits from Root.
type GlobalConfig struct {
	WorkTree string
	Branch   string
	Verbose  bool
}

func pluralize[T any](s []T, plural string) string {
	if len(s) > 1 {
		return plural
	}
	return ""
}

// engine bundles the pieces every stack-mutating command needs: a real
// GitBackend, the on-disk codec, the target branch, and a logger at
// the verbosity the -v flag requested.
type engine struct {
	backend gitbackend.Backend
	codec   *stack.Codec
	branch  string
	workDir string
	log     *logrus.Entry
}

func newEngine(cfg *GlobalConfig, cio IO) (*engine, error) {
	workTree := cfg.WorkTree
	if workTree == "" {
		workTree = config.WorkTree()
	}

	logger := logrus.New()
	logger.SetOutput(cio.Err)
	if cfg.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	backend := gitbackend.NewExecBackend(workTree, logrus.NewEntry(logger))

	branch := cfg.Branch
	if branch == "" {
		b, err := backend.CurrentBranch(context.Background())
		if err != nil {
			return nil, err
		}
		branch = b
	}

	codec := &stack.Codec{CtrlDir: config.ControlDir(workTree), Backend: backend}
	return &engine{
		backend: backend,
		codec:   codec,
		branch:  branch,
		workDir: workTree,
		log:     logrus.NewEntry(logger),
	}, nil
}

// exitCode maps a returned error to spec.md §6's process exit codes
// (handled by Execute at the top of the command tree).
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *stgerrors.Error
	if errors.As(err, &se) {
		return se.Kind.ExitCode()
	}
	return 1
}
