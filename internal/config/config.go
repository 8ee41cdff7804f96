// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package config is a thin wrapper over GitBackend.ConfigGet and the
// process environment, giving the rest of the engine one place to
// resolve the handful of settings spec.md §6 says it consumes
// (GIT_AUTHOR_*/GIT_COMMITTER_* for identity, stgit.editor by way of
// internal/editor). It deliberately does not own a config file format
// of its own: StGit layers on top of git's own config, the way the
// teacher repo layers jj's config resolution into jjvcs.Client rather
// than inventing a second config system.
package config

import (
	"context"
	"os"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/patch"
)

// Identity resolves the author or committer identity for a new commit,
// per spec.md §6's environment variable list: GIT_AUTHOR_NAME/EMAIL/
// DATE take precedence, falling back to git's own user.name/user.email
// config; a name or email found in neither stays empty (git itself will
// error on commit if that's still empty, same as the real git CLI). A
// missing date falls back to backend.Now().
func Identity(ctx context.Context, backend gitbackend.Backend, kind string) patch.Person {
	nameEnv, emailEnv, dateEnv := "GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_AUTHOR_DATE"
	nameKey, emailKey := "user.name", "user.email"
	if kind == "committer" {
		nameEnv, emailEnv, dateEnv = "GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL", "GIT_COMMITTER_DATE"
	}

	p := patch.Person{}
	if v := os.Getenv(nameEnv); v != "" {
		p.Name = v
	} else if v, ok, _ := backend.ConfigGet(ctx, nameKey); ok {
		p.Name = v
	}
	if v := os.Getenv(emailEnv); v != "" {
		p.Email = v
	} else if v, ok, _ := backend.ConfigGet(ctx, emailKey); ok {
		p.Email = v
	}
	if v := os.Getenv(dateEnv); v != "" {
		p.Date = v
	} else {
		p.Date = backend.Now().Format("2006-01-02T15:04:05-07:00")
	}
	return p
}

// ControlDir resolves the directory stack.Codec persists bookkeeping
// under: GIT_DIR when set (spec.md §6), else "<worktree>/.git".
func ControlDir(worktree string) string {
	if v := os.Getenv("GIT_DIR"); v != "" {
		return v
	}
	return worktree + "/.git"
}

// WorkTree resolves the worktree root: GIT_WORK_TREE when set, else
// the process's current directory.
func WorkTree() string {
	if v := os.Getenv("GIT_WORK_TREE"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
