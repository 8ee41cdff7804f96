// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chucklever/stgit/internal/gittest"
)

func TestIdentityPrefersEnvOverGitConfig(t *testing.T) {
	t.Setenv("GIT_AUTHOR_NAME", "Env Name")
	t.Setenv("GIT_AUTHOR_EMAIL", "env@example.com")
	t.Setenv("GIT_AUTHOR_DATE", "2024-01-02T00:00:00+00:00")

	fake := gittest.New()
	fake.Config["user.name"] = "Config Name"
	fake.Config["user.email"] = "config@example.com"

	p := Identity(context.Background(), fake, "author")
	assert.Equal(t, "Env Name", p.Name)
	assert.Equal(t, "env@example.com", p.Email)
	assert.Equal(t, "2024-01-02T00:00:00+00:00", p.Date)
}

func TestIdentityFallsBackToGitConfigAndClock(t *testing.T) {
	t.Setenv("GIT_COMMITTER_NAME", "")
	t.Setenv("GIT_COMMITTER_EMAIL", "")
	t.Setenv("GIT_COMMITTER_DATE", "")

	fake := gittest.New()
	fake.Config["user.name"] = "Config Name"
	fake.Config["user.email"] = "config@example.com"

	p := Identity(context.Background(), fake, "committer")
	assert.Equal(t, "Config Name", p.Name)
	assert.Equal(t, "config@example.com", p.Email)
	assert.NotEmpty(t, p.Date)
}

func TestControlDirUsesGitDirWhenSet(t *testing.T) {
	t.Setenv("GIT_DIR", "/custom/.git")
	assert.Equal(t, "/custom/.git", ControlDir("/work"))
}

func TestControlDirDefaultsUnderWorktree(t *testing.T) {
	t.Setenv("GIT_DIR", "")
	assert.Equal(t, "/work/.git", ControlDir("/work"))
}

func TestWorkTreeUsesEnvOverride(t *testing.T) {
	t.Setenv("GIT_WORK_TREE", "/explicit")
	assert.Equal(t, "/explicit", WorkTree())
}
