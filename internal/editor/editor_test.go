// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package editor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chucklever/stgit/internal/gittest"
)

func TestRenderAddsCommentsAndMarker(t *testing.T) {
	out := render(Request{
		Description: "add feature",
		Comments:    []string{"Lines starting with STG: will be removed."},
	})
	assert.Contains(t, out, "add feature\n")
	assert.Contains(t, out, "STG: Lines starting with STG: will be removed.\n")
	assert.Contains(t, out, "STG_PATCH:\n")
}

func TestRenderAppendsPatchPreviewAfterMarker(t *testing.T) {
	out := render(Request{Description: "x", PatchPreview: []byte("diff --git a/x b/x\n")})
	markerIdx := indexOf(out, endMarker)
	diffIdx := indexOf(out, "diff --git")
	if markerIdx < 0 || diffIdx < markerIdx {
		t.Fatalf("expected patch preview after marker, got:\n%s", out)
	}
}

func TestParseDropsCommentsAndTrailingContent(t *testing.T) {
	body := "add feature\n\nSTG: a hint\nSTG_PATCH:\ndiff --git a/x b/x\n"
	assert.Equal(t, "add feature", parse(body))
}

func TestParsePreservesMultilineDescription(t *testing.T) {
	body := "subject\n\nbody line one\nbody line two\nSTG_PATCH:\n"
	assert.Equal(t, "subject\n\nbody line one\nbody line two", parse(body))
}

func TestSelectEditorPrefersConfigOverEnv(t *testing.T) {
	t.Setenv("GIT_EDITOR", "from-env")
	fake := gittest.New()
	fake.Config["stgit.editor"] = "from-config"
	assert.Equal(t, "from-config", selectEditor(context.Background(), fake))
}

func TestSelectEditorFallsBackThroughEnvChain(t *testing.T) {
	t.Setenv("GIT_EDITOR", "")
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", "from-editor")
	fake := gittest.New()
	assert.Equal(t, "from-editor", selectEditor(context.Background(), fake))
}

func TestSelectEditorDefaultsToVi(t *testing.T) {
	t.Setenv("GIT_EDITOR", "")
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", "")
	fake := gittest.New()
	assert.Equal(t, "vi", selectEditor(context.Background(), fake))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
