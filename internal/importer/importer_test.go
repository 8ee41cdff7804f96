// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package importer

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucklever/stgit/internal/gittest"
	"github.com/chucklever/stgit/internal/parser"
	"github.com/chucklever/stgit/internal/stack"
	"github.com/chucklever/stgit/internal/transaction"
)

func TestDeriveNameFromDefaultName(t *testing.T) {
	name, keep := deriveName(parser.ParsedPatch{DefaultName: "fix-bug.diff"}, Options{}, func(string) bool { return false })
	assert.True(t, keep)
	assert.Equal(t, "fix-bug.diff", name)
}

func TestDeriveNameStripNameRemovesNumberPrefixAndExtension(t *testing.T) {
	name, keep := deriveName(parser.ParsedPatch{DefaultName: "0001-fix-bug.patch"}, Options{StripName: true}, func(string) bool { return false })
	assert.True(t, keep)
	assert.Equal(t, "fix-bug", name)
}

func TestDeriveNameFallsBackToHeuristic(t *testing.T) {
	name, keep := deriveName(parser.ParsedPatch{Description: "Fix the Thing!\n\nlonger body"}, Options{}, func(string) bool { return false })
	assert.True(t, keep)
	assert.Equal(t, "fix-the-thing", name)
}

func TestDeriveNameCollisionAppendsSuffix(t *testing.T) {
	taken := map[string]bool{"fix": true, "fix-2": true}
	name, keep := deriveName(parser.ParsedPatch{DefaultName: "fix"}, Options{}, func(n string) bool { return taken[n] })
	assert.True(t, keep)
	assert.Equal(t, "fix-3", name)
}

func TestDeriveNameIgnoreSkipsOnCollision(t *testing.T) {
	name, keep := deriveName(parser.ParsedPatch{DefaultName: "fix"}, Options{Ignore: true}, func(n string) bool { return n == "fix" })
	assert.False(t, keep)
	assert.Equal(t, "fix", name)
}

func TestDeriveNameReplaceKeepsOriginalNameOnCollision(t *testing.T) {
	name, keep := deriveName(parser.ParsedPatch{DefaultName: "fix"}, Options{Replace: true}, func(n string) bool { return n == "fix" })
	assert.True(t, keep)
	assert.Equal(t, "fix", name)
}

func TestImportAppliesDiffAndStagesApplied(t *testing.T) {
	ctx := context.Background()
	fake := gittest.New()
	root := fake.Genesis(fake.PutTree(map[string]string{"README": "hello"}))
	fake.HeadCommit = root
	fake.Index = fake.Commits[root].Tree

	codec := &stack.Codec{CtrlDir: t.TempDir(), Backend: fake}
	_, err := codec.Init(ctx, "master", root)
	require.NoError(t, err)

	txn, err := transaction.Open(ctx, codec, fake, "master", "import", "", logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	patches := []parser.ParsedPatch{
		{DefaultName: "add-note", Description: "add a note", Diff: []byte("+NOTE:hi\n")},
	}
	err = Import(ctx, txn, fake, patches, Options{}, "")
	require.NoError(t, err)

	assert.True(t, txn.Staged().IsApplied("add-note"))
	require.NoError(t, txn.Commit(ctx))

	state, err := codec.Load(ctx, "master")
	require.NoError(t, err)
	assert.True(t, state.IsApplied("add-note"))
}
