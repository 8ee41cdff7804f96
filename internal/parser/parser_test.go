// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucklever/stgit/internal/gittest"
)

const samplePlainDiff = `add a greeting
---
diff --git a/hello.txt b/hello.txt
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/hello.txt
@@ -0,0 +1 @@
+hello
`

func TestParsePlainDiffSplitsDescriptionAndDerivesName(t *testing.T) {
	out, err := Parse(context.Background(), gittest.New(), []byte(samplePlainDiff), HintAuto, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "add a greeting", out[0].Description)
	assert.Equal(t, "hello.txt", out[0].DefaultName)
	assert.Contains(t, string(out[0].Diff), "diff --git a/hello.txt b/hello.txt")
}

func TestParsePlainDiffWithoutDescriptionSeparator(t *testing.T) {
	raw := []byte("diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1 +1 @@\n-old\n+new\n")
	out, err := Parse(context.Background(), gittest.New(), raw, HintAuto, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "", out[0].Description)
	assert.Equal(t, raw, out[0].Diff)
}

func TestParseSeriesResolvesFilesRelativeToDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.diff"), []byte(samplePlainDiff), 0o644))
	series := []byte("# comment\none.diff\n\n")

	out, err := parseSeries(context.Background(), gittest.New(), series, dir, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "one.diff", out[0].DefaultName)
	assert.Equal(t, 1, out[0].Strip)
}

func TestParseSeriesRejectsNonZeroStripLevel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.diff"), []byte(samplePlainDiff), 0o644))
	series := []byte("one.diff -p2\n")

	_, err := parseSeries(context.Background(), gittest.New(), series, dir, Options{})
	assert.Error(t, err)
}

func TestParseTarRejectsUnsafePaths(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape", Typeflag: tar.TypeReg, Size: 0, Mode: 0o644}))
	require.NoError(t, tw.Close())

	_, err := parseTar(context.Background(), gittest.New(), buf.Bytes(), Options{})
	assert.Error(t, err)
}

func TestParseTarRequiresSeriesFile(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("hi")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "readme", Typeflag: tar.TypeReg, Size: int64(len(content)), Mode: 0o644}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	_, err = parseTar(context.Background(), gittest.New(), buf.Bytes(), Options{})
	assert.Error(t, err)
}

func TestSniffDetectsMailAndMbox(t *testing.T) {
	assert.Equal(t, HintMbox, sniff([]byte("From a@b Mon Sep 17 00:00:00 2001\nSubject: x\n")))
	assert.Equal(t, HintMail, sniff([]byte("From: a@b\nSubject: x\n")))
	assert.Equal(t, HintPlainDiff, sniff([]byte("diff --git a/x b/x\n")))
}
