// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package editor implements EditorGateway (spec.md §4.G): round-trips
// a patch description through the user's external editor, using the
// same STG:-comment-block convention git itself uses for commit
// messages (COMMIT_EDITMSG's "# Please enter the commit message...").
//
// Grounded on stgit/commands/common.py's launch_editor family and on
// the teacher's own external-process invocation style in
// jjvcs.Client (exec.Command plus stdio wired to the controlling
// terminal).
package editor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chucklever/stgit/internal/gitbackend"
)

const (
	commentPrefix = "STG:"
	endMarker     = "STG_PATCH:"
)

// Request describes one editor round-trip.
type Request struct {
	Description string
	Comments    []string // extra STG:-prefixed hint lines, e.g. usage help
	PatchPreview []byte  // optional diff shown below the STG_PATCH: marker
}

// Edit writes the message file (".stgit.msg" in workDir, per spec.md §6),
// invokes the configured editor on it, parses the result back into a
// description, and removes the temp file on every exit path.
func Edit(ctx context.Context, backend gitbackend.Backend, workDir string, req Request) (string, error) {
	path := workDir + "/.stgit.msg"
	if err := os.WriteFile(path, []byte(render(req)), 0o644); err != nil {
		return "", err
	}
	defer os.Remove(path)

	ed := selectEditor(ctx, backend)
	cmd := exec.CommandContext(ctx, "sh", "-c", ed+` "$1"`, "--", path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("editor %q failed: %w", ed, err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return parse(string(edited)), nil
}

func render(req Request) string {
	var b strings.Builder
	b.WriteString(req.Description)
	if !strings.HasSuffix(req.Description, "\n") {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	for _, c := range req.Comments {
		fmt.Fprintf(&b, "%s %s\n", commentPrefix, c)
	}
	fmt.Fprintf(&b, "%s\n", endMarker)
	if len(req.PatchPreview) > 0 {
		b.Write(req.PatchPreview)
	}
	return b.String()
}

// parse implements spec.md §4.G's post-edit reduction: drop STG: lines
// through STG_PATCH:, drop everything after it, trim trailing blanks.
func parse(body string) string {
	sc := bufio.NewScanner(strings.NewReader(body))
	var kept []string
	pastMarker := false
	for sc.Scan() {
		if pastMarker {
			break
		}
		line := sc.Text()
		if line == endMarker {
			pastMarker = true
			continue
		}
		if strings.HasPrefix(line, commentPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	result := strings.Join(kept, "\n")
	return strings.TrimRight(result, "\n")
}

// selectEditor implements spec.md §4.G's lookup order: stgit.editor →
// GIT_EDITOR → VISUAL → EDITOR → vi.
func selectEditor(ctx context.Context, backend gitbackend.Backend) string {
	if v, ok, err := backend.ConfigGet(ctx, "stgit.editor"); err == nil && ok && v != "" {
		return v
	}
	for _, env := range []string{"GIT_EDITOR", "VISUAL", "EDITOR"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "vi"
}
