// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package parser implements PatchParser (spec.md §4.D): turning a raw
// byte buffer — a plain diff, a mail message, an mbox, a quilt series,
// or a tar archive of the same — into one or more ParsedPatch values
// for ImportEngine to turn into commits.
//
// Grounded on stgit/commands/imprt.py's __import_file/__import_series/
// __import_mail/__import_tarfile, restructured from a sequence of
// command-driven helpers into a single format-sniffing entry point, in
// the style of tangled.sh's patchutil.IsPatchValid/ExtractPatches
// (github.com/bluekeyes/go-gitdiff), which does the same kind of
// header sniffing before handing a buffer to gitdiff.Parse.
package parser

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// Hint tells Parse what kind of buffer it's looking at. HintAuto makes
// it sniff.
type Hint int

const (
	HintAuto Hint = iota
	HintPlainDiff
	HintMail
	HintMbox
	HintSeries
	HintTar
)

// ParsedPatch is one (metadata, diff) tuple pulled out of an import
// source (spec.md §4.D).
type ParsedPatch struct {
	DefaultName string
	Description string
	Author      string
	Email       string
	Date        string
	Strip       int
	Diff        []byte
}

var seriesStripRE = regexp.MustCompile(`^(?P<file>.*\S)\s+-p\s*(?P<strip>(\d+|ab)?)\s*$`)

// Parse dispatches on hint (sniffing the buffer when hint is
// HintAuto) and returns every patch it found, in source order.
func Parse(ctx context.Context, backend gitbackend.Backend, buf []byte, hint Hint, opts Options) ([]ParsedPatch, error) {
	buf, wasCompressed, err := decompress(buf)
	if err != nil {
		return nil, err
	}

	if hint == HintAuto {
		hint = sniff(buf)
	}

	switch hint {
	case HintTar:
		return parseTar(ctx, backend, buf, opts)
	case HintSeries:
		return parseSeries(ctx, backend, buf, opts.SeriesDir, opts)
	case HintMbox:
		return parseMailBuffer(ctx, backend, buf, gitbackend.MailsplitOptions{KeepCR: opts.KeepCR, Mbox: true})
	case HintMail:
		return parseMailBuffer(ctx, backend, buf, gitbackend.MailsplitOptions{KeepCR: opts.KeepCR})
	default:
		p, err := parsePlainDiff(buf)
		if err != nil {
			return nil, err
		}
		if wasCompressed {
			p.DefaultName = stripCompressionExt(p.DefaultName)
		}
		return []ParsedPatch{p}, nil
	}
}

// Options carries the bits of import command-line state the parser
// needs but doesn't own (spec.md §4.D naming / series notes).
type Options struct {
	KeepCR    bool
	SeriesDir string // directory series-file paths are resolved relative to
}

// decompress transparently unwraps gzip or bzip2 framing (spec.md §4.D
// step 1). Returns the (possibly unchanged) buffer and whether it was
// compressed.
func decompress(buf []byte) ([]byte, bool, error) {
	switch {
	case len(buf) >= 2 && buf[0] == 0x1F && buf[1] == 0x8B:
		zr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, false, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, false, fmt.Errorf("gzip: %w", err)
		}
		return out, true, nil
	case len(buf) >= 3 && buf[0] == 'B' && buf[1] == 'Z' && buf[2] == 'h':
		out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(buf)))
		if err != nil {
			return nil, false, fmt.Errorf("bzip2: %w", err)
		}
		return out, true, nil
	default:
		return buf, false, nil
	}
}

func stripCompressionExt(name string) string {
	for _, ext := range []string{".gz", ".bz2"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// diffHeaderPrefixes lists the handful of line prefixes that identify a
// unified diff even with no "---" description separator, per
// tangled.sh's patchutil.IsPatchValid sniffing.
var diffHeaderPrefixes = []string{"diff --git", "--- ", "+++ ", "Index: "}

func sniff(buf []byte) Hint {
	trimmed := bytes.TrimLeft(buf, "\r\n")
	firstLine, _, _ := bytes.Cut(trimmed, []byte("\n"))
	line := string(firstLine)
	if strings.HasPrefix(line, "From ") && strings.Contains(line, "Mon Sep 17 00:00:00 2001") {
		return HintMbox
	}
	if strings.HasPrefix(line, "From:") || strings.HasPrefix(line, "Subject:") {
		return HintMail
	}
	return HintPlainDiff
}

// parsePlainDiff implements spec.md §4.D step 2.
func parsePlainDiff(buf []byte) (ParsedPatch, error) {
	text := string(buf)
	lines := strings.Split(text, "\n")
	sepIdx := -1
	for i, l := range lines {
		if l == "---" {
			sepIdx = i
			break
		}
	}
	if sepIdx < 0 {
		for _, prefix := range diffHeaderPrefixes {
			if strings.HasPrefix(text, prefix) {
				return ParsedPatch{Diff: buf}, nil
			}
		}
		return ParsedPatch{Diff: buf}, nil
	}
	descrLines := lines[:sepIdx]
	diff := strings.Join(lines[sepIdx+1:], "\n")
	pp := ParsedPatch{
		Description: strings.TrimRight(strings.Join(descrLines, "\n"), "\n"),
		Diff:        []byte(diff),
	}
	pp.DefaultName = sniffDefaultName(diff)
	return pp, nil
}

// sniffDefaultName validates the diff with gitdiff.Parse (grounded on
// tangled.sh's patchutil.IsPatchValid, which runs every candidate patch
// through the same parser before trusting it) and, on success, derives a
// default patch name from the first file it touches. A diff gitdiff can't
// parse isn't rejected here — git apply gets the final say — so parse
// failures just mean no name hint.
func sniffDefaultName(diff string) string {
	files, _, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil || len(files) == 0 {
		return ""
	}
	return path.Base(bestName(files[0]))
}

func bestName(f *gitdiff.File) string {
	if f.IsDelete {
		return f.OldName
	}
	return f.NewName
}

// parseMailBuffer implements spec.md §4.D steps 3-4, delegating the
// heavy lifting to GitBackend.Mailsplit/Mailinfo.
func parseMailBuffer(ctx context.Context, backend gitbackend.Backend, buf []byte, opts gitbackend.MailsplitOptions) ([]ParsedPatch, error) {
	tmpDir, err := os.MkdirTemp("", "stg-mail-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	count, err := backend.Mailsplit(ctx, buf, tmpDir, opts)
	if err != nil {
		return nil, stgerrors.New(stgerrors.ExternalToolFailed, err).WithStep("mailsplit")
	}

	out := make([]ParsedPatch, 0, count)
	for n := 1; n <= count; n++ {
		name := fmt.Sprintf("%04d", n)
		raw, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			return nil, err
		}
		mi, err := backend.Mailinfo(ctx, raw)
		if err != nil {
			return nil, stgerrors.New(stgerrors.ExternalToolFailed, err).WithStep("mailinfo")
		}
		out = append(out, ParsedPatch{
			Description: strings.TrimRight(mi.Subject+"\n\n"+mi.Body, "\n"),
			Author:      mi.Author,
			Email:       mi.Email,
			Date:        mi.Date,
			Diff:        mi.Patch,
		})
	}
	return out, nil
}

// parseSeries implements spec.md §4.D step 5: one patch filename per
// line, '#' comments, optional "-pN" strip-level suffix.
func parseSeries(ctx context.Context, backend gitbackend.Backend, buf []byte, dir string, opts Options) ([]ParsedPatch, error) {
	var out []ParsedPatch
	sc := bufio.NewScanner(bytes.NewReader(buf))
	for sc.Scan() {
		line := sc.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		strip := 1
		filename := line
		if m := seriesStripRE.FindStringSubmatch(line); m != nil {
			filename = strings.TrimSpace(m[1])
			lvl := m[2]
			if lvl != "0" {
				return nil, stgerrors.New(stgerrors.UnsupportedStripLevel,
					fmt.Errorf("series patch %q has unsupported strip level -p%s", filename, lvl))
			}
			strip = 0
		}

		resolved := filename
		if dir != "" {
			joined, err := securejoin.SecureJoin(dir, filename)
			if err != nil {
				return nil, stgerrors.New(stgerrors.UnsafeArchive, err)
			}
			resolved = joined
		}
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return nil, err
		}
		raw, wasCompressed, err := decompress(raw)
		if err != nil {
			return nil, err
		}

		entryName := strings.ReplaceAll(filename, "/", "-")
		var entry ParsedPatch
		if sniff(raw) == HintMail {
			mails, err := parseMailBuffer(ctx, backend, raw, gitbackend.MailsplitOptions{KeepCR: opts.KeepCR, Mbox: true})
			if err != nil {
				return nil, err
			}
			for i := range mails {
				mails[i].Strip = strip
				out = append(out, mails[i])
			}
			continue
		}
		entry, err = parsePlainDiff(raw)
		if err != nil {
			return nil, err
		}
		if wasCompressed {
			entryName = stripCompressionExt(entryName)
		}
		entry.DefaultName = entryName
		entry.Strip = strip
		out = append(out, entry)
		continue
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseTar implements spec.md §4.D step 6: an archive must contain a
// "series" file and no unsafe paths, extracted to scratch then handled
// as a series.
func parseTar(ctx context.Context, backend gitbackend.Backend, buf []byte, opts Options) ([]ParsedPatch, error) {
	tmpDir, err := os.MkdirTemp("", "stg-tar-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	tr := tar.NewReader(bytes.NewReader(buf))
	var seriesPath string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		if strings.HasPrefix(hdr.Name, "/") || strings.Contains(hdr.Name, "..") {
			return nil, stgerrors.New(stgerrors.UnsafeArchive, fmt.Errorf("unsafe path in archive: %s", hdr.Name))
		}
		dest, err := securejoin.SecureJoin(tmpDir, hdr.Name)
		if err != nil {
			return nil, stgerrors.New(stgerrors.UnsafeArchive, err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return nil, err
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return nil, err
			}
			f.Close()
		}
		base := path.Base(hdr.Name)
		if base == "series" {
			seriesPath = dest
		}
	}
	if seriesPath == "" {
		return nil, stgerrors.New(stgerrors.UnsafeArchive, fmt.Errorf("no 'series' file found in archive"))
	}
	raw, err := os.ReadFile(seriesPath)
	if err != nil {
		return nil, err
	}
	o := opts
	o.SeriesDir = filepath.Dir(seriesPath)
	return parseSeries(ctx, backend, raw, o.SeriesDir, o)
}
