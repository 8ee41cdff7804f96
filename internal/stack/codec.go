// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package stack

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/patch"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// Codec persists State to/from the on-disk layout spec.md §6
// describes: plain-text list/field files under <ctrlDir>/patches/<branch>/
// plus two families of real refs (refs/bases/<branch>,
// refs/patches/<branch>/<name>) read and written through Backend.
type Codec struct {
	CtrlDir string
	Backend gitbackend.Backend
}

func (c *Codec) seriesDir(branch string) string { return filepath.Join(c.CtrlDir, "patches", branch) }
func (c *Codec) patchesDir(branch string) string {
	return filepath.Join(c.seriesDir(branch), "patches")
}
func (c *Codec) patchDir(branch, name string) string {
	return filepath.Join(c.patchesDir(branch), name)
}
func (c *Codec) appliedFile(branch string) string   { return filepath.Join(c.seriesDir(branch), "applied") }
func (c *Codec) unappliedFile(branch string) string { return filepath.Join(c.seriesDir(branch), "unapplied") }
func (c *Codec) hiddenFile(branch string) string    { return filepath.Join(c.seriesDir(branch), "hidden") }
func (c *Codec) currentFile(branch string) string   { return filepath.Join(c.seriesDir(branch), "current") }
func (c *Codec) descrFile(branch string) string     { return filepath.Join(c.seriesDir(branch), "description") }
func (c *Codec) protectedFile(branch string) string { return filepath.Join(c.seriesDir(branch), "protected") }

func baseRef(branch string) string           { return "refs/bases/" + branch }
func patchTopRef(branch, name string) string { return "refs/patches/" + branch + "/" + name }
func lockRef(branch string) string           { return "refs/patches/" + branch + "/.stgit-lock" }

// IsInitialised reports whether branch has an on-disk stack.
func (c *Codec) IsInitialised(branch string) bool {
	fi, err := os.Stat(c.patchesDir(branch))
	return err == nil && fi.IsDir()
}

// Init creates an empty, on-disk-initialised stack for branch at base.
func (c *Codec) Init(ctx context.Context, branch, base string) (*State, error) {
	if c.IsInitialised(branch) {
		return nil, stgerrors.New(stgerrors.StackInvariantWouldBreak, fmt.Errorf("branch %q already initialised", branch))
	}
	if err := os.MkdirAll(c.patchesDir(branch), 0o755); err != nil {
		return nil, err
	}
	for _, f := range []string{c.appliedFile(branch), c.unappliedFile(branch), c.hiddenFile(branch), c.descrFile(branch)} {
		if err := writeLines(f, nil); err != nil {
			return nil, err
		}
	}
	if err := writeLines(c.currentFile(branch), []string{""}); err != nil {
		return nil, err
	}
	if err := c.Backend.UpdateRef(ctx, baseRef(branch), base, "", false); err != nil {
		return nil, err
	}
	return New(branch, base), nil
}

// Load reads branch's on-disk state into memory (spec.md §4.C load).
func (c *Codec) Load(ctx context.Context, branch string) (*State, error) {
	if !c.IsInitialised(branch) {
		return nil, stgerrors.New(stgerrors.NotInitialised, nil)
	}
	base, ok, err := c.Backend.Resolve(ctx, baseRef(branch))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, stgerrors.New(stgerrors.NotInitialised, fmt.Errorf("missing %s", baseRef(branch)))
	}
	applied, err := readLines(c.appliedFile(branch))
	if err != nil {
		return nil, err
	}
	unapplied, err := readLines(c.unappliedFile(branch))
	if err != nil {
		return nil, err
	}
	hidden, err := readLines(c.hiddenFile(branch))
	if err != nil {
		return nil, err
	}
	currentLines, err := readLines(c.currentFile(branch))
	if err != nil {
		return nil, err
	}
	current := ""
	if len(currentLines) > 0 {
		current = currentLines[0]
	}
	s := New(branch, base)
	s.Applied = applied
	s.Unapplied = unapplied
	s.Hidden = hidden
	s.Current = current
	if _, err := os.Stat(c.protectedFile(branch)); err == nil {
		s.Protected = true
	}
	for _, n := range append(append(append([]string{}, applied...), unapplied...), hidden...) {
		rec, err := c.loadPatch(ctx, branch, n)
		if err != nil {
			return nil, fmt.Errorf("loading patch %q: %w", n, err)
		}
		s.Patches[n] = rec
	}
	return s, nil
}

func (c *Codec) loadPatch(ctx context.Context, branch, name string) (*patch.Record, error) {
	dir := c.patchDir(branch, name)
	bottom, err := readField(filepath.Join(dir, "bottom"))
	if err != nil {
		return nil, err
	}
	top, err := readField(filepath.Join(dir, "top"))
	if err != nil {
		return nil, err
	}
	descr, err := readMultilineField(filepath.Join(dir, "description"))
	if err != nil {
		return nil, err
	}
	authname, _ := readField(filepath.Join(dir, "authname"))
	authemail, _ := readField(filepath.Join(dir, "authemail"))
	authdate, _ := readField(filepath.Join(dir, "authdate"))
	commname, _ := readField(filepath.Join(dir, "commname"))
	commemail, _ := readField(filepath.Join(dir, "commemail"))

	commdate, _ := readField(filepath.Join(dir, "commdate"))
	rec := patch.New(name, bottom,
		patch.Person{Name: authname, Email: authemail, Date: authdate},
		patch.Person{Name: commname, Email: commemail, Date: commdate},
		descr)

	oldBottom, errB := readField(filepath.Join(dir, "bottom.old"))
	oldTop, errT := readField(filepath.Join(dir, "top.old"))
	if errB == nil && errT == nil && oldBottom != "" && oldTop != "" {
		// Stamp the undo slot first, then the live boundary with
		// backup=true so the record ends up with both: live = (bottom,
		// top), undo slot = (oldBottom, oldTop).
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: oldBottom, Top: oldTop}, false)
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: bottom, Top: top}, true)
	} else {
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: bottom, Top: top}, false)
	}
	return rec, nil
}

// SavePatch atomically (re)writes one patch's metadata files and its
// refs/patches/<branch>/<name> ref. Part of the Transaction commit
// phase's step (a)/(b) (spec.md §4.E).
func (c *Codec) SavePatch(ctx context.Context, branch string, r *patch.Record) error {
	dir := c.patchDir(branch, r.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeField(filepath.Join(dir, "bottom"), r.Bottom()); err != nil {
		return err
	}
	if err := writeField(filepath.Join(dir, "top"), r.Top()); err != nil {
		return err
	}
	if ob, ok := r.OldBoundary(); ok {
		if err := writeField(filepath.Join(dir, "bottom.old"), ob.Bottom); err != nil {
			return err
		}
		if err := writeField(filepath.Join(dir, "top.old"), ob.Top); err != nil {
			return err
		}
	} else {
		os.Remove(filepath.Join(dir, "bottom.old"))
		os.Remove(filepath.Join(dir, "top.old"))
	}
	if err := writeMultilineField(filepath.Join(dir, "description"), r.Description()); err != nil {
		return err
	}
	a, cm := r.Author(), r.Committer()
	for name, val := range map[string]string{
		"authname": a.Name, "authemail": a.Email, "authdate": a.Date,
		"commname": cm.Name, "commemail": cm.Email, "commdate": cm.Date,
	} {
		if err := writeField(filepath.Join(dir, name), val); err != nil {
			return err
		}
	}
	old, hasOld, err := c.Backend.Resolve(ctx, patchTopRef(branch, r.Name()))
	if err != nil {
		return err
	}
	return c.Backend.UpdateRef(ctx, patchTopRef(branch, r.Name()), r.Top(), old, hasOld)
}

// DeletePatch removes a patch's metadata directory and ref. Part of
// commit phase step (c).
func (c *Codec) DeletePatch(ctx context.Context, branch, name string) error {
	if err := os.RemoveAll(c.patchDir(branch, name)); err != nil {
		return err
	}
	return c.Backend.DeleteRef(ctx, patchTopRef(branch, name))
}

// SaveLists rewrites applied/unapplied/hidden/current. Part of commit
// phase step (d).
func (c *Codec) SaveLists(branch string, s *State) error {
	if err := writeLines(c.appliedFile(branch), s.Applied); err != nil {
		return err
	}
	if err := writeLines(c.unappliedFile(branch), s.Unapplied); err != nil {
		return err
	}
	if err := writeLines(c.hiddenFile(branch), s.Hidden); err != nil {
		return err
	}
	return writeLines(c.currentFile(branch), []string{s.Current})
}

// SaveBase updates refs/bases/<branch> with compare-and-set against
// the value snapshotted when the transaction opened.
func (c *Codec) SaveBase(ctx context.Context, branch, newBase, expectedOld string) error {
	return c.Backend.UpdateRef(ctx, baseRef(branch), newBase, expectedOld, true)
}

// Snapshot returns an opaque fingerprint of branch's on-disk state,
// used by Transaction to detect concurrent modification (spec.md §4.E
// step 2, §8 S6).
func (c *Codec) Snapshot(branch string) (string, error) {
	var b strings.Builder
	for _, f := range []string{c.appliedFile(branch), c.unappliedFile(branch), c.hiddenFile(branch), c.currentFile(branch)} {
		data, err := os.ReadFile(f)
		if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		fmt.Fprintf(&b, "%s\x00%x\x00", f, data)
	}
	return b.String(), nil
}

// --- plain-text file helpers, newline-terminated, tolerant of
// trailing blank lines on read (spec.md §4.C). ---

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return atomicWrite(path, b.String())
}

func readField(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func writeField(path, value string) error {
	if value == "" {
		os.Remove(path)
		return nil
	}
	return atomicWrite(path, value+"\n")
}

func readMultilineField(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func writeMultilineField(path, value string) error {
	if value == "" {
		os.Remove(path)
		return nil
	}
	return atomicWrite(path, strings.TrimRight(value, "\n")+"\n")
}

// atomicWrite writes via temp-file + rename, per spec.md §4.C's note
// that per-patch directories may be written atomically this way.
func atomicWrite(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
