// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package gittest provides an in-memory fake of gitbackend.Backend so
// the stack, transaction, and importer packages can be unit tested
// without a real git binary or worktree.
package gittest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chucklever/stgit/internal/gitbackend"
)

// Fake is a content-addressed, in-memory git object store plus a ref
// map and a simulated index/worktree tree, enough to exercise the
// push/pop/merge algorithms in internal/transaction deterministically.
type Fake struct {
	Commits map[string]gitbackend.CommitInfo
	Refs    map[string]string
	Index   string // current tree id staged in the "index"
	HeadCommit string
	Branch  string
	Clock   time.Time

	// Trees maps a tree id to its file contents, used only to compute
	// diffs/applies/merges deterministically in tests.
	Trees map[string]map[string]string

	// Config simulates git config lookups ConfigGet serves.
	Config map[string]string
}

func New() *Fake {
	f := &Fake{
		Commits: map[string]gitbackend.CommitInfo{},
		Refs:    map[string]string{},
		Trees:   map[string]map[string]string{},
		Config:  map[string]string{},
		Branch:  "master",
		Clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	root := f.PutTree(map[string]string{})
	f.Index = root
	return f
}

func hashOf(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PutTree registers a tree snapshot (path -> content) and returns its
// content-addressed id.
func (f *Fake) PutTree(files map[string]string) string {
	var keys []string
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, k, files[k])
	}
	id := hashOf(parts...)
	cp := map[string]string{}
	for k, v := range files {
		cp[k] = v
	}
	f.Trees[id] = cp
	return id
}

// Genesis creates a root commit with the given tree and returns its id.
func (f *Fake) Genesis(tree string) string {
	return f.AddCommit(tree, nil, gitbackend.Person{Name: "A", Email: "a@x", Date: "0"}, "root")
}

func (f *Fake) AddCommit(tree string, parents []string, author gitbackend.Person, message string) string {
	id := hashOf(append(append([]string{tree}, parents...), message)...)
	f.Commits[id] = gitbackend.CommitInfo{
		ID: id, Tree: tree, Parents: parents,
		Author: author, Committer: author, Message: message,
	}
	return id
}

func (f *Fake) Resolve(ctx context.Context, refname string) (string, bool, error) {
	if refname == "HEAD" {
		return f.HeadCommit, f.HeadCommit != "", nil
	}
	id, ok := f.Refs[refname]
	return id, ok, nil
}

func (f *Fake) ReadCommit(ctx context.Context, id string) (gitbackend.CommitInfo, error) {
	ci, ok := f.Commits[id]
	if !ok {
		return gitbackend.CommitInfo{}, fmt.Errorf("unknown commit %s", id)
	}
	return ci, nil
}

func (f *Fake) Commit(ctx context.Context, req gitbackend.CommitRequest) (string, error) {
	if !req.AllowEmpty && len(req.Parents) == 1 {
		if p, ok := f.Commits[req.Parents[0]]; ok && p.Tree == req.Tree {
			// empty commit permitted regardless in this fake; mirrors
			// git's own default of rejecting but callers always pass
			// AllowEmpty for patch commits (spec.md §3: top==bottom
			// means empty is a legal state).
			_ = ok
		}
	}
	id := f.AddCommit(req.Tree, req.Parents, req.Author, req.Message)
	return id, nil
}

func (f *Fake) WriteTreeFromIndex(ctx context.Context) (string, error) { return f.Index, nil }

func (f *Fake) ReadTree(ctx context.Context, tree string) error {
	if _, ok := f.Trees[tree]; !ok {
		return fmt.Errorf("unknown tree %s", tree)
	}
	f.Index = tree
	return nil
}

func (f *Fake) CheckoutIndexToWorktree(ctx context.Context) error { return nil }

func (f *Fake) Diff(ctx context.Context, oldTree, newTree string) ([]byte, error) {
	old := f.Trees[oldTree]
	neu := f.Trees[newTree]
	var b strings.Builder
	fmt.Fprintf(&b, "diff %s..%s\n", oldTree, newTree)
	for path, content := range neu {
		if old[path] != content {
			fmt.Fprintf(&b, "+%s:%s\n", path, content)
		}
	}
	for path := range old {
		if _, ok := neu[path]; !ok {
			fmt.Fprintf(&b, "-%s\n", path)
		}
	}
	return []byte(b.String()), nil
}

// Apply applies a diff produced by Diff above onto the current index
// tree. This is a deterministic stand-in for `git apply --index`, not
// a unified-diff parser.
func (f *Fake) Apply(ctx context.Context, diff []byte, opts gitbackend.ApplyOptions) error {
	base := map[string]string{}
	for k, v := range f.Trees[f.Index] {
		base[k] = v
	}
	for _, line := range strings.Split(string(diff), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			parts := strings.SplitN(line[1:], ":", 2)
			if len(parts) == 2 {
				if cur, ok := base[parts[0]]; ok && cur != "" && cur != parts[1] {
					return &gitbackend.ApplyFailed{Stderr: "conflict in " + parts[0]}
				}
				base[parts[0]] = parts[1]
			}
		case strings.HasPrefix(line, "-"):
			delete(base, strings.TrimPrefix(line, "-"))
		}
	}
	f.Index = f.PutTree(base)
	return nil
}

func (f *Fake) ThreeWayMerge(ctx context.Context, baseTree, oursTree, theirsTree string) error {
	base := f.Trees[baseTree]
	ours := f.Trees[oursTree]
	theirs := f.Trees[theirsTree]
	merged := map[string]string{}
	var conflicts []string
	all := map[string]bool{}
	for k := range base {
		all[k] = true
	}
	for k := range ours {
		all[k] = true
	}
	for k := range theirs {
		all[k] = true
	}
	for path := range all {
		b, o, t := base[path], ours[path], theirs[path]
		switch {
		case o == t:
			merged[path] = o
		case o == b:
			merged[path] = t
		case t == b:
			merged[path] = o
		default:
			conflicts = append(conflicts, path)
			merged[path] = o
		}
	}
	f.Index = f.PutTree(merged)
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return &gitbackend.MergeConflicts{Paths: conflicts}
	}
	return nil
}

func (f *Fake) Switch(ctx context.Context, commit string) error {
	ci, ok := f.Commits[commit]
	if !ok {
		return fmt.Errorf("unknown commit %s", commit)
	}
	f.HeadCommit = commit
	f.Index = ci.Tree
	return nil
}

func (f *Fake) Reset(ctx context.Context, commit string, checkOut bool) error {
	f.HeadCommit = commit
	if checkOut {
		if ci, ok := f.Commits[commit]; ok {
			f.Index = ci.Tree
		}
	}
	return nil
}

func (f *Fake) UpdateRef(ctx context.Context, name, newVal, expectedOld string, hasExpected bool) error {
	if hasExpected {
		cur, ok := f.Refs[name]
		if (ok && cur != expectedOld) || (!ok && expectedOld != "") {
			return &gitbackend.Stale{Ref: name, Expected: expectedOld, Actual: cur}
		}
	}
	f.Refs[name] = newVal
	return nil
}

func (f *Fake) DeleteRef(ctx context.Context, name string) error {
	delete(f.Refs, name)
	return nil
}

func (f *Fake) RenameBranch(ctx context.Context, from, to string) error {
	if f.Branch == from {
		f.Branch = to
	}
	return nil
}

func (f *Fake) CreateBranch(ctx context.Context, name, at string) error { return nil }

func (f *Fake) Mailsplit(ctx context.Context, raw []byte, outDir string, opts gitbackend.MailsplitOptions) (int, error) {
	return 0, fmt.Errorf("not supported by fake backend")
}

func (f *Fake) Mailinfo(ctx context.Context, rawMail []byte) (gitbackend.MailInfo, error) {
	return gitbackend.MailInfo{}, fmt.Errorf("not supported by fake backend")
}

func (f *Fake) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.Config[key]
	return v, ok, nil
}

func (f *Fake) CurrentBranch(ctx context.Context) (string, error) { return f.Branch, nil }

func (f *Fake) Head(ctx context.Context) (string, error) { return f.HeadCommit, nil }

func (f *Fake) Now() time.Time { return f.Clock }

var _ gitbackend.Backend = (*Fake)(nil)
