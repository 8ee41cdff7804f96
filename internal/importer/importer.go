// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package importer implements ImportEngine (spec.md §4.F): it wires
// a parser.Parse result into a transaction.Transaction, deriving final
// patch names, applying diffs onto the current stack top, and staging
// the result — one new applied patch per ParsedPatch.
//
// Grounded on stgit/commands/imprt.py's __create_patch, restructured
// so the naming/collision/empty-patch-fallback policy that function
// inlines becomes its own pass over parser.ParsedPatch values feeding
// a transaction.Transaction, instead of being interleaved with
// file-handle and CLI-option plumbing.
package importer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/parser"
	"github.com/chucklever/stgit/internal/patch"
	"github.com/chucklever/stgit/internal/stgerrors"
	"github.com/chucklever/stgit/internal/transaction"
)

// Options configures one import run (spec.md §4.D naming policy, §4.F
// steps b/c/e).
type Options struct {
	Name        string // --name, overrides all derivation
	StripName   bool   // --stripname
	Ignore      bool   // --ignore: skip patches already applied
	Replace     bool   // --replace: replace same-named unapplied patches
	Reject      bool   // --reject: write .rej files instead of an empty patch
	Strip       int    // -p: leading path components to strip (-1 = use parser default)
	Author      patch.Person
	Committer   patch.Person
}

var (
	numberPrefixRE = regexp.MustCompile(`^[0-9]+-`)
	extSuffixRE    = regexp.MustCompile(`(?i)\.(diff|patch)$`)
	invalidCharsRE = regexp.MustCompile(`[^\w.]+`)
	runDashRE      = regexp.MustCompile(`-{2,}`)
)

// stripPatchName implements imprt.py's __strip_patch_name.
func stripPatchName(name string) string {
	name = numberPrefixRE.ReplaceAllString(name, "")
	name = extSuffixRE.ReplaceAllString(name, "")
	return name
}

// sanitizeName implements imprt.py's re.sub(r'[^\w.]+', '-', name).strip('-').
func sanitizeName(name string) string {
	name = invalidCharsRE.ReplaceAllString(name, "-")
	name = runDashRE.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}

// heuristicName derives a name from a description's subject line when
// nothing else is available, per spec.md §4.D naming policy.
func heuristicName(description string) string {
	subject, _, _ := strings.Cut(strings.TrimSpace(description), "\n")
	name := sanitizeName(strings.ToLower(subject))
	if name == "" {
		return "patch"
	}
	if len(name) > 52 {
		name = strings.Trim(name[:52], "-")
	}
	return name
}

// deriveName applies spec.md §4.D's naming policy: --name, else
// ParsedPatch.DefaultName, else a heuristic from the description; then
// stripname, sanitization, and collision resolution.
func deriveName(pp parser.ParsedPatch, opts Options, taken func(string) bool) (string, bool) {
	name := opts.Name
	if name == "" {
		name = pp.DefaultName
	}
	if name == "" {
		name = heuristicName(pp.Description)
	}
	if opts.StripName {
		name = stripPatchName(name)
	}
	name = sanitizeName(name)
	if name == "" {
		name = heuristicName(pp.Description)
	}
	if !taken(name) {
		return name, true
	}
	if opts.Ignore {
		return name, false
	}
	if opts.Replace {
		return name, true
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", name, n)
		if !taken(candidate) {
			return candidate, true
		}
	}
}

// Import runs the full ImportEngine algorithm (spec.md §4.F) against
// an already-open Transaction, staging one applied patch per
// ParsedPatch and leaving commit() to the caller.
func Import(ctx context.Context, txn *transaction.Transaction, backend gitbackend.Backend, patches []parser.ParsedPatch, opts Options, workDir string) error {
	for _, pp := range patches {
		name, keep := deriveName(pp, opts, func(n string) bool {
			_, _, ok := txn.Staged().Position(n)
			return ok
		})
		if !keep {
			continue // --ignore: already applied, skip silently
		}

		if opts.Replace && txn.Staged().IsUnapplied(name) {
			if err := txn.Delete(ctx, name); err != nil {
				return err
			}
		}
		if opts.Ignore && txn.Staged().IsApplied(name) {
			continue
		}

		head, err := backend.Head(ctx)
		if err != nil {
			return err
		}
		headInfo, err := backend.ReadCommit(ctx, head)
		if err != nil {
			return err
		}

		tree, err := applyOntoTop(ctx, backend, pp, opts, headInfo.Tree, workDir)
		if err != nil {
			return err
		}

		author := opts.Author
		if pp.Author != "" {
			author = patch.Person{Name: pp.Author, Email: pp.Email, Date: pp.Date}
		}
		committer := opts.Committer

		commit, err := backend.Commit(ctx, gitbackend.CommitRequest{
			Tree:       tree,
			Parents:    []string{head},
			Author:     gitbackend.Person{Name: author.Name, Email: author.Email, Date: author.Date},
			Committer:  gitbackend.Person{Name: committer.Name, Email: committer.Email, Date: committer.Date},
			Message:    pp.Description,
			AllowEmpty: true,
		})
		if err != nil {
			return err
		}

		rec := patch.New(name, commit, author, committer, pp.Description)
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: head, Top: commit}, false)
		txn.Staged().Patches[name] = rec
		txn.Staged().Unapplied = append(txn.Staged().Unapplied, name)
		if err := txn.Push(ctx, name, false); err != nil {
			if _, halted := txn.Halted(); !halted {
				return stgerrors.New(stgerrors.ApplyFailed, err).WithPatch(name)
			}
		}
	}
	return nil
}

// applyOntoTop applies a ParsedPatch's diff onto a fresh check-out of
// headTree and returns the resulting tree, implementing spec.md §4.F
// step c's reject/empty-patch failure policy. A patch with no diff at
// all (an explicit empty patch) returns headTree unchanged.
func applyOntoTop(ctx context.Context, backend gitbackend.Backend, pp parser.ParsedPatch, opts Options, headTree, workDir string) (string, error) {
	if len(pp.Diff) == 0 {
		return headTree, nil
	}
	if err := backend.ReadTree(ctx, headTree); err != nil {
		return "", err
	}
	strip := pp.Strip
	if opts.Strip >= 0 {
		strip = opts.Strip
	}
	err := backend.Apply(ctx, pp.Diff, gitbackend.ApplyOptions{Strip: strip, Reject: opts.Reject})
	if err != nil {
		if !opts.Reject {
			if workDir != "" {
				os.WriteFile(workDir+"/.stgit-failed.patch", pp.Diff, 0o644)
			}
			return headTree, nil
		}
		// --reject: .rej files were written by the backend; proceed
		// with whatever made it into the index.
	}
	return backend.WriteTreeFromIndex(ctx)
}
