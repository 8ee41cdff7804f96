// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package transaction implements Transaction (spec.md §4.E), the
// batched, abortable mutator over StackState. It is the centrepiece of
// the engine: every stack-modifying command (push, pop, delete,
// rename, hide, replace, reorder, import) stages its changes here and
// either commits or aborts them as one unit.
//
// Grounded on stgit/stack.py's push_patch/pop_patch/rename_patch/
// delete_patch/forward_patches/merged_patches, restructured from
// direct per-call file writes into a staged mutator whose commit phase
// does the on-disk persistence (and only the persistence) atomically,
// in the style of the teacher's pop.go/fold.go commands, which stage a
// whole sequence of jj operations behind a single op-log rollback
// point.
package transaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/lock"
	"github.com/chucklever/stgit/internal/patch"
	"github.com/chucklever/stgit/internal/stack"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// Transaction mutates one branch's StackState under an advisory lock.
// Staging operations mutate the in-memory area only; Commit persists
// it, Abort discards it.
type Transaction struct {
	backend gitbackend.Backend
	codec   *stack.Codec
	branch  string
	reason  string
	workDir string
	log     *logrus.Entry

	staged *stack.State

	diskSnapshotAtOpen string
	lockHandle         *lock.Handle

	dirty    map[string]bool // patch names with new/changed metadata to persist
	deleted  map[string]bool // patch names to remove on commit
	renamed  map[string]string // new name -> old name, for ref/dir migration

	halted *stgerrors.Error
	done   bool
}

// Open loads branch's current state, takes the advisory lock, and
// returns a Transaction ready for staging calls. workDir is the
// worktree root, used only for side files like .stgit-failed.patch
// (spec.md §6).
func Open(ctx context.Context, codec *stack.Codec, backend gitbackend.Backend, branch, reason, workDir string, log *logrus.Entry) (*Transaction, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	lh, err := lock.Acquire(ctx, backend, branch)
	if err != nil {
		return nil, err
	}
	state, err := codec.Load(ctx, branch)
	if err != nil {
		lh.Release(ctx)
		return nil, err
	}
	if state.Protected {
		lh.Release(ctx)
		return nil, stgerrors.New(stgerrors.Protected, nil)
	}
	snap, err := codec.Snapshot(branch)
	if err != nil {
		lh.Release(ctx)
		return nil, err
	}
	log = log.WithField("branch", branch).WithField("txn", reason)
	log.Debug("transaction opened")
	return &Transaction{
		backend:            backend,
		codec:              codec,
		branch:             branch,
		reason:             reason,
		workDir:            workDir,
		log:                log,
		staged:             state,
		diskSnapshotAtOpen: snap,
		lockHandle:         lh,
		dirty:              map[string]bool{},
		deleted:            map[string]bool{},
		renamed:            map[string]string{},
	}, nil
}

// Staged returns the in-progress staging area, for read-only inspection
// by the caller (e.g. a CLI command building its user-facing summary).
func (t *Transaction) Staged() *stack.State { return t.staged }

// Halted reports whether a staging call halted the transaction with a
// MergeConflict: the caller should still Commit() to persist the
// partial progress (spec.md §4.E, §7 MergeConflict).
func (t *Transaction) Halted() (*stgerrors.Error, bool) {
	return t.halted, t.halted != nil
}

func (t *Transaction) markDirty(name string)  { t.dirty[name] = true }
func (t *Transaction) head(ctx context.Context) (string, error) { return t.backend.Head(ctx) }

func (t *Transaction) moveApplied(name string, fromUnapplied bool) {
	if fromUnapplied {
		t.staged.Unapplied = removeOne(t.staged.Unapplied, name)
	} else {
		t.staged.Hidden = removeOne(t.staged.Hidden, name)
	}
	t.staged.Applied = append(t.staged.Applied, name)
	t.staged.Current = name
}

func removeOne(list []string, name string) []string {
	i := slices.Index(list, name)
	if i < 0 {
		return list
	}
	return slices.Delete(slices.Clone(list), i, i+1)
}

// writeFailedPatch writes the unapplied diff to .stgit-failed.patch in
// the worktree, per spec.md §6.
func (t *Transaction) writeFailedPatch(diff []byte) {
	if t.workDir == "" {
		return
	}
	path := filepath.Join(t.workDir, ".stgit-failed.patch")
	if err := os.WriteFile(path, diff, 0o644); err != nil {
		t.log.WithError(err).Warn("failed to write .stgit-failed.patch")
	}
}

func treeOf(ctx context.Context, b gitbackend.Backend, commit string) (string, error) {
	ci, err := b.ReadCommit(ctx, commit)
	if err != nil {
		return "", err
	}
	return ci.Tree, nil
}

// --- staging operations ---

// Push moves name from unapplied to the top of applied, implementing
// the fast-forward / reparent / three-way-merge algorithm of spec.md
// §4.E. If empty is true, an explicit empty patch is pushed regardless
// of its recorded diff (used to "skip" an already-upstreamed patch).
//
// A MergeConflict return leaves the transaction open with the conflict
// already staged as an empty applied patch; the caller should Commit
// to persist that partial state rather than Abort.
func (t *Transaction) Push(ctx context.Context, name string, empty bool) error {
	if !t.staged.IsUnapplied(name) {
		return stgerrors.New(stgerrors.UnknownPatch, fmt.Errorf("not unapplied")).WithPatch(name)
	}
	rec := t.staged.Patches[name]
	h, err := t.head(ctx)
	if err != nil {
		return err
	}
	bottom, top := rec.Bottom(), rec.Top()

	switch {
	case empty:
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: h, Top: h}, true)
		newTop, err := t.refreshCommit(ctx, rec, h)
		if err != nil {
			return err
		}
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: h, Top: newTop}, false)
		if err := t.backend.Switch(ctx, newTop); err != nil {
			return err
		}
		t.moveApplied(name, true)
		t.markDirty(name)
		return nil

	case h == bottom:
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: bottom, Top: top}, true)
		if err := t.backend.Switch(ctx, top); err != nil {
			return err
		}
		t.moveApplied(name, true)
		t.markDirty(name)
		return nil
	}

	headTree, err := treeOf(ctx, t.backend, h)
	if err != nil {
		return err
	}
	bottomTree, err := treeOf(ctx, t.backend, bottom)
	if err != nil {
		return err
	}
	if headTree == bottomTree {
		topInfo, err := t.backend.ReadCommit(ctx, top)
		if err != nil {
			return err
		}
		newTop, err := t.backend.Commit(ctx, gitbackend.CommitRequest{
			Tree: topInfo.Tree, Parents: []string{h},
			Author: toBackendPerson(rec.Author()), Committer: toBackendPerson(rec.Committer()),
			Message: rec.Description(), AllowEmpty: true,
		})
		if err != nil {
			return err
		}
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: h, Top: newTop}, true)
		if err := t.backend.Switch(ctx, newTop); err != nil {
			return err
		}
		t.moveApplied(name, true)
		t.markDirty(name)
		return nil
	}

	// Three-way merge path.
	patch.Open(rec).SetBoundary(patch.Boundary{Bottom: h, Top: h}, true)
	topTree, err := treeOf(ctx, t.backend, top)
	if err != nil {
		return err
	}
	diff, err := t.backend.Diff(ctx, bottomTree, topTree)
	if err != nil {
		return err
	}
	if err := t.backend.ReadTree(ctx, headTree); err != nil {
		return err
	}
	applyErr := t.backend.Apply(ctx, diff, gitbackend.ApplyOptions{})
	if applyErr == nil {
		tree, err := t.backend.WriteTreeFromIndex(ctx)
		if err != nil {
			return err
		}
		newTop, err := t.backend.Commit(ctx, gitbackend.CommitRequest{
			Tree: tree, Parents: []string{h},
			Author: toBackendPerson(rec.Author()), Committer: toBackendPerson(rec.Committer()),
			Message: rec.Description(), AllowEmpty: true,
		})
		if err != nil {
			return err
		}
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: h, Top: newTop}, false)
		if err := t.backend.Switch(ctx, newTop); err != nil {
			return err
		}
		t.moveApplied(name, true)
		t.markDirty(name)
		return nil
	}

	mergeErr := t.backend.ThreeWayMerge(ctx, bottomTree, headTree, topTree)
	if mergeErr == nil {
		tree, err := t.backend.WriteTreeFromIndex(ctx)
		if err != nil {
			return err
		}
		newTop, err := t.backend.Commit(ctx, gitbackend.CommitRequest{
			Tree: tree, Parents: []string{h},
			Author: toBackendPerson(rec.Author()), Committer: toBackendPerson(rec.Committer()),
			Message: rec.Description(), AllowEmpty: true,
		})
		if err != nil {
			return err
		}
		patch.Open(rec).SetBoundary(patch.Boundary{Bottom: h, Top: newTop}, false)
		if err := t.backend.Switch(ctx, newTop); err != nil {
			return err
		}
		t.moveApplied(name, true)
		t.markDirty(name)
		t.log.WithField("patch", name).Debug("pushed via three-way merge")
		return nil
	}

	// Conflict: stage the patch as applied-but-empty and halt. The
	// stack remains consistent; the caller is expected to Commit this
	// partial progress, resolve the conflict in the worktree, and
	// refresh.
	t.writeFailedPatch(diff)
	t.moveApplied(name, true)
	t.markDirty(name)
	t.halted = stgerrors.New(stgerrors.MergeConflict, mergeErr).WithPatch(name)
	return t.halted
}

// Pop moves name and every applied patch above it back to the front of
// unapplied, preserving their relative order (spec.md §4.E).
func (t *Transaction) Pop(ctx context.Context, name string) error {
	_, idx, ok := t.staged.Position(name)
	if !ok || !t.staged.IsApplied(name) {
		return stgerrors.New(stgerrors.UnknownPatch, fmt.Errorf("not applied")).WithPatch(name)
	}
	suffix := slices.Clone(t.staged.Applied[idx:])
	t.staged.Unapplied = append(suffix, t.staged.Unapplied...)
	t.staged.Applied = t.staged.Applied[:idx]

	bottom := t.staged.Patches[name].Bottom()
	if err := t.backend.Switch(ctx, bottom); err != nil {
		return err
	}
	if len(t.staged.Applied) == 0 {
		t.staged.Current = ""
	} else {
		t.staged.Current = t.staged.Applied[len(t.staged.Applied)-1]
	}
	return nil
}

// Delete removes a patch from the stack, popping it first if it is
// currently applied (mirrors stack.py's delete_patch: an applied patch
// that isn't current cannot be deleted directly).
func (t *Transaction) Delete(ctx context.Context, name string) error {
	list, _, ok := t.staged.Position(name)
	if !ok {
		return stgerrors.New(stgerrors.UnknownPatch, nil).WithPatch(name)
	}
	if list == "applied" {
		if t.staged.Current != name {
			return stgerrors.New(stgerrors.StackInvariantWouldBreak,
				fmt.Errorf("cannot delete an applied patch that is not current")).WithPatch(name)
		}
		if err := t.Pop(ctx, name); err != nil {
			return err
		}
	}
	t.staged.Unapplied = removeOne(t.staged.Unapplied, name)
	t.staged.Hidden = removeOne(t.staged.Hidden, name)
	delete(t.staged.Patches, name)
	t.deleted[name] = true
	delete(t.dirty, name)
	return nil
}

// Rename changes a patch's name in whichever list currently holds it.
func (t *Transaction) Rename(ctx context.Context, oldName, newName string) error {
	if oldName == newName {
		return stgerrors.New(stgerrors.InvalidName, fmt.Errorf("old and new name are the same"))
	}
	if !patch.ValidName(newName) {
		return stgerrors.New(stgerrors.InvalidName, nil).WithPatch(newName)
	}
	if _, _, ok := t.staged.Position(newName); ok {
		return stgerrors.New(stgerrors.NameCollision, nil).WithPatch(newName)
	}
	list, _, ok := t.staged.Position(oldName)
	if !ok {
		return stgerrors.New(stgerrors.UnknownPatch, nil).WithPatch(oldName)
	}
	rec := t.staged.Patches[oldName]
	patch.Open(rec).SetName(newName)
	delete(t.staged.Patches, oldName)
	t.staged.Patches[newName] = rec

	switch list {
	case "applied":
		replaceOne(t.staged.Applied, oldName, newName)
	case "unapplied":
		replaceOne(t.staged.Unapplied, oldName, newName)
	case "hidden":
		replaceOne(t.staged.Hidden, oldName, newName)
	}
	if t.staged.Current == oldName {
		t.staged.Current = newName
	}
	if origOld, ok := t.renamed[oldName]; ok {
		// oldName was itself the product of an earlier rename in this
		// same transaction; collapse the chain to the true original.
		t.renamed[newName] = origOld
		delete(t.renamed, oldName)
	} else {
		t.renamed[newName] = oldName
	}
	delete(t.dirty, oldName)
	t.markDirty(newName)
	return nil
}

func replaceOne(list []string, from, to string) {
	if i := slices.Index(list, from); i >= 0 {
		list[i] = to
	}
}

// Hide moves an unapplied patch to the hidden list.
func (t *Transaction) Hide(name string) error {
	if !t.staged.IsUnapplied(name) {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak,
			fmt.Errorf("only unapplied patches can be hidden")).WithPatch(name)
	}
	t.staged.Unapplied = removeOne(t.staged.Unapplied, name)
	t.staged.Hidden = append(t.staged.Hidden, name)
	return nil
}

// Unhide moves a hidden patch back to unapplied.
func (t *Transaction) Unhide(name string) error {
	if !t.staged.IsHidden(name) {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak,
			fmt.Errorf("patch is not hidden")).WithPatch(name)
	}
	t.staged.Hidden = removeOne(t.staged.Hidden, name)
	t.staged.Unapplied = append(t.staged.Unapplied, name)
	return nil
}

// Replace rebinds a patch's top to an already-created commit (for
// callers that build commits outside a Push).
func (t *Transaction) Replace(ctx context.Context, name, commit string) error {
	rec, err := t.staged.Get(name)
	if err != nil {
		return err
	}
	patch.Open(rec).SetBoundary(patch.Boundary{Bottom: rec.Bottom(), Top: commit}, true)
	if t.staged.Current == name {
		if err := t.backend.Switch(ctx, commit); err != nil {
			return err
		}
	}
	t.markDirty(name)
	return nil
}

// Reorder bulk-permutes the applied/unapplied lists. It is implemented
// as pop-everything-then-push-in-order rather than a from-scratch
// replay: Pop and Push already guarantee spec.md §3's invariants, so
// reusing them here means Reorder can't produce an inconsistent stack
// by construction. hidden is left untouched.
func (t *Transaction) Reorder(ctx context.Context, newApplied, newUnapplied []string) error {
	before := multiset(append(slices.Clone(t.staged.Applied), t.staged.Unapplied...))
	after := multiset(append(slices.Clone(newApplied), newUnapplied...))
	if !sameMultiset(before, after) {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak,
			fmt.Errorf("reorder must preserve the applied∪unapplied patch set"))
	}
	for _, name := range slices.Backward(slices.Clone(t.staged.Applied)) {
		if err := t.Pop(ctx, name); err != nil {
			return err
		}
	}
	// Arrange unapplied order so each Push finds its target already
	// unapplied, then restore the caller's desired unapplied ordering
	// for whatever remains once newApplied has been pushed.
	t.staged.Unapplied = newUnapplied
	for _, name := range newApplied {
		if !t.staged.IsUnapplied(name) {
			t.staged.Unapplied = append(t.staged.Unapplied, name)
		}
		if err := t.Push(ctx, name, false); err != nil {
			if t.halted != nil {
				return t.halted
			}
			return err
		}
	}
	return nil
}

func multiset(xs []string) map[string]int {
	m := map[string]int{}
	for _, x := range xs {
		m[x]++
	}
	return m
}

func sameMultiset(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// refreshCommit creates a commit on parent that reuses parent's own
// tree (so it introduces no change), keeping rec's
// description/author/committer, for the empty-push path.
func (t *Transaction) refreshCommit(ctx context.Context, rec *patch.Record, parent string) (string, error) {
	tree, err := treeOf(ctx, t.backend, parent)
	if err != nil {
		return "", err
	}
	return t.backend.Commit(ctx, gitbackend.CommitRequest{
		Tree: tree, Parents: []string{parent},
		Author: toBackendPerson(rec.Author()), Committer: toBackendPerson(rec.Committer()),
		Message: rec.Description(), AllowEmpty: true,
	})
}

// Refresh regenerates the current patch's commit from the working
// tree/index (spec.md glossary: "Refresh"). The new commit takes the
// index's whole current tree (git add semantics are assumed to have
// already run on the index by the caller); a non-empty message
// replaces the patch description.
func (t *Transaction) Refresh(ctx context.Context, message string) error {
	name := t.staged.Current
	if name == "" {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak, fmt.Errorf("no patches applied"))
	}
	rec := t.staged.Patches[name]
	if message != "" {
		patch.Open(rec).SetDescription(message)
	}
	tree, err := t.backend.WriteTreeFromIndex(ctx)
	if err != nil {
		return err
	}
	bottom := rec.Bottom()
	newTop, err := t.backend.Commit(ctx, gitbackend.CommitRequest{
		Tree: tree, Parents: []string{bottom},
		Author: toBackendPerson(rec.Author()), Committer: toBackendPerson(rec.Committer()),
		Message: rec.Description(), AllowEmpty: true,
	})
	if err != nil {
		return err
	}
	patch.Open(rec).SetBoundary(patch.Boundary{Bottom: bottom, Top: newTop}, true)
	if err := t.backend.Switch(ctx, newTop); err != nil {
		return err
	}
	t.markDirty(name)
	return nil
}

// UndoPush reverts the most recent push's boundary change on the
// current patch, per stack.py's undo_push: refuses when bottom is
// unchanged but top IS changed from the undo slot (that slot holds a
// refresh, not a push, and there's nothing to undo here).
func (t *Transaction) UndoPush(ctx context.Context) error {
	name := t.staged.Current
	if name == "" {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak, fmt.Errorf("no current patch"))
	}
	rec := t.staged.Patches[name]
	ob, ok := rec.OldBoundary()
	if !ok || (ob.Bottom == rec.Bottom() && ob.Top != rec.Top()) {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak, fmt.Errorf("no push-undo information available"))
	}
	if err := t.backend.Reset(ctx, t.staged.Base, false); err != nil {
		return err
	}
	if err := t.Pop(ctx, name); err != nil {
		return err
	}
	patch.Open(rec).RestoreOldBoundary()
	t.markDirty(name)
	return nil
}

// UndoRefresh reverts the most recent refresh's boundary change, per
// stack.py's undo_refresh: requires bottom unchanged (else there was a
// push, not a refresh) and top actually changed.
func (t *Transaction) UndoRefresh(ctx context.Context) error {
	name := t.staged.Current
	if name == "" {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak, fmt.Errorf("no current patch"))
	}
	rec := t.staged.Patches[name]
	ob, ok := rec.OldBoundary()
	if !ok || ob.Bottom != rec.Bottom() || ob.Top == rec.Top() {
		return stgerrors.New(stgerrors.StackInvariantWouldBreak, fmt.Errorf("no refresh-undo information available"))
	}
	if err := t.backend.Reset(ctx, ob.Top, false); err != nil {
		return err
	}
	patch.Open(rec).RestoreOldBoundary()
	t.markDirty(name)
	return nil
}

// MergedPatches probes which unapplied patches already landed upstream
// by reverse-applying them from most-recent to oldest, restoring the
// tree afterward. Read-only: mirrors stack.py's merged_patches.
func (t *Transaction) MergedPatches(ctx context.Context, names []string) ([]string, error) {
	h, err := t.head(ctx)
	if err != nil {
		return nil, err
	}
	headTree, err := treeOf(ctx, t.backend, h)
	if err != nil {
		return nil, err
	}
	if err := t.backend.ReadTree(ctx, headTree); err != nil {
		return nil, err
	}
	var merged []string
	for _, name := range slices.Backward(slices.Clone(names)) {
		rec, err := t.staged.Get(name)
		if err != nil {
			return nil, err
		}
		topTree, err := treeOf(ctx, t.backend, rec.Top())
		if err != nil {
			return nil, err
		}
		bottomTree, err := treeOf(ctx, t.backend, rec.Bottom())
		if err != nil {
			return nil, err
		}
		diff, err := t.backend.Diff(ctx, topTree, bottomTree)
		if err != nil {
			return nil, err
		}
		if err := t.backend.Apply(ctx, diff, gitbackend.ApplyOptions{Quiet: true}); err == nil {
			merged = append(merged, name)
		}
	}
	slices.Reverse(merged)
	t.backend.Reset(ctx, h, true)
	return merged, nil
}

func toBackendPerson(p patch.Person) gitbackend.Person {
	return gitbackend.Person{Name: p.Name, Email: p.Email, Date: p.Date}
}
