// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"fmt"

	"github.com/chucklever/stgit/internal/stgerrors"
)

// Commit persists the staging area to disk: validates invariants,
// checks the transaction hasn't gone stale against a concurrent
// mutator, then writes patch metadata, ref updates, and the
// applied/unapplied/hidden/current lists, in that order (spec.md §4.E
// commit phase). The advisory lock is released unconditionally before
// returning.
//
// If a Push staged a MergeConflict halt, Commit still runs: it
// persists the half-pushed state (the conflicting patch applied with
// an empty boundary) rather than losing the user's progress.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	defer func() {
		t.done = true
		t.lockHandle.Release(ctx)
	}()

	head, err := t.head(ctx)
	if err != nil {
		return err
	}
	if err := t.staged.Validate(head); err != nil {
		// A staged invariant violation is an engine bug, not a user
		// error: surfacing it as ExternalToolFailed would misattribute
		// blame, so it's reported as-is.
		return fmt.Errorf("internal: staged state fails validation: %w", err)
	}

	snap, err := t.codec.Snapshot(t.branch)
	if err != nil {
		return err
	}
	if snap != t.diskSnapshotAtOpen {
		return stgerrors.New(stgerrors.ConcurrentStackMutation,
			fmt.Errorf("on-disk stack for %q changed since this transaction opened", t.branch))
	}

	// (a) write new/changed patch metadata and refs.
	for name := range t.dirty {
		rec, ok := t.staged.Patches[name]
		if !ok {
			continue
		}
		if err := t.codec.SavePatch(ctx, t.branch, rec); err != nil {
			t.logRecovery("save-patch", name, err)
			return stgerrors.New(stgerrors.ExternalToolFailed, err).WithPatch(name).WithStep("save-patch")
		}
	}

	// (b) migrate renamed patches' on-disk directories/refs: the new
	// name was just saved above under its new identity, so all that's
	// left is dropping the old one.
	for newName, oldName := range t.renamed {
		if newName == oldName {
			continue
		}
		if err := t.codec.DeletePatch(ctx, t.branch, oldName); err != nil {
			t.logRecovery("rename-cleanup", oldName, err)
			return stgerrors.New(stgerrors.ExternalToolFailed, err).WithPatch(oldName).WithStep("rename-cleanup")
		}
	}

	// (c) delete patches removed from the stack.
	for name := range t.deleted {
		if err := t.codec.DeletePatch(ctx, t.branch, name); err != nil {
			t.logRecovery("delete-patch", name, err)
			return stgerrors.New(stgerrors.ExternalToolFailed, err).WithPatch(name).WithStep("delete-patch")
		}
	}

	// (d) write the list/current files last, so a crash mid-commit
	// leaves stale-but-consistent per-patch files rather than lists
	// that reference patches whose files were never written.
	if err := t.codec.SaveLists(t.branch, t.staged); err != nil {
		t.logRecovery("save-lists", "", err)
		return stgerrors.New(stgerrors.ExternalToolFailed, err).WithStep("save-lists")
	}

	t.log.Debug("transaction committed")
	if t.halted != nil {
		return t.halted
	}
	return nil
}

// Abort discards the staging area without persisting it. Any git
// objects or HEAD/index mutations the staging calls already performed
// against the real repository are left as-is: spec.md's concurrency
// model treats that as an orphaned-but-harmless side effect, not
// something to roll back, so the only thing aborted here is the
// bookkeeping this transaction would otherwise have written.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.log.Debug("transaction aborted")
	return t.lockHandle.Release(ctx)
}

func (t *Transaction) logRecovery(step, patchName string, err error) {
	t.log.WithError(err).WithField("step", step).WithField("patch", patchName).
		Warn("commit failed partway through; on-disk stack state may be inconsistent until resolved manually")
}
