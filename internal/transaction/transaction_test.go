// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/gittest"
	"github.com/chucklever/stgit/internal/patch"
	"github.com/chucklever/stgit/internal/stack"
)

func newFixture(t *testing.T) (*gittest.Fake, *stack.Codec) {
	t.Helper()
	fake := gittest.New()
	root := fake.Genesis(fake.PutTree(map[string]string{"README": "hello"}))
	fake.HeadCommit = root
	fake.Index = fake.Commits[root].Tree

	codec := &stack.Codec{CtrlDir: t.TempDir(), Backend: fake}
	ctx := context.Background()
	if _, err := codec.Init(ctx, "master", root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return fake, codec
}

func stageUnapplied(t *testing.T, txn *Transaction, name, bottom string) {
	t.Helper()
	rec := patch.New(name, bottom, patch.Person{Name: "A", Email: "a@x"}, patch.Person{Name: "A", Email: "a@x"}, "patch "+name)
	txn.Staged().Patches[name] = rec
	txn.Staged().Unapplied = append(txn.Staged().Unapplied, name)
}

func TestPushEmptyCreatesCommitAtHead(t *testing.T) {
	fake, codec := newFixture(t)
	ctx := context.Background()
	log := logrus.NewEntry(logrus.New())

	txn, err := Open(ctx, codec, fake, "master", "test", "", log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stageUnapplied(t, txn, "p1", fake.HeadCommit)

	if err := txn.Push(ctx, "p1", true); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !txn.Staged().IsApplied("p1") {
		t.Fatal("p1 should be applied after Push")
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	state, err := codec.Load(ctx, "master")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !state.IsApplied("p1") || state.Current != "p1" {
		t.Fatalf("loaded state = %+v, want p1 applied and current", state)
	}
}

func TestPushThenPopRestoresUnapplied(t *testing.T) {
	fake, codec := newFixture(t)
	ctx := context.Background()
	log := logrus.NewEntry(logrus.New())

	txn, err := Open(ctx, codec, fake, "master", "test", "", log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stageUnapplied(t, txn, "p1", fake.HeadCommit)
	if err := txn.Push(ctx, "p1", true); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := txn.Pop(ctx, "p1"); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	state, err := codec.Load(ctx, "master")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !state.IsUnapplied("p1") {
		t.Fatalf("p1 should be unapplied after pop, got %+v", state)
	}
	if state.Current != "" {
		t.Fatalf("current should be empty with nothing applied, got %q", state.Current)
	}
	if fake.HeadCommit != state.Base {
		t.Fatalf("HEAD should be back at base, got %s want %s", fake.HeadCommit, state.Base)
	}
}

func TestPushConflictHalts(t *testing.T) {
	fake, codec := newFixture(t)
	ctx := context.Background()
	log := logrus.NewEntry(logrus.New())

	base := fake.HeadCommit

	// p1 changes README one way and is applied, moving HEAD forward.
	p1Tree := fake.PutTree(map[string]string{"README": "p1-version"})
	p1Commit := fake.AddCommit(p1Tree, []string{base}, gitbackend.Person{Name: "A"}, "p1")

	// p2 is unapplied but still parented on base, changing README a
	// conflicting way, so pushing it after p1 forces a three-way merge
	// that can't resolve.
	p2Tree := fake.PutTree(map[string]string{"README": "p2-version"})
	p2Commit := fake.AddCommit(p2Tree, []string{base}, gitbackend.Person{Name: "A"}, "p2")

	txn, err := Open(ctx, codec, fake, "master", "test", "", log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec1 := patch.New("p1", base, patch.Person{}, patch.Person{}, "p1")
	patch.Open(rec1).SetBoundary(patch.Boundary{Bottom: base, Top: p1Commit}, false)
	txn.Staged().Patches["p1"] = rec1
	txn.Staged().Unapplied = append(txn.Staged().Unapplied, "p1")
	if err := txn.Push(ctx, "p1", false); err != nil {
		t.Fatalf("Push(p1): %v", err)
	}

	rec2 := patch.New("p2", base, patch.Person{}, patch.Person{}, "p2")
	patch.Open(rec2).SetBoundary(patch.Boundary{Bottom: base, Top: p2Commit}, false)
	txn.Staged().Patches["p2"] = rec2
	txn.Staged().Unapplied = append(txn.Staged().Unapplied, "p2")

	pushErr := txn.Push(ctx, "p2", false)
	if pushErr == nil {
		t.Fatal("Push(p2) should halt on conflict")
	}
	if _, halted := txn.Halted(); !halted {
		t.Fatalf("Push(p2) returned %v but Transaction isn't marked halted", pushErr)
	}
	if !txn.Staged().IsApplied("p2") {
		t.Fatal("a halted push should still stage the patch as applied")
	}

	if err := txn.Commit(ctx); err == nil {
		t.Fatal("Commit should still surface the halt error")
	}
}
