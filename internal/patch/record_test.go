// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package patch

import "testing"

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"feature":       true,
		"fix.bug-1":     true,
		"":              false,
		"has space":     false,
		"dotdot..here":  false,
		"trailing.lock": false,
		".hidden":       true,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewRecordIsCollapsedBoundary(t *testing.T) {
	r := New("feature", "deadbeef", Person{Name: "A"}, Person{Name: "C"}, "add feature")
	if r.Bottom() != "deadbeef" || r.Top() != "deadbeef" {
		t.Fatalf("New should collapse bottom==top==at, got bottom=%s top=%s", r.Bottom(), r.Top())
	}
	if !r.IsEmpty() {
		t.Fatal("freshly created patch should be empty")
	}
	if _, ok := r.OldBoundary(); ok {
		t.Fatal("freshly created patch should have no undo slot")
	}
}

func TestSetBoundaryBackupAndRestore(t *testing.T) {
	r := New("feature", "c0", Person{}, Person{}, "")
	m := Open(r)

	m.SetBoundary(Boundary{Bottom: "c0", Top: "c1"}, true)
	if r.Top() != "c1" {
		t.Fatalf("Top() = %s, want c1", r.Top())
	}
	old, ok := r.OldBoundary()
	if !ok || old.Top != "c0" {
		t.Fatalf("OldBoundary() = %+v, ok=%v, want top=c0", old, ok)
	}

	m.SetBoundary(Boundary{Bottom: "c0", Top: "c2"}, false)
	if r.Top() != "c2" {
		t.Fatalf("Top() = %s, want c2 (no backup should have overwritten the undo slot)", r.Top())
	}
	if old, _ := r.OldBoundary(); old.Top != "c0" {
		t.Fatalf("undo slot changed on a backup=false write: %+v", old)
	}

	if restored := m.RestoreOldBoundary(); !restored {
		t.Fatal("RestoreOldBoundary() = false, want true")
	}
	if r.Top() != "c0" {
		t.Fatalf("after restore Top() = %s, want c0", r.Top())
	}
	if _, ok := r.OldBoundary(); ok {
		t.Fatal("undo slot should be consumed after RestoreOldBoundary")
	}
	if m.RestoreOldBoundary() {
		t.Fatal("RestoreOldBoundary() on an empty slot should return false")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := New("feature", "c0", Person{Name: "A"}, Person{Name: "A"}, "desc")
	cp := r.Clone()
	Open(cp).SetDescription("changed")
	if r.Description() == "changed" {
		t.Fatal("Clone() aliased the original record")
	}
}
