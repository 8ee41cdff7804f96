// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucklever/stgit/internal/patch"
)

func mkState() *State {
	s := New("master", "base")
	mk := func(name, bottom, top string) *patch.Record {
		r := patch.New(name, bottom, patch.Person{}, patch.Person{}, name)
		patch.Open(r).SetBoundary(patch.Boundary{Bottom: bottom, Top: top}, false)
		return r
	}
	s.Patches["a"] = mk("a", "base", "c1")
	s.Patches["b"] = mk("b", "c1", "c2")
	s.Patches["c"] = mk("c", "c2", "c2") // unapplied, boundary irrelevant
	s.Applied = []string{"a", "b"}
	s.Unapplied = []string{"c"}
	s.Current = "b"
	return s
}

func TestPositionAndTop(t *testing.T) {
	s := mkState()
	list, idx, ok := s.Position("b")
	require.True(t, ok)
	assert.Equal(t, "applied", list)
	assert.Equal(t, 1, idx)

	_, _, ok = s.Position("missing")
	assert.False(t, ok, "Position(missing) should report not found")

	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, "b", top)
}

func TestValidateAcceptsConsistentState(t *testing.T) {
	s := mkState()
	assert.NoError(t, s.Validate("c2"))
}

func TestValidateRejectsBrokenChain(t *testing.T) {
	s := mkState()
	patch.Open(s.Patches["b"]).SetBoundary(patch.Boundary{Bottom: "wrong", Top: "c2"}, false)
	assert.Error(t, s.Validate("c2"), "a patch whose bottom doesn't match its predecessor's top should be rejected")
}

func TestValidateRejectsHeadMismatch(t *testing.T) {
	s := mkState()
	assert.Error(t, s.Validate("not-c2"), "a HEAD that doesn't match the top patch's top should be rejected")
}

func TestCloneDeepCopies(t *testing.T) {
	s := mkState()
	cp := s.Clone()
	cp.Applied[0] = "mutated"
	assert.NotEqual(t, "mutated", s.Applied[0], "Clone() aliased the Applied slice")

	patch.Open(cp.Patches["a"]).SetDescription("mutated")
	assert.NotEqual(t, "mutated", s.Patches["a"].Description(), "Clone() aliased a patch record")
}
