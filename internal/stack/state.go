// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package stack implements StackState (spec.md §4.C): the ordered
// applied/unapplied/hidden lists, current pointer, base commit, and
// patch-metadata map for one branch, plus the on-disk codec for that
// state. Grounded on stgit/stack.py's Series class, restructured as a
// value type with an explicit Load/Save codec instead of Series'
// read/write-on-every-call file access.
package stack

import (
	"fmt"
	"slices"

	"github.com/chucklever/stgit/internal/patch"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// State is one branch's patch stack (spec.md §3 StackState).
type State struct {
	Branch    string
	Base      string
	Applied   []string
	Unapplied []string
	Hidden    []string
	Current   string // empty means no current patch
	Patches   map[string]*patch.Record
	Protected bool
}

// New returns an empty, uninitialised-on-disk stack rooted at base.
func New(branch, base string) *State {
	return &State{
		Branch:  branch,
		Base:    base,
		Patches: map[string]*patch.Record{},
	}
}

// IsApplied reports whether name is in the applied list.
func (s *State) IsApplied(name string) bool { return slices.Contains(s.Applied, name) }

// IsUnapplied reports whether name is in the unapplied list.
func (s *State) IsUnapplied(name string) bool { return slices.Contains(s.Unapplied, name) }

// IsHidden reports whether name is in the hidden list.
func (s *State) IsHidden(name string) bool { return slices.Contains(s.Hidden, name) }

// Position returns name's index within whichever of
// applied/unapplied/hidden contains it, and which list that is.
func (s *State) Position(name string) (list string, index int, ok bool) {
	if i := slices.Index(s.Applied, name); i >= 0 {
		return "applied", i, true
	}
	if i := slices.Index(s.Unapplied, name); i >= 0 {
		return "unapplied", i, true
	}
	if i := slices.Index(s.Hidden, name); i >= 0 {
		return "hidden", i, true
	}
	return "", 0, false
}

// Top returns the name of the topmost applied patch, if any.
func (s *State) Top() (string, bool) {
	if len(s.Applied) == 0 {
		return "", false
	}
	return s.Applied[len(s.Applied)-1], true
}

// Get returns the record for name, or an UnknownPatch error.
func (s *State) Get(name string) (*patch.Record, error) {
	r, ok := s.Patches[name]
	if !ok {
		return nil, stgerrors.New(stgerrors.UnknownPatch, nil).WithPatch(name)
	}
	return r, nil
}

// AppliedRecords returns the applied patches' records bottom-of-stack
// first, in display order.
func (s *State) AppliedRecords() []*patch.Record {
	out := make([]*patch.Record, 0, len(s.Applied))
	for _, n := range s.Applied {
		out = append(out, s.Patches[n])
	}
	return out
}

// UnappliedRecords returns the unapplied patches' records in their
// stored (user-visible, non-semantic) order.
func (s *State) UnappliedRecords() []*patch.Record {
	out := make([]*patch.Record, 0, len(s.Unapplied))
	for _, n := range s.Unapplied {
		out = append(out, s.Patches[n])
	}
	return out
}

// Validate checks spec.md §3 invariants 1-3 and 6 against the
// in-memory model (invariants 4-5, the refs/objects side, are checked
// by the transaction's commit phase against GitBackend). head is the
// caller's observed HEAD; it's threaded in rather than fetched here so
// Validate has no I/O and can run against staged, uncommitted state.
func (s *State) Validate(head string) error {
	seen := map[string]string{}
	for _, n := range s.Applied {
		seen[n] = "applied"
	}
	for _, n := range s.Unapplied {
		if other, ok := seen[n]; ok {
			return fmt.Errorf("patch %q is in both %s and unapplied", n, other)
		}
		seen[n] = "unapplied"
	}
	for _, n := range s.Hidden {
		if other, ok := seen[n]; ok {
			return fmt.Errorf("patch %q is in both %s and hidden", n, other)
		}
		seen[n] = "hidden"
	}
	if len(seen) != len(s.Patches) {
		return fmt.Errorf("patches map has %d entries but %d names are listed", len(s.Patches), len(seen))
	}
	for n := range seen {
		if _, ok := s.Patches[n]; !ok {
			return fmt.Errorf("patch %q listed but missing from patches map", n)
		}
	}
	prevTop := s.Base
	for _, n := range s.Applied {
		r := s.Patches[n]
		if r.Bottom() != prevTop {
			return fmt.Errorf("patch %q bottom %s does not match predecessor top %s", n, r.Bottom(), prevTop)
		}
		prevTop = r.Top()
	}
	if len(s.Applied) == 0 {
		if head != s.Base {
			return fmt.Errorf("applied list empty but HEAD %s != base %s", head, s.Base)
		}
		if s.Current != "" {
			return fmt.Errorf("current %q set but applied list is empty", s.Current)
		}
	} else {
		top, _ := s.Top()
		if s.Current != top {
			return fmt.Errorf("current %q does not match top of applied %q", s.Current, top)
		}
		if head != prevTop {
			return fmt.Errorf("HEAD %s does not match top patch's top %s", head, prevTop)
		}
	}
	return nil
}

// Clone deep-copies the state, used by Transaction to snapshot before
// staging and to build the staging area itself.
func (s *State) Clone() *State {
	cp := &State{
		Branch:    s.Branch,
		Base:      s.Base,
		Current:   s.Current,
		Protected: s.Protected,
		Applied:   slices.Clone(s.Applied),
		Unapplied: slices.Clone(s.Unapplied),
		Hidden:    slices.Clone(s.Hidden),
		Patches:   make(map[string]*patch.Record, len(s.Patches)),
	}
	for k, v := range s.Patches {
		cp.Patches[k] = v.Clone()
	}
	return cp
}
