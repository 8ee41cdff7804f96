// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"fmt"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/stack"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// CloneBranch duplicates an initialised branch's entire stack (base,
// every patch's metadata, and the applied/unapplied/hidden/current
// layout) onto a new git branch at the same commits. Grounded on
// stgit/commands/clone.py, which creates the new branch's series by
// copying each patch file rather than replaying pushes: the commits
// already exist and are shared between branches in the same object
// database, so no git object needs to be recreated.
func CloneBranch(ctx context.Context, codec *stack.Codec, backend gitbackend.Backend, from, to string) error {
	if !codec.IsInitialised(from) {
		return stgerrors.New(stgerrors.NotInitialised, nil)
	}
	if codec.IsInitialised(to) {
		return stgerrors.New(stgerrors.NameCollision, fmt.Errorf("branch %q already has a stack", to))
	}
	src, err := codec.Load(ctx, from)
	if err != nil {
		return err
	}
	head, err := backend.Head(ctx)
	if err != nil {
		return err
	}
	if err := backend.CreateBranch(ctx, to, head); err != nil {
		return err
	}
	dst, err := codec.Init(ctx, to, src.Base)
	if err != nil {
		return err
	}
	dst.Applied = append([]string{}, src.Applied...)
	dst.Unapplied = append([]string{}, src.Unapplied...)
	dst.Hidden = append([]string{}, src.Hidden...)
	dst.Current = src.Current
	for name, rec := range src.Patches {
		clone := rec.Clone()
		dst.Patches[name] = clone
		if err := codec.SavePatch(ctx, to, clone); err != nil {
			return err
		}
	}
	return codec.SaveLists(to, dst)
}
