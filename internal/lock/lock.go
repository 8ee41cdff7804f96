// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package lock implements the advisory per-branch lock spec.md §5
// describes: a lock file under refs/patches/<branch>/.stgit-lock, held
// for the duration of one Transaction, with stale-PID detection so a
// crashed holder doesn't wedge the branch forever.
package lock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/chucklever/stgit/internal/gitbackend"
	"github.com/chucklever/stgit/internal/stgerrors"
)

// Handle is a held lock; release it exactly once.
type Handle struct {
	backend gitbackend.Backend
	ref     string
	token   string
}

func refName(branch string) string { return "refs/patches/" + branch + "/.stgit-lock" }

// Acquire takes the advisory lock for branch, retrying with backoff
// while a held lock's PID is alive, per spec.md §5. It gives up after
// a bounded number of attempts and reports ConcurrentStackMutation.
func Acquire(ctx context.Context, backend gitbackend.Backend, branch string) (*Handle, error) {
	ref := refName(branch)
	token := fmt.Sprintf("%d:%s", os.Getpid(), uuid.NewString())

	err := retry.Do(
		func() error {
			cur, ok, err := backend.Resolve(ctx, ref)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if ok && holderAlive(cur) {
				return fmt.Errorf("lock held by live process: %s", cur)
			}
			// Either unheld, or held by a dead PID (broken lock, spec.md
			// §5): compare-and-set against whatever is currently there
			// so a concurrent acquirer racing us still loses cleanly. An
			// empty expected value requires the ref to be absent.
			if err := backend.UpdateRef(ctx, ref, token, cur, true); err != nil {
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(20*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, stgerrors.New(stgerrors.ConcurrentStackMutation, err).WithStep("lock-acquire")
	}
	return &Handle{backend: backend, ref: ref, token: token}, nil
}

// Release drops the lock, but only if it still holds the token this
// Handle acquired (a crashed-and-restarted holder must not release a
// lock some other process has since taken).
func (h *Handle) Release(ctx context.Context) error {
	cur, ok, err := h.backend.Resolve(ctx, h.ref)
	if err != nil {
		return err
	}
	if !ok || cur != h.token {
		return nil
	}
	return h.backend.DeleteRef(ctx, h.ref)
}

// holderAlive parses a "pid:uuid" token and reports whether that PID
// still exists. A malformed token is treated as stale.
func holderAlive(token string) bool {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	return proc.Signal(syscallSig0()) == nil
}
