// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucklever/stgit/internal/gittest"
)

func TestAcquireAndReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := gittest.New()

	h, err := Acquire(ctx, fake, "master")
	require.NoError(t, err)

	_, held, err := fake.Resolve(ctx, refName("master"))
	require.NoError(t, err)
	assert.True(t, held, "lock ref should exist while held")

	require.NoError(t, h.Release(ctx))
	_, held, err = fake.Resolve(ctx, refName("master"))
	require.NoError(t, err)
	assert.False(t, held, "lock ref should be gone after release")
}

func TestAcquireStealsFromDeadPID(t *testing.T) {
	ctx := context.Background()
	fake := gittest.New()

	stale := fmt.Sprintf("%d:dead-lock", deadPID(t))
	require.NoError(t, fake.UpdateRef(ctx, refName("master"), stale, "", false))

	h, err := Acquire(ctx, fake, "master")
	require.NoError(t, err, "a lock held by a dead PID should be stealable")
	require.NoError(t, h.Release(ctx))
}

func TestReleaseIsNoopIfTokenNoLongerMatches(t *testing.T) {
	ctx := context.Background()
	fake := gittest.New()

	h, err := Acquire(ctx, fake, "master")
	require.NoError(t, err)

	// Simulate another process taking the lock after ours expired.
	require.NoError(t, fake.UpdateRef(ctx, refName("master"), "other-token", h.token, true))

	require.NoError(t, h.Release(ctx))
	cur, held, err := fake.Resolve(ctx, refName("master"))
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "other-token", cur, "Release must not clobber a lock it no longer owns")
}

func TestHolderAliveRejectsMalformedToken(t *testing.T) {
	assert.False(t, holderAlive("not-a-token"))
	assert.False(t, holderAlive("0:uuid"))
}

// deadPID returns a PID that is very unlikely to be alive: spawn and
// immediately reap a child process.
func deadPID(t *testing.T) int {
	t.Helper()
	proc, err := os.StartProcess("/bin/true", []string{"/bin/true"}, &os.ProcAttr{})
	if err != nil {
		// Fall back to a PID that is almost certainly unused.
		return 1 << 30
	}
	state, err := proc.Wait()
	require.NoError(t, err)
	require.True(t, state.Exited())
	return proc.Pid
}
