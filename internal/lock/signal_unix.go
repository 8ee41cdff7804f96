//go:build !windows

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"os"
	"syscall"
)

func syscallSig0() os.Signal { return syscall.Signal(0) }
