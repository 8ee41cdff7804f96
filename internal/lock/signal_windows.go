//go:build windows

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package lock

import "os"

// Windows processes don't support signal-0 liveness probes the way
// Unix does; os.FindProcess above already fails for dead PIDs there,
// so this just needs to be a signal Signal() won't choke on.
func syscallSig0() os.Signal { return os.Interrupt }
