// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/chucklever/stgit/cmd"

func main() {
	cmd.Execute()
}
