// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package rawimport

import (
	"fmt"
	"os"
	"runtime"
)

// setNoCOW is a no-op stand-in on platforms without the FS_NOCOW_FL ioctl.
// Best-effort per spec.md §7, so returning an error here just produces a
// logged warning, never a failed download.
func setNoCOW(f *os.File) error {
	return fmt.Errorf("nocow not supported on %s", runtime.GOOS)
}
