// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package rawimport

import (
	"os"

	"golang.org/x/sys/unix"
)

// setNoCOW disables copy-on-write on f via the same FS_IOC_GETFLAGS /
// FS_IOC_SETFLAGS ioctl dance btrfs-aware tools use. Best-effort: spec.md
// §7 requires filesystem-attribute failures to never fail the download, so
// callers log and continue on error.
func setNoCOW(f *os.File) error {
	fd := int(f.Fd())
	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return err
	}
	flags |= unix.FS_NOCOW_FL
	return unix.IoctlSetInt(fd, unix.FS_IOC_SETFLAGS, flags)
}
