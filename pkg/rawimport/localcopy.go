// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// materializeLocal implements spec §4.3: after a successful pull, optionally
// stamp out a second, independently writable copy of the image under
// <image_root>/<local>.raw. Unlike the cached copy at final_path, this copy
// is not content-addressed and is never treated as read-only; it exists so a
// caller can hand a VM a disk it is allowed to write to without disturbing
// the cache entry future pulls of the same URL will reuse.
func (d *download) materializeLocal(ctx context.Context) error {
	destPath := filepath.Join(d.session.imageRoot, d.local+".raw")

	if d.forceLocal {
		if err := removeIfExists(destPath); err != nil {
			return newErr(KindFilesystem, d.url, err)
		}
	}

	tmpPath := randomSibling(destPath)
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o664)
	if err != nil {
		if os.IsExist(err) {
			return newErr(KindAlreadyExists, d.url, err)
		}
		return newErr(KindFilesystem, d.url, err)
	}
	defer func() {
		dst.Close()
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if nerr := setNoCOW(dst); nerr != nil {
		logWarn("nocow: %s: %v", tmpPath, nerr)
	}

	src, err := os.Open(d.finalPath)
	if err != nil {
		return newErr(KindFilesystem, d.url, err)
	}
	defer src.Close()

	if _, err = io.Copy(dst, src); err != nil {
		return newErr(KindIO, d.url, err)
	}

	copyXattrs(src, dst)
	if !d.mtime.IsZero() {
		if terr := setTimestamps(dst, tmpPath, d.mtime); terr != nil {
			logWarn("timestamps: %s: %v", tmpPath, terr)
		}
	}

	if err = dst.Close(); err != nil {
		return newErr(KindFilesystem, d.url, err)
	}
	if err = os.Rename(tmpPath, destPath); err != nil {
		return newErr(KindFilesystem, d.url, err)
	}

	return nil
}
