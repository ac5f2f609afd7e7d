// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"os"
	"time"

	"github.com/pkg/xattr"
)

const (
	xattrSourceURL  = "user.source_url"
	xattrSourceETag = "user.source_etag"
	xattrCreateTime = "user.crtime"
)

// setProvenanceXattrs tags f with where it came from. Best-effort: errors
// are returned to the caller to log, never to fail the download (spec §4.2
// step 3, §7).
func setProvenanceXattrs(f *os.File, url, etag string) error {
	var firstErr error
	if err := xattr.FSet(f, xattrSourceURL, []byte(url)); err != nil {
		firstErr = err
	}
	if etag != "" {
		if err := xattr.FSet(f, xattrSourceETag, []byte(etag)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// setTimestamps sets both access/modification time and, best-effort, a
// user.crtime xattr standing in for a filesystem creation-time attribute
// (spec §4.2 step 4). Most POSIX filesystems have no syscall-settable birth
// time, so the xattr is the only portable approximation; failures here are
// swallowed by the caller the same way nocow/xattr failures are.
func setTimestamps(f *os.File, path string, mtime time.Time) error {
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return err
	}
	return xattr.FSet(f, xattrCreateTime, []byte(mtime.UTC().Format(time.RFC3339Nano)))
}

// copyXattrs best-effort copies rawimport's own provenance xattrs from src
// to dst, used by materializeLocal (spec §4.3 step 6).
func copyXattrs(src, dst *os.File) {
	for _, name := range []string{xattrSourceURL, xattrSourceETag, xattrCreateTime} {
		v, err := xattr.FGet(src, name)
		if err != nil {
			continue
		}
		_ = xattr.FSet(dst, name, v)
	}
}
