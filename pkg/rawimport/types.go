// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import "time"

// MaxRawSize is the hard cap on the uncompressed size of a downloaded image
// (spec: RAW_MAX_SIZE). Streams that would exceed it fail with ErrTooLarge.
const MaxRawSize int64 = 8 << 30 // 8 GiB

// sparseHoleWindow is the minimum run of zero bytes the sparse writer will
// skip over with a Seek instead of writing. See sparsewrite.go.
const sparseHoleWindow = 64

// ProgressEvent describes one step of a download's progress, emitted at most
// once per second and only when the percentage has moved (spec §4.4).
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	URL        string    `json:"url"`
	Percent    int       `json:"percent"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	ETA        time.Duration `json:"eta,omitempty"`
}

// ProgressFunc receives progress events for a single download. It may be
// called concurrently across different downloads in the same session and
// must not block.
type ProgressFunc func(ProgressEvent)

// PullOptions configures a single Pull call.
type PullOptions struct {
	// Local, if non-empty, names a writable copy to materialize at
	// <image_root>/<Local>.raw once the download succeeds.
	Local string

	// ForceLocal, if true, removes any existing file at the Local
	// destination before creating the new copy.
	ForceLocal bool

	// Progress, if set, receives rate-limited progress events for this
	// download.
	Progress ProgressFunc
}
