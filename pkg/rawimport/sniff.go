// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import "bytes"

// xzMagic is the 6-byte XZ stream header signature.
var xzMagic = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}

// sniffLen is how many bytes must be buffered before detect can classify
// the stream.
const sniffLen = len(xzMagic)

// looksLikeXZ reports whether buf (at least sniffLen bytes) starts with the
// XZ magic.
func looksLikeXZ(buf []byte) bool {
	return len(buf) >= sniffLen && bytes.Equal(buf[:sniffLen], xzMagic)
}

// qcow2Magic is the 4-byte qcow2 container signature ("QFI\xfb").
var qcow2Magic = []byte{'Q', 'F', 'I', 0xfb}
