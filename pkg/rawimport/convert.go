// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// probeCOW is the concrete binding for spec.md's "COW probe" collaborator:
// probe(fd) -> {0=not-container, >0=container, <0=error}. qcow2 images
// start with a fixed 4-byte magic, so classification needs no subprocess. A
// file too short to possibly carry the magic is "not a container" (0), not
// an I/O error — a tiny valid raw image must not fail finalize.
func probeCOW(f *os.File) (bool, error) {
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return buf == [4]byte{qcow2Magic[0], qcow2Magic[1], qcow2Magic[2], qcow2Magic[3]}, nil
}

// convertCOW is the concrete binding for spec.md's "COW convert"
// collaborator. No pure-Go qcow2 decoder appears anywhere in the retrieved
// corpus; the one corpus example that solves this exact problem
// (zUZWqEHF-cocoon's cloudimg-pull.go) shells out to qemu-img, the
// real-world idiom for this operation, so rawimport follows the same
// precedent rather than hand-rolling a codec.
func convertCOW(ctx context.Context, srcPath, dstPath string) error {
	cmd := exec.CommandContext(ctx, "qemu-img", "convert", "-f", "qcow2", "-O", "raw", srcPath, dstPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("qemu-img convert: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}
