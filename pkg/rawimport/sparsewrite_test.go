// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSparseWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.raw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	payload := append([]byte("head"), make([]byte, 256)...)
	payload = append(payload, []byte("tail")...)

	sw := newSparseWriter(f, 64)
	n, err := sw.Write(payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("expected Write to report %d bytes, got %d", len(payload), n)
	}
	if err := f.Truncate(int64(len(payload))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("sparse round trip mismatch: logical content differs")
	}
}

func TestSparseWriterSmallZeroRunIsNotAHole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.raw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	payload := append([]byte("a"), make([]byte, 10)...)
	payload = append(payload, []byte("b")...)

	sw := newSparseWriter(f, 64)
	if _, err := sw.Write(payload); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected exact bytes when zero run is below the hole window")
	}
}

func TestNextChunkStopsAtHole(t *testing.T) {
	p := append([]byte("xyz"), make([]byte, 10)...)
	p = append(p, []byte("more")...)
	got := nextChunk(p, 4)
	if got != 3 {
		t.Fatalf("expected chunk to stop before the zero run, got %d", got)
	}
}

func TestLeadingZeroRun(t *testing.T) {
	if got := leadingZeroRun([]byte{0, 0, 0, 1, 0}); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := leadingZeroRun([]byte{1, 0, 0}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
