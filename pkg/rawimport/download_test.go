// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ulikunitz/xz"
)

func pullAndWait(t *testing.T, sess *Session, url string, opts PullOptions) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := sess.Pull(ctx, url, opts)
	if err != nil {
		return err
	}
	return <-ch
}

func TestPullPlainBytes(t *testing.T) {
	payload := bytes.Repeat([]byte("raw disk payload "), 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag1"`)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sess, err := NewSession(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := pullAndWait(t, sess, srv.URL+"/disk.raw", PullOptions{}); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	path := finalPathFor(dir, srv.URL+"/disk.raw", "etag1")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cache file not found at %s: %v", path, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("cached content mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestPullXZDecompresses(t *testing.T) {
	plain := bytes.Repeat([]byte("decompressed raw bytes\n"), 128)

	var compressed bytes.Buffer
	xw, err := xz.NewWriter(&compressed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(plain); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag2"`)
		w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	dir := t.TempDir()
	sess, err := NewSession(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := pullAndWait(t, sess, srv.URL+"/disk.raw.xz", PullOptions{}); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	path := finalPathFor(dir, srv.URL+"/disk.raw.xz", "etag2")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cache file not found at %s: %v", path, err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decompressed content mismatch: got %d bytes, want %d", len(got), len(plain))
	}
}

func TestPullSkipsReDownloadOnETagMatch(t *testing.T) {
	payload := []byte("stable content")
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if strings.Contains(r.Header.Get("If-None-Match"), "etagA") {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"etagA"`)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sess, err := NewSession(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	url := srv.URL + "/disk.raw"
	if err := pullAndWait(t, sess, url, PullOptions{}); err != nil {
		t.Fatalf("first pull failed: %v", err)
	}

	sess2, err := NewSession(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sess2.Close()
	if err := pullAndWait(t, sess2, url, PullOptions{}); err != nil {
		t.Fatalf("second pull failed: %v", err)
	}

	if requests != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", requests)
	}

	matches, err := scanOldETags(dir, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one cached file, got %v", matches)
	}
}

func TestPullFailsOnTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1000))
		w.Write([]byte("not enough bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sess, err := NewSession(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	err = pullAndWait(t, sess, srv.URL+"/disk.raw", PullOptions{})
	if err == nil {
		t.Fatal("expected an error for a truncated body")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".raw") && !strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("no final cache file should exist after a failed pull, found %s", e.Name())
		}
	}
}

func TestPullMaterializesLocalCopy(t *testing.T) {
	payload := []byte("vm disk contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag3"`)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sess, err := NewSession(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := pullAndWait(t, sess, srv.URL+"/disk.raw", PullOptions{Local: "myvm"}); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	localPath := filepath.Join(dir, "myvm.raw")
	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("local copy not found: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("local copy content mismatch")
	}
}

func TestCountingWriterOverflowGuard(t *testing.T) {
	d := &download{url: "test://overflow", contentLength: -1}
	d.writtenUncompressed = maxInt64 - 5
	cw := &countingWriter{w: io.Discard, d: d}

	_, err := cw.Write(make([]byte, 10))
	if err == nil {
		t.Fatal("expected overflow error")
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindOverflow {
		t.Fatalf("expected KindOverflow, got %v", err)
	}
}

func TestParseETag(t *testing.T) {
	cases := map[string]string{
		`"abc"`:    "abc",
		`W/"abc"`:  "abc",
		`  "x"  `:  "x",
	}
	for in, want := range cases {
		if got := parseETag(in); got != want {
			t.Errorf("parseETag(%q) = %q, want %q", in, got, want)
		}
	}
}
