// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEscapeNameRoundTrip(t *testing.T) {
	cases := []string{
		"https://example.com/disk.raw.xz",
		`W/"abc#123"`,
		"plain",
		"",
		"100%done",
	}
	for _, c := range cases {
		got := unescapeName(escapeName(c))
		if got != c {
			t.Errorf("round trip mismatch: %q -> %q -> %q", c, escapeName(c), got)
		}
	}
}

func TestEscapeNameEscapesSeparators(t *testing.T) {
	esc := escapeName("a/b.c#d\"e'f")
	for _, c := range []byte("/.#\"'") {
		for i := 0; i < len(esc); i++ {
			if esc[i] == c {
				t.Fatalf("escapeName(%q) left %q unescaped: %q", "a/b.c#d\"e'f", string(c), esc)
			}
		}
	}
}

func TestFinalPathFor(t *testing.T) {
	root := "/var/lib/images"
	noETag := finalPathFor(root, "https://x/y.raw", "")
	if filepath.Dir(noETag) != root {
		t.Fatalf("expected parent %q, got %q", root, noETag)
	}
	if filepath.Base(noETag) != ".raw-https:%2F%2Fx%2Fy%2Eraw.raw" {
		t.Fatalf("unexpected cache filename: %q", filepath.Base(noETag))
	}

	withETag := finalPathFor(root, "https://x/y.raw", `"abc"`)
	if withETag == noETag {
		t.Fatalf("expected distinct paths for distinct etags")
	}
}

func TestScanOldETags(t *testing.T) {
	dir := t.TempDir()
	url := "https://example.com/disk.raw"

	for _, etag := range []string{"etag-one", "etag-two"} {
		p := finalPathFor(dir, url, etag)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A file for a different URL must not be picked up.
	if err := os.WriteFile(finalPathFor(dir, "https://example.com/other.raw", "etag-three"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := scanOldETags(dir, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 etags, got %v", got)
	}
	seen := map[string]bool{}
	for _, e := range got {
		seen[e] = true
	}
	if !seen["etag-one"] || !seen["etag-two"] {
		t.Fatalf("missing expected etags in %v", got)
	}
}

func TestValidETag(t *testing.T) {
	if !validETag("abc-123") {
		t.Error("expected valid")
	}
	if validETag("") {
		t.Error("expected empty etag invalid")
	}
	if validETag("bad\x00etag") {
		t.Error("expected control-char etag invalid")
	}
}
