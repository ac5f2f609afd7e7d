// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// escapeAlphabet is the set of characters spec.md §6.2 requires escaping so
// a URL (and an ETag, which may itself contain arbitrary quoted text) can be
// embedded in a single path component: "/.#\"\'".
const escapeAlphabet = "/.#\"'"

// escapeName percent-escapes every byte in escapeAlphabet (plus '%' itself,
// so the scheme is its own inverse). It is deliberately narrower than
// url.PathEscape: PathEscape does not touch '.', and our cache filenames use
// '.' as the field separator between the escaped URL and the escaped ETag,
// so '.' must always be escaped here.
func escapeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || strings.IndexByte(escapeAlphabet, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescapeName inverts escapeName. Malformed escapes are passed through
// unchanged rather than erroring, since this is used to recover best-effort
// hints (old ETags) from a directory scan, not to parse trusted input.
func unescapeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// cachePrefix is the fixed prefix shared by every cached image filename.
const cachePrefix = ".raw-"
const cacheSuffix = ".raw"

// finalPathFor computes final_path for a (url, etag) pair. etag may be empty
// (spec: ".raw-<escape(url)>.raw" when no ETag is known).
func finalPathFor(imageRoot, url, etag string) string {
	name := cachePrefix + escapeName(url)
	if etag != "" {
		name += "." + escapeName(etag)
	}
	name += cacheSuffix
	return filepath.Join(imageRoot, name)
}

// scanOldETags globs image_root for every cached file belonging to url and
// returns the (unescaped) ETags found, skipping any entry whose escaped
// ETag segment doesn't round-trip (spec: "rejecting syntactically invalid
// ETags").
func scanOldETags(imageRoot, url string) ([]string, error) {
	pattern := filepath.Join(imageRoot, cachePrefix+escapeName(url)+".*"+cacheSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, newErr(KindFilesystem, url, err)
	}

	prefix := cachePrefix + escapeName(url) + "."
	var etags []string
	for _, m := range matches {
		base := filepath.Base(m)
		if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, cacheSuffix) {
			continue
		}
		escaped := strings.TrimSuffix(strings.TrimPrefix(base, prefix), cacheSuffix)
		if escaped == "" {
			continue
		}
		etag := unescapeName(escaped)
		if !validETag(etag) {
			continue
		}
		etags = append(etags, etag)
	}
	return etags, nil
}

// validETag rejects control characters and embedded quotes/backslashes that
// would make the value unsafe to echo back in If-None-Match; a real ETag is
// either "opaque-text" (strong) or W/"opaque-text" (weak), and we store it
// here already unquoted.
func validETag(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// randomSibling returns a sibling path of p suitable for an O_EXCL create,
// using a random suffix. Grounded on github.com/google/uuid, already part
// of the corpus (tonimelisma-onedrive-go's go.mod).
func randomSibling(p string) string {
	return filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+".tmp-"+newRandomSuffix())
}

// removeIfExists is the "recursive-remove helper" collaborator from spec.md
// §6.1, bound directly to os.RemoveAll since Go's standard library already
// provides the primitive (a single call). os.RemoveAll does not check device
// boundaries: it descends into any mount point below path and removes its
// contents too.
func removeIfExists(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.RemoveAll(path)
}
