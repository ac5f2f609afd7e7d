// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulikunitz/xz"
)

// state names the phases of the per-download state machine (spec §4.2):
// Fresh -> Sniffing -> (ShortCircuitNotModified | Streaming) -> Finalizing -> Done.
type state int

const (
	stateFresh state = iota
	stateSniffing
	stateStreaming
	stateFinalizing
	stateDone
)

// download is the per-URL state machine. It is never constructed directly
// by callers — Session.Pull owns its lifecycle.
type download struct {
	url        string
	local      string
	forceLocal bool
	progress   ProgressFunc

	session *Session // non-owning back-reference, per spec §9
	cancel  context.CancelFunc

	tempPath, finalPath string
	etag                string
	oldETags            []string
	contentLength       int64 // -1 == unknown
	mtime               time.Time

	writtenCompressed   int64
	writtenUncompressed int64

	file *os.File

	done    atomic.Bool
	state   atomic.Int32
	tracker *progressTracker

	resultOnce sync.Once
	resultCh   chan error
}

func newDownload(sess *Session, url string, opts PullOptions) *download {
	d := &download{
		url:           url,
		local:         opts.Local,
		forceLocal:    opts.ForceLocal,
		progress:      opts.Progress,
		session:       sess,
		contentLength: -1,
		resultCh:      make(chan error, 1),
	}
	d.state.Store(int32(stateFresh))
	return d
}

// finish delivers the terminal result for this download exactly once.
func (d *download) finish(err error) {
	d.resultOnce.Do(func() {
		d.done.Store(true)
		d.state.Store(int32(stateDone))
		d.resultCh <- err
		close(d.resultCh)
	})
}

// run is the single linear routine spec §9 permits in place of the
// callback-driven state machine: every step below corresponds to a named
// step in spec §4.2, executed in order.
func (s *Session) run(ctx context.Context, d *download) {
	err := d.execute(ctx)
	s.downloadFinished(d, err)
	d.finish(err)
}

func (d *download) execute(ctx context.Context) (err error) {
	defer func() {
		// Any failure path: the temp file (if any) is unlinked, matching
		// spec §4.2 "Failure at any step" and invariant 2 (no partial file
		// ever appears at final_path).
		if err != nil && d.tempPath != "" {
			if d.file != nil {
				d.file.Close()
				d.file = nil
			}
			_ = os.Remove(d.tempPath)
			d.tempPath = ""
		}
	}()

	// --- Begin (spec §4.2 "Begin") ---
	oldETags, serr := scanOldETags(d.session.imageRoot, d.url)
	if serr != nil {
		return serr
	}
	d.oldETags = oldETags

	req, rerr := http.NewRequest(http.MethodGet, d.url, nil)
	if rerr != nil {
		return newErr(KindInvalidArgument, d.url, rerr)
	}
	if len(d.oldETags) > 0 {
		quoted := make([]string, len(d.oldETags))
		for i, e := range d.oldETags {
			quoted[i] = strconv.Quote(e)
		}
		req.Header.Set("If-None-Match", strings.Join(quoted, ", "))
	}

	d.state.Store(int32(stateSniffing))
	resp, derr := d.session.transport.Do(ctx, req)
	if derr != nil {
		return newErr(KindIO, d.url, derr)
	}
	defer resp.Body.Close()

	// --- Header callback (spec §4.2 "Header callback") ---
	if et := resp.Header.Get("ETag"); et != "" {
		d.etag = parseETag(et)
		if containsString(d.oldETags, d.etag) {
			d.finalPath = finalPathFor(d.session.imageRoot, d.url, d.etag)
			return d.success(ctx, "already downloaded (etag match)")
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n >= 0 {
			d.contentLength = n
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, perr := http.ParseTime(lm); perr == nil {
			d.mtime = t
		}
	}

	// --- Transport completion's status-code table (spec §4.2 "Transport
	// completion" steps 1-2), checked as soon as headers arrive since Go's
	// http.Client already synchronizes header receipt with Do() returning ---
	switch {
	case resp.StatusCode == http.StatusNotModified:
		// A compliant server echoes the matching ETag on a 304; d.etag is
		// already set from the header callback above in that case. Some
		// servers omit it, so fall back to the one ETag we offered when
		// there was no ambiguity about which one matched.
		if d.etag == "" && len(d.oldETags) == 1 {
			d.etag = d.oldETags[0]
		}
		d.finalPath = finalPathFor(d.session.imageRoot, d.url, d.etag)
		return d.success(ctx, "already downloaded (304)")
	case resp.StatusCode >= 300:
		return newErr(KindIO, d.url, fmt.Errorf("bad status %s", resp.Status))
	case resp.StatusCode < 200:
		return newErr(KindIO, d.url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	// --- Write-body callback: sniff then stream (spec §4.2 "Write-body
	// callback (sniff/stream)", "open-for-write", "Compressed-write",
	// "Uncompressed-write") ---
	if err := d.sniffAndStream(ctx, resp.Body); err != nil {
		return err
	}

	// --- Transport completion steps 3-4 ---
	if d.file == nil {
		return newErr(KindIO, d.url, fmt.Errorf("no data received"))
	}
	if d.contentLength >= 0 && d.writtenCompressed != d.contentLength {
		return newErr(KindIO, d.url, fmt.Errorf("download truncated: got %d of %d bytes", d.writtenCompressed, d.contentLength))
	}

	// --- Finalize (spec §4.2 "Finalize") ---
	d.state.Store(int32(stateFinalizing))
	if err := d.finalize(ctx); err != nil {
		return err
	}

	return d.success(ctx, "")
}

// sniffAndStream implements the sniff-then-stream phase. body is resp.Body,
// wrapped in a counting reader so written_compressed and the
// content-length/overflow guards apply uniformly whether or not the stream
// turns out to be XZ-compressed.
func (d *download) sniffAndStream(ctx context.Context, body io.Reader) error {
	cr := &countingReader{r: body, d: d}

	sniffBuf := make([]byte, sniffLen)
	n, err := io.ReadFull(cr, sniffBuf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return newErr(KindIO, d.url, err)
	}
	sniffBuf = sniffBuf[:n]
	if n == 0 {
		// Empty body: leave d.file nil so execute reports "no data received".
		return nil
	}

	compressed := looksLikeXZ(sniffBuf)

	if err := d.openForWrite(); err != nil {
		return err
	}

	var source io.Reader = io.MultiReader(bytes.NewReader(sniffBuf), cr)

	if compressed {
		xzr, xerr := xz.NewReader(source)
		if xerr != nil {
			return newErr(KindIO, d.url, xerr)
		}
		source = xzr
	}

	sw := newSparseWriter(d.file, sparseHoleWindow)
	uncompressed := &countingWriter{w: sw, d: d}

	limited := io.LimitReader(source, MaxRawSize+1)
	buf := make([]byte, 16*1024)
	if _, cerr := io.CopyBuffer(uncompressed, limited, buf); cerr != nil {
		return newErr(KindIO, d.url, cerr)
	}
	if d.writtenUncompressed > MaxRawSize {
		return newErr(KindTooLarge, d.url, fmt.Errorf("uncompressed size exceeds %d bytes", MaxRawSize))
	}

	return nil
}

// openForWrite is idempotent (spec §4.2 "open-for-write").
func (d *download) openForWrite() error {
	if d.file != nil {
		return nil
	}
	d.finalPath = finalPathFor(d.session.imageRoot, d.url, d.etag)
	d.tempPath = randomSibling(d.finalPath)

	f, err := os.OpenFile(d.tempPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return newErr(KindFilesystem, d.url, err)
	}
	d.file = f

	if err := setNoCOW(f); err != nil {
		logWarn("nocow: %s: %v", d.tempPath, err)
	}
	return nil
}

// finalize implements spec §4.2 "Finalize" steps 1-7. A cancel observed at
// any point here aborts finalize: the deferred cleanup in execute() unlinks
// the temp file and the final file is never created (spec §5).
func (d *download) finalize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newErr(KindIO, d.url, err)
	}

	if err := d.file.Truncate(d.writtenUncompressed); err != nil {
		return newErr(KindFilesystem, d.url, err)
	}

	if err := ctx.Err(); err != nil {
		return newErr(KindIO, d.url, err)
	}

	isCOW, perr := probeCOW(d.file)
	if perr != nil {
		return newErr(KindFilesystem, d.url, perr)
	}
	if isCOW {
		convTemp := randomSibling(d.finalPath)
		if err := convertCOW(ctx, d.tempPath, convTemp); err != nil {
			return newErr(KindIO, d.url, err)
		}
		d.file.Close()
		_ = os.Remove(d.tempPath)

		nf, err := os.OpenFile(convTemp, os.O_RDWR, 0o644)
		if err != nil {
			return newErr(KindFilesystem, d.url, err)
		}
		d.file = nf
		d.tempPath = convTemp
		if fi, serr := nf.Stat(); serr == nil {
			d.writtenUncompressed = fi.Size()
		}
	}

	if err := setProvenanceXattrs(d.file, d.url, d.etag); err != nil {
		logWarn("xattr: %s: %v", d.tempPath, err)
	}

	if !d.mtime.IsZero() {
		if err := setTimestamps(d.file, d.tempPath, d.mtime); err != nil {
			logWarn("timestamps: %s: %v", d.tempPath, err)
		}
	}

	fi, serr := d.file.Stat()
	if serr != nil {
		return newErr(KindFilesystem, d.url, serr)
	}
	if err := d.file.Chmod(fi.Mode().Perm() & 0o444); err != nil {
		logWarn("chmod: %s: %v", d.tempPath, err)
	}

	if err := ctx.Err(); err != nil {
		return newErr(KindIO, d.url, err)
	}

	if err := os.Rename(d.tempPath, d.finalPath); err != nil {
		return newErr(KindFilesystem, d.url, err)
	}
	d.tempPath = ""

	return nil
}

// success implements spec §4.2 "Success": done:=true, optional local copy,
// close disk_fd, report completion.
func (d *download) success(ctx context.Context, logMsg string) error {
	if logMsg != "" {
		logInfo("%s: %s", d.url, logMsg)
	}
	if d.local != "" {
		if err := d.materializeLocal(ctx); err != nil {
			logWarn("local copy: %s: %v", d.local, err)
		}
	}
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
	return nil
}

// countingReader wraps an io.Reader, bumping d.writtenCompressed and
// enforcing the overflow/content-length guards from spec §4.2
// "Compressed-write" on every Read, regardless of whether the stream turns
// out to be XZ-compressed or not.
type countingReader struct {
	r io.Reader
	d *download
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		if c.d.writtenCompressed > maxInt64-int64(n) {
			return n, newErr(KindOverflow, c.d.url, nil)
		}
		c.d.writtenCompressed += int64(n)
		if c.d.contentLength >= 0 && c.d.writtenCompressed > c.d.contentLength {
			return n, newErr(KindIO, c.d.url, fmt.Errorf("response exceeded declared Content-Length %d", c.d.contentLength))
		}
		// Progress is tracked against raw transport bytes (dlnow/dltotal in
		// spec §4.4's curl-derived vocabulary), not decompressed bytes,
		// since that is what the transport adapter actually observes.
		if c.d.progress != nil {
			if c.d.tracker == nil {
				c.d.tracker = newProgressTracker(c.d.url)
			}
			if ev, ok := c.d.tracker.maybeEmit(c.d.writtenCompressed, c.d.contentLength); ok {
				c.d.progress(ev)
			}
		}
	}
	return n, err
}

// countingWriter wraps an io.Writer, bumping d.writtenUncompressed (spec
// §4.2 "Uncompressed-write" checked-add guard).
type countingWriter struct {
	w io.Writer
	d *download
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.d.writtenUncompressed > maxInt64-int64(len(p)) {
		return 0, newErr(KindOverflow, c.d.url, nil)
	}
	n, err := c.w.Write(p)
	if n > 0 {
		c.d.writtenUncompressed += int64(n)
	}
	return n, err
}

const maxInt64 = 1<<63 - 1

func parseETag(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	return s
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func logInfo(format string, args ...any)  { stdLogger.Printf("INFO  "+format, args...) }
func logWarn(format string, args ...any)  { stdLogger.Printf("WARN  "+format, args...) }
func logError(format string, args ...any) { stdLogger.Printf("ERROR "+format, args...) }
