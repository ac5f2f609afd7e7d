// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package progress renders rawimport download progress as periodic textual
// status, the scope spec.md's Non-goals leave for progress reporting
// ("progress UIs richer than periodic textual status" are explicitly out of
// scope). It is a deliberately plain counterpart to the teacher's live,
// multi-row ANSI table: one bar per URL, redrawn by the underlying library
// on its own schedule, fed by rawimport's already rate-limited
// ProgressEvent stream.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/importd/rawimport/pkg/rawimport"
)

const barTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }}`

// Reporter fans rawimport.ProgressFunc callbacks for a fixed set of URLs out
// to either a pb/v3 bar pool, JSON-lines on w, or nothing (quiet).
type Reporter struct {
	quiet   bool
	jsonOut bool
	out     io.Writer

	mu   sync.Mutex
	bars map[string]*pb.ProgressBar
	pool *pb.Pool
}

// NewReporter starts rendering immediately if neither quiet nor jsonOut is
// set, one bar per URL in urls.
func NewReporter(urls []string, quiet, jsonOut bool, out io.Writer) (*Reporter, error) {
	r := &Reporter{quiet: quiet, jsonOut: jsonOut, out: out, bars: make(map[string]*pb.ProgressBar, len(urls))}
	if quiet || jsonOut {
		return r, nil
	}

	bars := make([]*pb.ProgressBar, 0, len(urls))
	for _, u := range urls {
		bar := pb.New64(0)
		bar.Set("prefix", shortName(u))
		bar.SetTemplateString(barTemplate)
		r.bars[u] = bar
		bars = append(bars, bar)
	}
	pool, err := pb.StartPool(bars...)
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}
	r.pool = pool
	return r, nil
}

// Handler returns the rawimport.ProgressFunc to pass as PullOptions.Progress
// for the given URL.
func (r *Reporter) Handler(u string) rawimport.ProgressFunc {
	return func(ev rawimport.ProgressEvent) {
		if r.jsonOut {
			r.mu.Lock()
			enc := json.NewEncoder(r.out)
			_ = enc.Encode(ev)
			r.mu.Unlock()
			return
		}
		if r.quiet {
			return
		}
		bar, ok := r.bars[u]
		if !ok {
			return
		}
		bar.SetTotal(ev.Total)
		bar.SetCurrent(ev.Downloaded)
	}
}

// Done marks u's bar finished, reflecting success or failure in its prefix.
func (r *Reporter) Done(u string, err error) {
	if r.jsonOut {
		return
	}
	if r.quiet {
		if err != nil {
			fmt.Fprintf(r.out, "%s: %v\n", u, err)
		} else {
			fmt.Fprintf(r.out, "%s: done\n", u)
		}
		return
	}
	bar, ok := r.bars[u]
	if !ok {
		return
	}
	if err != nil {
		bar.Set("prefix", shortName(u)+" [FAILED]")
	} else {
		bar.SetCurrent(bar.Total())
	}
	bar.Finish()
}

// Close stops the bar pool, if one was started.
func (r *Reporter) Close() {
	if r.pool != nil {
		_ = r.pool.Stop()
	}
}

// shortName renders a URL down to its last path segment, for a compact bar
// label.
func shortName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return raw
	}
	return strings.TrimSpace(base)
}
