// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import "time"

// progressTracker implements spec.md §4.4's rate-limited reporting rule: an
// event is emitted only if at least one second has elapsed since the last
// emission AND the percentage has changed. ETA is only computed once at
// least one second has elapsed since the download started and at least one
// byte has arrived.
type progressTracker struct {
	url        string
	start      time.Time
	lastEmit   time.Time
	lastPct    int
	haveLastPct bool
}

func newProgressTracker(url string) *progressTracker {
	now := time.Now()
	return &progressTracker{url: url, start: now, lastEmit: now}
}

// maybeEmit returns (event, true) when an emission is due.
func (t *progressTracker) maybeEmit(downloaded, total int64) (ProgressEvent, bool) {
	if total <= 0 {
		return ProgressEvent{}, false
	}
	now := time.Now()
	pct := int(100 * downloaded / total)

	if t.haveLastPct && pct == t.lastPct {
		return ProgressEvent{}, false
	}
	if now.Sub(t.lastEmit) < time.Second {
		return ProgressEvent{}, false
	}

	ev := ProgressEvent{
		Time:       now,
		URL:        t.url,
		Percent:    pct,
		Downloaded: downloaded,
		Total:      total,
	}
	if now.Sub(t.start) >= time.Second && downloaded > 0 {
		ev.ETA = time.Duration(float64(total) / float64(downloaded) * float64(now.Sub(t.start))) - now.Sub(t.start)
	}

	t.lastEmit = now
	t.lastPct = pct
	t.haveLastPct = true
	return ev, true
}
