// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"sync"
)

// OnFinished is invoked once per Session, when every download registered at
// the time has reached a terminal state (success, failure, or cancel),
// carrying the first error encountered (nil if every download succeeded).
// This is the Go rendering of spec §4.1's one-shot session-wide
// "finish(error)": since Go gives every Pull its own result channel (see
// Pull), OnFinished only needs to cover the aggregate "the whole batch is
// done" event a CLI driving multiple URLs in one session cares about.
type OnFinished func(s *Session, err error)

// Session is the process-wide coordinator described in spec §3/§4.1: it
// owns one Transport and a map from URL to in-flight download.
type Session struct {
	imageRoot string
	transport Transport
	onFinished OnFinished

	mu        sync.Mutex
	downloads map[string]*download
	wg        sync.WaitGroup

	finishOnce sync.Once
	firstErr   error
	closed     bool
}

// NewSession binds a session to imageRoot, which must exist (spec §3:
// "image_root: ... must exist at finalize time"). A nil transport uses the
// package default (a plain *http.Client, see transport.go). A nil
// onFinished means the caller only cares about individual Pull results.
func NewSession(imageRoot string, transport Transport, onFinished OnFinished) (*Session, error) {
	if imageRoot == "" {
		return nil, newErr(KindInvalidArgument, "", fmt.Errorf("image_root is required"))
	}
	if fi, err := os.Stat(imageRoot); err != nil || !fi.IsDir() {
		return nil, newErr(KindInvalidArgument, "", fmt.Errorf("image_root %q must be an existing directory", imageRoot))
	}
	if transport == nil {
		transport = defaultTransport()
	}
	return &Session{
		imageRoot:  imageRoot,
		transport:  transport,
		onFinished: onFinished,
		downloads:  make(map[string]*download),
	}, nil
}

// Pull validates url and opts.Local, registers a new download, and starts
// its state machine in the background (spec §4.1 "pull"). It returns
// immediately with a validation error, or nil plus a channel that receives
// exactly one value — the download's terminal result — once it finishes.
func (s *Session) Pull(ctx context.Context, rawURL string, opts PullOptions) (<-chan error, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, newErr(KindInvalidArgument, rawURL, err)
	}
	if opts.Local != "" && !validMachineName(opts.Local) {
		return nil, newErr(KindInvalidArgument, rawURL, fmt.Errorf("invalid local name %q", opts.Local))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, newErr(KindInvalidArgument, rawURL, fmt.Errorf("session is closed"))
	}
	if _, exists := s.downloads[rawURL]; exists {
		s.mu.Unlock()
		return nil, newErr(KindAlreadyExists, rawURL, nil)
	}

	d := newDownload(s, rawURL, opts)
	dctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	s.downloads[rawURL] = d
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(dctx, d)
	}()

	return d.resultCh, nil
}

// Cancel removes url's download, if any, and cancels its context
// synchronously (spec §4.1 "cancel"). Safe to call from inside another
// download's completion, including from OnFinished.
func (s *Session) Cancel(rawURL string) bool {
	s.mu.Lock()
	d, ok := s.downloads[rawURL]
	if ok {
		delete(s.downloads, rawURL)
	}
	s.mu.Unlock()

	if ok {
		d.cancel()
	}
	return ok
}

// downloadFinished is called by run() exactly once per download, and wires
// the aggregate OnFinished latch.
func (s *Session) downloadFinished(d *download, err error) {
	s.mu.Lock()
	if cur, ok := s.downloads[d.url]; ok && cur == d {
		delete(s.downloads, d.url)
	}
	if s.firstErr == nil && err != nil {
		s.firstErr = err
	}
	remaining := len(s.downloads)
	s.mu.Unlock()

	if remaining == 0 {
		s.finish()
	}
}

// finish is the one-shot latch from spec §4.1 "finish(error)".
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		if s.onFinished != nil {
			s.onFinished(s, s.firstErr)
		} else if s.firstErr != nil {
			log.Printf("rawimport: session finished with error: %v", s.firstErr)
		}
	})
}

// Close cancels every remaining download and waits for their goroutines to
// unwind (spec §4.1 "destroy"). It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := make([]context.CancelFunc, 0, len(s.downloads))
	for url, d := range s.downloads {
		cancels = append(cancels, d.cancel)
		delete(s.downloads, url)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	s.wg.Wait()
	return nil
}

// validateURL rejects anything that is not an absolute http(s) URL.
func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (want http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// machineNameRE matches the "machine name" grammar spec §4.1 requires for
// the optional writable-local-copy name: letters, digits, '-', '_', '.',
// not starting with '.', no path separators.
var machineNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func validMachineName(name string) bool {
	return machineNameRE.MatchString(name)
}
