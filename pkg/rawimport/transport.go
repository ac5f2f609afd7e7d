// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"context"
	"net/http"
	"time"
)

// Transport is the collaborator contract spec.md calls the "transport
// adapter": something that can execute one HTTP request and return its
// response. A *http.Client satisfies it via httpTransport below.
//
// Retry/timeout/TLS policy, and whether redirects are followed, are the
// transport's responsibility — rawimport installs no CheckRedirect and does
// not retry (spec: "the download does not retry; retry is a caller
// concern").
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// httpTransport adapts *http.Client to Transport.
type httpTransport struct {
	client *http.Client
}

func (t httpTransport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}

// defaultTransport builds the transport used when NewSession is given nil,
// mirroring the teacher's buildHTTPClient: a plain client with conservative
// connection-pool tuning and no overall timeout (callers control duration
// via the context passed to Pull).
func defaultTransport() Transport {
	return httpTransport{client: &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          64,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}}
}
