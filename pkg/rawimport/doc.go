// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package rawimport downloads one or more remote disk images over HTTP(S),
transparently decompresses XZ-framed streams, converts qcow2 containers to
raw form, and caches the result under a content-addressed name keyed by the
source URL and the server's ETag.

# Quick start

	sess, err := rawimport.NewSession("/var/lib/images", nil, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()

	resultCh, err := sess.Pull(context.Background(), "https://example.com/disk.raw.xz",
		rawimport.PullOptions{Local: "myvm", ForceLocal: true})
	if err != nil {
		log.Fatal(err)
	}
	if err := <-resultCh; err != nil {
		log.Fatal(err)
	}

A Session is a process-wide coordinator: it owns the HTTP transport and a map
from URL to in-flight download, and exposes Pull/Cancel/Close. Each Pull runs
its own state machine to completion (or failure) in a background goroutine,
reporting its terminal result on the channel Pull returns; OnFinished, if set
on the session, is invoked once every download registered so far has reached
a terminal state.

# Caching

Completed downloads are stored as

	<image_root>/.raw-<escape(url)>.<escape(etag)>.raw

read-only, with user.source_url and user.source_etag extended attributes. A
second Pull of the same URL sends If-None-Match with every previously seen
ETag; a 304 response (or an ETag match discovered from the Begin-time cache
scan) short-circuits to success without writing any bytes.
*/
package rawimport
