// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import (
	"log"
	"os"
)

// stdLogger is rawimport's only logging sink: a plain *log.Logger writing
// to stderr, matching the teacher's own preference for the standard
// library's log package over a structured logging dependency. Best-effort
// filesystem operations (nocow, xattr, timestamps, chmod, local-copy) log
// through here rather than failing the download (spec §7).
var stdLogger = log.New(os.Stderr, "rawimport: ", log.LstdFlags)
