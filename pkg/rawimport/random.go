// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package rawimport

import "github.com/google/uuid"

// newRandomSuffix returns a short, filesystem-safe random token used to
// build temp-file names. Bound to github.com/google/uuid rather than
// hand-rolling one from crypto/rand, since the corpus already carries the
// dependency (tonimelisma-onedrive-go) for exactly this purpose.
func newRandomSuffix() string {
	return uuid.NewString()
}
