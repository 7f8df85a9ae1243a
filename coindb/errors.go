// Copyright (c) 2025 The coinforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coindb

import "errors"

var (
	// ErrUnknownOutput is returned when an operation references an
	// outpoint the catalog has no unspent record of.
	ErrUnknownOutput = errors.New("unknown output")

	// ErrExpectedLockedOutput is returned by the strict unlock path when
	// the referenced output is not currently locked.
	ErrExpectedLockedOutput = errors.New("expected locked output")

	// ErrOutputAlreadyLeased is returned when a reservation lease is
	// requested for an output already leased under a different lease ID.
	ErrOutputAlreadyLeased = errors.New("output already leased")

	// ErrLeaseNotHeld is returned when releasing a lease that is not held
	// under the given lease ID.
	ErrLeaseNotHeld = errors.New("lease not held by this id")

	// ErrDuplicateOutput is returned when inserting a coin whose outpoint
	// is already present in the catalog.
	ErrDuplicateOutput = errors.New("duplicate output")
)
