// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrKeyUnavailable is returned when a proof is requested before the
	// session's key was generated.
	ErrKeyUnavailable = errors.New("dpop key unavailable")

	ErrInvalidProof = errors.New("invalid dpop proof")
	ErrExpiredProof = errors.New("expired dpop proof")
)
