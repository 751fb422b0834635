// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
	"github.com/segmentio/ksuid"
)

// NewID generates an opaque random id with an optional prefix. It is
// suitable for an OAuth state, a nonce or a jti.
func NewID(prefix string) (string, error) {
	const op = "oidc.NewID"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIdGeneratorFailed, err)
	}
	if prefix != "" {
		return prefix + "_" + id, nil
	}
	return id, nil
}

// NewSessionID generates a session id. They sort by creation time.
func NewSessionID() string {
	return ksuid.New().String()
}
