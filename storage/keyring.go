// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the OS keyring service KeyringBackend writes under
// when none is given.
const DefaultKeyringService = "authn"

// KeyringBackend stores values in the operating system keyring. It is meant
// for the secure tier.
type KeyringBackend struct {
	service string
}

// ensure KeyringBackend implements the Backend interface
var _ Backend = (*KeyringBackend)(nil)

// NewKeyringBackend creates a KeyringBackend for service. An empty service
// uses DefaultKeyringService.
func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringBackend{service: service}
}

// Get implements Backend.Get
func (k *KeyringBackend) Get(_ context.Context, key string) (string, bool, error) {
	const op = "KeyringBackend.Get"
	v, err := keyring.Get(k.service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

// Set implements Backend.Set
func (k *KeyringBackend) Set(_ context.Context, key, value string) error {
	const op = "KeyringBackend.Set"
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Backend.Delete
func (k *KeyringBackend) Delete(_ context.Context, key string) error {
	const op = "KeyringBackend.Delete"
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
