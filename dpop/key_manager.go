// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"fmt"

	"github.com/hashicorp/authn/internal/keylock"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// StorageKey is the secure storage field holding a session's key.
const StorageKey = "clientKey"

// KeyManager persists one Key per session in the secure storage tier.
type KeyManager struct {
	store  *storage.Utility
	logger hclog.Logger
	locks  keylock.Locker
}

// NewKeyManager creates a KeyManager on top of store.
//
// Supported options:
//   - WithLogger
func NewKeyManager(store *storage.Utility, opt ...Option) (*KeyManager, error) {
	const op = "dpop.NewKeyManager"
	if store == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	return &KeyManager{store: store, logger: opts.withLogger}, nil
}

// GenerateClientKeyIfNotAlready creates and stores a key for the session
// unless one exists. Concurrent calls for one session produce one key.
func (m *KeyManager) GenerateClientKeyIfNotAlready(ctx context.Context, sessionID string) error {
	const op = "KeyManager.GenerateClientKeyIfNotAlready"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	existing, err := m.GetClientKey(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return nil
	}
	key, err := NewKey()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.SetJSON(ctx, sessionID, StorageKey, key, storage.WithSecure(true)); err != nil {
		return fmt.Errorf("%s: unable to store key: %w", op, err)
	}
	m.logger.Debug("generated dpop key", "session_id", sessionID)
	return nil
}

// GetClientKey returns the session's key, or nil when none was generated.
func (m *KeyManager) GetClientKey(ctx context.Context, sessionID string) (*Key, error) {
	const op = "KeyManager.GetClientKey"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	var key Key
	ok, err := m.store.GetJSON(ctx, sessionID, StorageKey, &key, storage.WithSecure(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, nil
	}
	return &key, nil
}

// CreateProof signs a proof with the session's key. It fails with
// ErrKeyUnavailable when the session has no key.
func (m *KeyManager) CreateProof(ctx context.Context, sessionID, targetURL, method string, opt ...Option) (string, error) {
	const op = "KeyManager.CreateProof"
	key, err := m.GetClientKey(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	proof, err := CreateProof(key, targetURL, method, opt...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return proof, nil
}
