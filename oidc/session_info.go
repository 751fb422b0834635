// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-multierror"
)

// SessionInfo describes a session. It never carries tokens.
type SessionInfo struct {
	SessionID  string `json:"sessionId"`
	IsLoggedIn bool   `json:"isLoggedIn"`
	WebID      string `json:"webId,omitempty"`
	Issuer     string `json:"issuer,omitempty"`
}

// SessionInfoManager reads and clears what storage holds about sessions.
type SessionInfoManager struct {
	store *storage.Utility
}

// NewSessionInfoManager creates a SessionInfoManager.
func NewSessionInfoManager(store *storage.Utility) (*SessionInfoManager, error) {
	const op = "oidc.NewSessionInfoManager"
	if store == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	return &SessionInfoManager{store: store}, nil
}

// Get returns the stored information about a session, or nil when storage
// holds nothing about it.
func (m *SessionInfoManager) Get(ctx context.Context, sessionID string) (*SessionInfo, error) {
	const op = "SessionInfoManager.Get"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	secure := func(key string) (string, error) {
		return m.store.Get(ctx, sessionID, key, storage.WithSecure(true))
	}
	loggedIn, err := secure(keyIsLoggedIn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	webID, err := secure(keyWebID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	refreshToken, err := secure(keyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	issuer, err := secure(keyIssuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	clientID, err := m.store.Get(ctx, sessionID, keyClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if loggedIn == "" && webID == "" && clientID == "" && refreshToken == "" {
		return nil, nil
	}
	if issuer == "" {
		if issuer, err = m.store.Get(ctx, sessionID, keyIssuer); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	isLoggedIn, _ := strconv.ParseBool(loggedIn)
	return &SessionInfo{
		SessionID:  sessionID,
		IsLoggedIn: isLoggedIn,
		WebID:      webID,
		Issuer:     issuer,
	}, nil
}

// Clear removes everything stored for a session, including a pending
// authorization request. Clearing an unknown session is not an error.
func (m *SessionInfoManager) Clear(ctx context.Context, sessionID string) error {
	const op = "SessionInfoManager.Clear"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	var result *multierror.Error
	state, err := m.store.Get(ctx, sessionID, keyOAuthState)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if state != "" {
		if err := m.store.DeleteAllUserData(ctx, state); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := m.store.DeleteAllUserData(ctx, sessionID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Update is not supported.
func (m *SessionInfoManager) Update(_ context.Context, _ string, _ *SessionInfo) error {
	return fmt.Errorf("SessionInfoManager.Update: %w", ErrNotImplemented)
}

// GetAll is not supported.
func (m *SessionInfoManager) GetAll(_ context.Context) ([]*SessionInfo, error) {
	return nil, fmt.Errorf("SessionInfoManager.GetAll: %w", ErrNotImplemented)
}
