// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/storage"
)

// RefreshTokenStrategy logs in silently by exchanging a refresh token.
type RefreshTokenStrategy struct {
	completer *loginCompleter
}

// Name implements LoginStrategy.
func (s *RefreshTokenStrategy) Name() string { return "RefreshTokenStrategy" }

// CanHandle implements LoginStrategy.
func (s *RefreshTokenStrategy) CanHandle(o *OidcOptions) bool {
	return o != nil && o.IssuerConfig != nil &&
		o.RefreshToken != "" &&
		o.IssuerConfig.SupportsGrant(GrantTypeRefreshToken) &&
		flowAllows(o.Flow, FlowRefreshToken)
}

// Handle implements LoginStrategy.
func (s *RefreshTokenStrategy) Handle(ctx context.Context, o *OidcOptions) (*LoginResult, error) {
	const op = "RefreshTokenStrategy.Handle"
	c := s.completer
	var key *dpop.Key
	if o.DPoP {
		if err := c.keys.GenerateClientKeyIfNotAlready(ctx, o.SessionID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		var err error
		if key, err = c.keys.GetClientKey(ctx, o.SessionID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	tokens, err := c.refresher(o.IssuerConfig, o.Client, o.DPoP).Refresh(context.WithoutCancel(ctx), o.RefreshToken, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tokens.RefreshToken == "" {
		// issuers without rotation keep the old token valid
		tokens.RefreshToken = o.RefreshToken
	}
	webID, err := c.store.Get(ctx, o.SessionID, keyWebID, storage.WithSecure(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	info, fetch, err := c.complete(ctx, completion{
		sessionID: o.SessionID,
		config:    o.IssuerConfig,
		client:    o.Client,
		tokens:    tokens,
		dpop:      o.DPoP,
		webID:     webID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &LoginResult{Session: info, Fetch: fetch}, nil
}
