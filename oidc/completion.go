// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// loginCompleter turns tokens into a logged in session. It is the only code
// that marks a session as logged in.
type loginCompleter struct {
	store     *storage.Utility
	keys      *dpop.KeyManager
	verifier  *idTokenVerifier
	fetcher   Fetcher
	logger    hclog.Logger
	proofOpts []dpop.Option
	now       func() time.Time
}

// completion is one finished token exchange.
type completion struct {
	sessionID string
	config    *IssuerConfig
	client    ClientInfo
	tokens    *TokenSet
	dpop      bool

	// nonce is checked against the id_token when set.
	nonce string

	// webID is used when the tokens carry no id_token, as a refresh may.
	webID string
}

func (c *loginCompleter) complete(ctx context.Context, in completion) (*SessionInfo, FetchFunc, error) {
	const op = "loginCompleter.complete"
	webID := in.webID
	if in.tokens.IDToken != "" {
		_, claims, err := c.verifier.verify(ctx, in.tokens.IDToken, verifyOptions{
			issuer:   in.config.Issuer,
			jwksURI:  in.config.JWKSURI,
			clientID: in.client.ClientID,
			algs:     in.config.IDTokenSigningAlgValuesSupported,
			nonce:    in.nonce,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if webID, err = DeriveWebID(claims); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if webID == "" {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrIdentityDerivation)
	}

	var key *dpop.Key
	if in.dpop {
		var err error
		if key, err = c.keys.GetClientKey(ctx, in.sessionID); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if key == nil {
			return nil, nil, fmt.Errorf("%s: %w", op, dpop.ErrKeyUnavailable)
		}
	}

	secure := map[string]string{
		keyIsLoggedIn: strconv.FormatBool(true),
		keyIssuer:     in.config.Issuer,
		keyWebID:      webID,
	}
	if in.tokens.RefreshToken != "" {
		secure[keyRefreshToken] = string(in.tokens.RefreshToken)
	}
	if err := c.store.Set(ctx, in.sessionID, secure, storage.WithSecure(true)); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	insecure := map[string]string{
		keyClientID: in.client.ClientID,
		keyIssuer:   in.config.Issuer,
		keyDPoP:     strconv.FormatBool(in.dpop),
	}
	if in.tokens.IDToken != "" {
		insecure[keyIDToken] = string(in.tokens.IDToken)
	}
	if err := c.store.Set(ctx, in.sessionID, insecure); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	fetch := c.buildFetch(in, key)
	c.logger.Debug("session logged in", "session_id", in.sessionID, "issuer", in.config.Issuer, "dpop", in.dpop)
	return &SessionInfo{
		SessionID:  in.sessionID,
		IsLoggedIn: true,
		WebID:      webID,
		Issuer:     in.config.Issuer,
	}, fetch, nil
}

func (c *loginCompleter) refresher(cfg *IssuerConfig, client ClientInfo, dpopBound bool) *issuerRefresher {
	tt := TokenTypeBearer
	if dpopBound {
		tt = TokenTypeDPoP
	}
	return &issuerRefresher{
		fetcher:   c.fetcher,
		endpoint:  cfg.TokenEndpoint,
		client:    client,
		tokenType: tt,
		proofOpts: c.proofOpts,
		now:       c.now,
	}
}

func (c *loginCompleter) buildFetch(in completion, key *dpop.Key) FetchFunc {
	var refresh *RefreshOptions
	if in.tokens.RefreshToken != "" && in.config.TokenEndpoint != "" {
		sessionID := in.sessionID
		refresh = &RefreshOptions{
			RefreshToken: in.tokens.RefreshToken,
			Refresher:    c.refresher(in.config, in.client, in.dpop),
			OnRotate: func(ctx context.Context, tokens *TokenSet) {
				err := c.store.Set(ctx, sessionID, map[string]string{keyRefreshToken: string(tokens.RefreshToken)}, storage.WithSecure(true))
				if err != nil {
					c.logger.Error("unable to store rotated refresh token", "session_id", sessionID, "error", err)
				}
			},
		}
	}
	if in.dpop {
		return BuildDPoPFetch(c.fetcher, in.tokens.AccessToken, key, refresh, c.proofOpts...)
	}
	return BuildBearerFetch(c.fetcher, in.tokens.AccessToken, refresh)
}
