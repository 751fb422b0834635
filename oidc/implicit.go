// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

const implicitResponseType = "id_token token"

// ImplicitStrategy is the legacy implicit flow. Tokens come back on the
// redirect and no token endpoint is involved.
type ImplicitStrategy struct {
	redirectingStrategy
}

// NewImplicitStrategy creates an ImplicitStrategy.
func NewImplicitStrategy(store *storage.Utility, keys *dpop.KeyManager, r Redirector, logger hclog.Logger, proofOpts ...dpop.Option) *ImplicitStrategy {
	return &ImplicitStrategy{newRedirectingStrategy(store, keys, r, logger, proofOpts)}
}

// Name implements LoginStrategy.
func (s *ImplicitStrategy) Name() string { return "ImplicitStrategy" }

// CanHandle implements LoginStrategy.
func (s *ImplicitStrategy) CanHandle(o *OidcOptions) bool {
	return o != nil && o.IssuerConfig != nil &&
		o.IssuerConfig.SupportsGrant(GrantTypeImplicit) &&
		flowAllows(o.Flow, FlowImplicit)
}

// Handle implements LoginStrategy.
func (s *ImplicitStrategy) Handle(ctx context.Context, o *OidcOptions) (*LoginResult, error) {
	const op = "ImplicitStrategy.Handle"
	u, err := url.Parse(o.IssuerConfig.AuthorizationEndpoint)
	if err != nil || o.IssuerConfig.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("%s: issuer %q has no valid authorization endpoint: %w", op, o.Issuer, ErrConfiguration)
	}
	state, err := NewID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := NewID("n")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.begin(ctx, o, FlowImplicit, state, map[string]string{keyNonce: nonce}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q := u.Query()
	q.Set("response_type", implicitResponseType)
	q.Set("client_id", o.Client.ClientID)
	q.Set("redirect_uri", o.RedirectURL)
	q.Set("scope", strings.Join(scopes(o.Scopes), " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("prompt", prompt(o))
	if l := uiLocales(o); l != "" {
		q.Set("ui_locales", l)
	}
	if o.DPoP {
		key, err := s.keys.GetClientKey(ctx, o.SessionID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		proof, err := dpop.CreateProof(key, o.Issuer, http.MethodGet, s.proofOpts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		q.Set("dpop", proof)
	}
	u.RawQuery = q.Encode()
	authURL := u.String()

	if err := s.emit(ctx, o, authURL); err != nil {
		return nil, fmt.Errorf("%s: unable to redirect: %w", op, err)
	}
	s.logger.Debug("redirecting for implicit flow", "session_id", o.SessionID, "issuer", o.Issuer)
	return &LoginResult{Redirect: &RedirectInstruction{URL: authURL, State: state}}, nil
}
