// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// supportedSigningAlgs is used when the issuer does not advertise its
// id_token signing algorithms.
var supportedSigningAlgs = []string{
	oidc.RS256, oidc.RS384, oidc.RS512,
	oidc.ES256, oidc.ES384, oidc.ES512,
	oidc.PS256, oidc.PS384, oidc.PS512,
	oidc.EdDSA,
}

// idTokenVerifier verifies id_tokens, keeping one remote key set per JWKS
// URI.
type idTokenVerifier struct {
	fetcher Fetcher
	now     func() time.Time

	mu      sync.Mutex
	keySets map[string]*oidc.RemoteKeySet
}

func newIDTokenVerifier(f Fetcher, now func() time.Time) *idTokenVerifier {
	if now == nil {
		now = time.Now
	}
	return &idTokenVerifier{fetcher: f, now: now, keySets: make(map[string]*oidc.RemoteKeySet)}
}

func (v *idTokenVerifier) keySet(jwksURI string) *oidc.RemoteKeySet {
	v.mu.Lock()
	defer v.mu.Unlock()
	ks, ok := v.keySets[jwksURI]
	if !ok {
		// the key set outlives any single request, so it gets a background
		// context carrying only the http client
		ks = oidc.NewRemoteKeySet(clientContext(context.Background(), v.fetcher), jwksURI)
		v.keySets[jwksURI] = ks
	}
	return ks
}

// verifyOptions qualify one verification.
type verifyOptions struct {
	issuer   string
	jwksURI  string
	clientID string
	algs     []string

	// nonce is checked when not empty.
	nonce string

	// skipExpiry allows an expired id_token, used when re-checking a stored
	// token.
	skipExpiry bool
}

// verify checks the iss, signature, aud and exp of raw, then the nonce.
func (v *idTokenVerifier) verify(ctx context.Context, raw IDToken, opts verifyOptions) (*oidc.IDToken, IdentityClaims, error) {
	const op = "idTokenVerifier.verify"
	var claims IdentityClaims
	switch {
	case raw == "":
		return nil, claims, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	case opts.issuer == "":
		return nil, claims, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	case opts.jwksURI == "":
		return nil, claims, fmt.Errorf("%s: jwks uri is empty: %w", op, ErrInvalidParameter)
	case opts.clientID == "":
		return nil, claims, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	// a token from another issuer is rejected before its keys are fetched
	var unverified IdentityClaims
	if err := raw.UnverifiedClaims(&unverified); err != nil {
		return nil, claims, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerification, err)
	}
	if unverified.Issuer != opts.issuer {
		return nil, claims, fmt.Errorf("%s: %w: issued by %q, expected %q", op, ErrIdTokenVerification, unverified.Issuer, opts.issuer)
	}

	algs := opts.algs
	if len(algs) == 0 {
		algs = supportedSigningAlgs
	}
	verifier := oidc.NewVerifier(opts.issuer, v.keySet(opts.jwksURI), &oidc.Config{
		ClientID:             opts.clientID,
		SupportedSigningAlgs: algs,
		SkipExpiryCheck:      opts.skipExpiry,
		Now:                  v.now,
	})
	tok, err := verifier.Verify(clientContext(ctx, v.fetcher), string(raw))
	if err != nil {
		return nil, claims, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerification, err)
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, claims, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerification, err)
	}
	if opts.nonce != "" && tok.Nonce != opts.nonce {
		return nil, claims, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	return tok, claims, nil
}
