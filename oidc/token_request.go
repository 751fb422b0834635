// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/authn/dpop"
	"golang.org/x/oauth2"
)

// tokenEndpoint exchanges grants at one issuer's token endpoint.
type tokenEndpoint struct {
	fetcher     Fetcher
	endpoint    string
	client      ClientInfo
	redirectURL string

	// key signs a DPoP proof for every request when set.
	key       *dpop.Key
	proofOpts []dpop.Option

	// requested is the token_type the response must carry.
	requested TokenType

	now func() time.Time
}

func (t *tokenEndpoint) config() *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if t.client.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     t.client.ClientID,
		ClientSecret: string(t.client.ClientSecret),
		RedirectURL:  t.redirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  t.endpoint,
			AuthStyle: style,
		},
	}
}

// context carries the http client x/oauth2 sends the request with.
func (t *tokenEndpoint) context(ctx context.Context) context.Context {
	client := httpClientFor(t.fetcher)
	if t.key != nil {
		client = &http.Client{Transport: &dpopTransport{
			next:      t.fetcher,
			key:       t.key,
			proofOpts: t.proofOpts,
		}}
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// exchange redeems an authorization code. verifier is empty when the code
// was requested without PKCE.
func (t *tokenEndpoint) exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	const op = "oidc.tokenEndpoint.exchange"
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := t.config().Exchange(t.context(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, tokenError(err))
	}
	ts, err := t.tokenSet(tok, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

func (t *tokenEndpoint) refresh(ctx context.Context, refreshToken RefreshToken) (*TokenSet, error) {
	const op = "oidc.tokenEndpoint.refresh"
	src := t.config().TokenSource(t.context(ctx), &oauth2.Token{RefreshToken: string(refreshToken)})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, tokenError(err))
	}
	ts, err := t.tokenSet(tok, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

func (t *tokenEndpoint) tokenSet(tok *oauth2.Token, requireIDToken bool) (*TokenSet, error) {
	idToken, _ := tok.Extra("id_token").(string)
	switch {
	case requireIDToken && idToken == "":
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, ErrMissingIdToken)
	case tok.TokenType == "":
		return nil, fmt.Errorf("%w: response has no token_type", ErrTokenExchange)
	case !t.requested.Matches(tok.TokenType):
		return nil, fmt.Errorf("%w: requested token_type %s but issuer returned %s", ErrTokenExchange, t.requested, tok.TokenType)
	}
	ts := &TokenSet{
		AccessToken:  AccessToken(tok.AccessToken),
		IDToken:      IDToken(idToken),
		RefreshToken: RefreshToken(tok.RefreshToken),
		TokenType:    t.requested,
		Expiry:       tok.Expiry,
	}
	if tok.ExpiresIn > 0 && t.now != nil {
		ts.Expiry = t.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return ts, nil
}

// tokenError converts an x/oauth2 error, dropping any response body.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	e := &TokenEndpointError{Code: re.ErrorCode, Description: re.ErrorDescription}
	if re.Response != nil {
		e.StatusCode = re.Response.StatusCode
	}
	if e.Code == "" {
		e.Code = strings.ToLower(http.StatusText(e.StatusCode))
	}
	return e
}

// dpopTransport adds a DPoP proof to every request. A use_dpop_nonce
// challenge is answered once.
type dpopTransport struct {
	next      Fetcher
	key       *dpop.Key
	proofOpts []dpop.Option
}

// RoundTrip implements http.RoundTripper.
func (t *dpopTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.send(req, req.Body, "")
	if err != nil {
		return nil, err
	}
	nonce := resp.Header.Get("DPoP-Nonce")
	challenged := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized
	if nonce == "" || !challenged || req.GetBody == nil {
		return resp, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	var oauthErr struct {
		Code string `json:"error"`
	}
	if err := json.Unmarshal(raw, &oauthErr); err != nil || oauthErr.Code != "use_dpop_nonce" {
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return resp, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	return t.send(req, body, nonce)
}

func (t *dpopTransport) send(req *http.Request, body io.ReadCloser, nonce string) (*http.Response, error) {
	opts := append([]dpop.Option{}, t.proofOpts...)
	if nonce != "" {
		opts = append(opts, dpop.WithNonce(nonce))
	}
	proof, err := dpop.CreateProof(t.key, req.URL.String(), req.Method, opts...)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	out.Header.Set("DPoP", proof)
	return t.next.Do(out)
}

// issuerRefresher implements TokenRefresher against one issuer's token
// endpoint.
type issuerRefresher struct {
	fetcher   Fetcher
	endpoint  string
	client    ClientInfo
	tokenType TokenType
	proofOpts []dpop.Option
	now       func() time.Time
}

// Refresh implements TokenRefresher.
func (r *issuerRefresher) Refresh(ctx context.Context, refreshToken RefreshToken, key *dpop.Key) (*TokenSet, error) {
	const op = "issuerRefresher.Refresh"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	te := &tokenEndpoint{
		fetcher:   r.fetcher,
		endpoint:  r.endpoint,
		client:    r.client,
		key:       key,
		proofOpts: r.proofOpts,
		requested: r.tokenType,
		now:       r.now,
	}
	ts, err := te.refresh(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}
