// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

const (
	ScopeOpenID        = "openid"
	ScopeWebID         = "webid"
	ScopeOfflineAccess = "offline_access"

	// defaultPrompt makes issuers return a refresh token for offline_access.
	defaultPrompt = "consent"
)

var defaultScope = strings.Join([]string{ScopeOpenID, ScopeWebID, ScopeOfflineAccess}, " ")

// scopes returns the default scopes followed by extra, without duplicates.
func scopes(extra []string) []string {
	out := []string{ScopeOpenID, ScopeWebID, ScopeOfflineAccess}
	seen := map[string]bool{ScopeOpenID: true, ScopeWebID: true, ScopeOfflineAccess: true}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// redirectingStrategy holds what the strategies that send the user agent to
// the issuer share.
type redirectingStrategy struct {
	store      *storage.Utility
	keys       *dpop.KeyManager
	redirector Redirector
	logger     hclog.Logger
	proofOpts  []dpop.Option
}

func newRedirectingStrategy(store *storage.Utility, keys *dpop.KeyManager, r Redirector, logger hclog.Logger, proofOpts []dpop.Option) redirectingStrategy {
	if r == nil {
		r = NoopRedirector()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return redirectingStrategy{store: store, keys: keys, redirector: r, logger: logger, proofOpts: proofOpts}
}

// begin stores the correlation data of a new authorization request and
// generates the session's DPoP key when needed.
func (r *redirectingStrategy) begin(ctx context.Context, o *OidcOptions, flow Flow, state string, extra map[string]string) error {
	if o.DPoP {
		if err := r.keys.GenerateClientKeyIfNotAlready(ctx, o.SessionID); err != nil {
			return err
		}
	}
	values := map[string]string{
		keyIssuer:      o.Issuer,
		keyRedirectURI: o.RedirectURL,
		keyDPoP:        strconv.FormatBool(o.DPoP),
		keyOAuthState:  state,
		keyFlow:        string(flow),
		keyClientID:    o.Client.ClientID,
	}
	for k, v := range extra {
		values[k] = v
	}
	if err := r.store.Set(ctx, o.SessionID, values); err != nil {
		return err
	}
	return r.store.Set(ctx, state, map[string]string{keySessionID: o.SessionID})
}

// emit delivers the authorization URL to the caller's handler or the
// Redirector.
func (r *redirectingStrategy) emit(ctx context.Context, o *OidcOptions, authURL string) error {
	if o.HandleRedirect != nil {
		o.HandleRedirect(authURL)
		return nil
	}
	return r.redirector.Redirect(ctx, authURL, RedirectOptions{})
}

func prompt(o *OidcOptions) string {
	if o.Prompt != "" {
		return o.Prompt
	}
	return defaultPrompt
}

func uiLocales(o *OidcOptions) string {
	tags := make([]string, 0, len(o.UILocales))
	for _, t := range o.UILocales {
		tags = append(tags, t.String())
	}
	return strings.Join(tags, " ")
}

// authCodeStrategy sends the user agent to the authorization endpoint for a
// code, with or without PKCE.
type authCodeStrategy struct {
	redirectingStrategy
	name string
	flow Flow
	pkce bool
}

// NewAuthorizationCodeWithPKCEStrategy returns the authorization code flow
// with an S256 PKCE challenge.
func NewAuthorizationCodeWithPKCEStrategy(store *storage.Utility, keys *dpop.KeyManager, r Redirector, logger hclog.Logger) LoginStrategy {
	return &authCodeStrategy{
		redirectingStrategy: newRedirectingStrategy(store, keys, r, logger, nil),
		name:                "AuthorizationCodeWithPKCEStrategy",
		flow:                FlowAuthorizationCodeWithPKCE,
		pkce:                true,
	}
}

// NewAuthorizationCodeStrategy returns the plain authorization code flow. It
// only matches when selected explicitly.
func NewAuthorizationCodeStrategy(store *storage.Utility, keys *dpop.KeyManager, r Redirector, logger hclog.Logger) LoginStrategy {
	return &authCodeStrategy{
		redirectingStrategy: newRedirectingStrategy(store, keys, r, logger, nil),
		name:                "AuthorizationCodeStrategy",
		flow:                FlowAuthorizationCode,
	}
}

func (s *authCodeStrategy) Name() string { return s.name }

func (s *authCodeStrategy) CanHandle(o *OidcOptions) bool {
	if o == nil || o.IssuerConfig == nil || !o.IssuerConfig.SupportsGrant(GrantTypeAuthorizationCode) {
		return false
	}
	if s.pkce {
		return flowAllows(o.Flow, s.flow)
	}
	return o.Flow == s.flow
}

func (s *authCodeStrategy) Handle(ctx context.Context, o *OidcOptions) (*LoginResult, error) {
	op := s.name + ".Handle"
	if o.IssuerConfig.AuthorizationEndpoint == "" {
		return nil, fmt.Errorf("%s: issuer %q has no authorization endpoint: %w", op, o.Issuer, ErrConfiguration)
	}
	state, err := NewID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := NewID("n")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg := oauth2.Config{
		ClientID:    o.Client.ClientID,
		RedirectURL: o.RedirectURL,
		Scopes:      scopes(o.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.IssuerConfig.AuthorizationEndpoint,
			TokenURL: o.IssuerConfig.TokenEndpoint,
		},
	}
	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", prompt(o)),
	}
	if l := uiLocales(o); l != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("ui_locales", l))
	}
	extra := map[string]string{keyNonce: nonce}
	if s.pkce {
		verifier := oauth2.GenerateVerifier()
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
		extra[keyCodeVerifier] = verifier
	}

	if err := s.begin(ctx, o, s.flow, state, extra); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authURL := cfg.AuthCodeURL(state, authOpts...)
	if err := s.emit(ctx, o, authURL); err != nil {
		return nil, fmt.Errorf("%s: unable to redirect: %w", op, err)
	}
	s.logger.Debug("redirecting to authorization endpoint", "session_id", o.SessionID, "issuer", o.Issuer, "pkce", s.pkce)
	return &LoginResult{Redirect: &RedirectInstruction{URL: authURL, State: state}}, nil
}
