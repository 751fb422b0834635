// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// ClientAuthentication is the entry point of the engine: it logs sessions in
// and out, handles redirects back from issuers and performs authenticated
// requests for the current session.
type ClientAuthentication struct {
	config    *Config
	store     *storage.Utility
	configs   *IssuerConfigFetcher
	verifier  *idTokenVerifier
	login     *OidcLoginHandler
	redirect  *AuthCodeRedirectHandler
	sessions  *SessionInfoManager
	logger    hclog.Logger
	proofOpts []dpop.Option

	mu      sync.RWMutex
	fetches map[string]FetchFunc
}

// NewClientAuthentication composes a ClientAuthentication from c.
func NewClientAuthentication(c *Config) (*ClientAuthentication, error) {
	const op = "oidc.NewClientAuthentication"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	logger := c.Logger
	store, err := storage.NewUtility(c.SecureStorage, c.InsecureStorage, storage.WithLogger(logger.Named("storage")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	keys, err := dpop.NewKeyManager(store, dpop.WithLogger(logger.Named("dpop")))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	configs, err := NewIssuerConfigFetcher(c.Fetcher,
		WithConfigCacheTTL(c.ConfigCacheTTL),
		WithLogger(logger.Named("issuer")),
		WithNow(c.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	registrar, err := NewClientRegistrar(store, c.Fetcher, logger.Named("registrar"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sessions, err := NewSessionInfoManager(store)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	proofOpts := []dpop.Option{dpop.WithProofExpiry(c.ProofExpiry), dpop.WithNow(c.Now)}
	verifier := newIDTokenVerifier(c.Fetcher, c.Now)
	completer := &loginCompleter{
		store:     store,
		keys:      keys,
		verifier:  verifier,
		fetcher:   c.Fetcher,
		logger:    logger.Named("session"),
		proofOpts: proofOpts,
		now:       c.Now,
	}

	strategyLogger := logger.Named("login")
	strategy, err := NewAggregateLoginStrategy("OidcLoginHandler",
		&RefreshTokenStrategy{completer: completer},
		NewClientCredentialsStrategy(),
		NewPrimaryDeviceStrategy(),
		NewSecondaryDeviceStrategy(),
		NewAuthorizationCodeStrategy(store, keys, c.Redirector, strategyLogger),
		NewAuthorizationCodeWithPKCEStrategy(store, keys, c.Redirector, strategyLogger),
		NewImplicitStrategy(store, keys, c.Redirector, strategyLogger, proofOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	login, err := NewOidcLoginHandler(configs, registrar, store, strategy, strategyLogger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ClientAuthentication{
		config:   c,
		store:    store,
		configs:  configs,
		verifier: verifier,
		login:    login,
		redirect: &AuthCodeRedirectHandler{
			store:      store,
			configs:    configs,
			keys:       keys,
			completer:  completer,
			fetcher:    c.Fetcher,
			redirector: c.Redirector,
			logger:     logger.Named("redirect"),
			proofOpts:  proofOpts,
		},
		sessions:  sessions,
		logger:    logger,
		proofOpts: proofOpts,
		fetches:   make(map[string]FetchFunc),
	}, nil
}

// Login starts a login for opts.SessionID, generating a session id when
// none is given. Local data of the session is cleared first unless a
// refresh token allows a silent login.
func (ca *ClientAuthentication) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	const op = "ClientAuthentication.Login"
	opts = opts.withDefaults()
	if opts.RefreshToken == "" {
		stored, err := ca.store.Get(ctx, opts.SessionID, keyRefreshToken, storage.WithSecure(true))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if stored == "" {
			if err := ca.sessions.Clear(ctx, opts.SessionID); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			ca.forget(opts.SessionID)
		}
	}
	res, err := ca.login.Login(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.Session != nil && res.Fetch != nil {
		if err := ca.activate(ctx, res.Session.SessionID, res.Fetch); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return res, nil
}

// HandleIncomingRedirect completes a login when rawURL is an authorization
// response. Any other URL yields nil, nil.
func (ca *ClientAuthentication) HandleIncomingRedirect(ctx context.Context, rawURL string) (*RedirectResult, error) {
	const op = "ClientAuthentication.HandleIncomingRedirect"
	if !ca.redirect.CanHandle(rawURL) {
		return nil, nil
	}
	res, err := ca.redirect.Handle(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ca.activate(ctx, res.Session.SessionID, res.Fetch); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Logout clears everything stored for the session locally. The issuer is
// not contacted.
func (ca *ClientAuthentication) Logout(ctx context.Context, sessionID string) error {
	const op = "ClientAuthentication.Logout"
	if err := ca.sessions.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ca.forget(sessionID)
	current, _, err := ca.store.GetGlobal(ctx, keyCurrentSession)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if current == sessionID {
		if err := ca.store.DeleteGlobal(ctx, keyCurrentSession); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	ca.logger.Debug("session logged out", "session_id", sessionID)
	return nil
}

// Fetch sends req with the credentials of the current session, or
// unauthenticated when no session is logged in.
func (ca *ClientAuthentication) Fetch(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("ClientAuthentication.Fetch: request is nil: %w", ErrNilParameter)
	}
	current, _, err := ca.store.GetGlobal(req.Context(), keyCurrentSession)
	if err != nil {
		return nil, fmt.Errorf("ClientAuthentication.Fetch: %w", err)
	}
	if fetch, ok := ca.SessionFetch(current); ok {
		return fetch(req)
	}
	return ca.config.Fetcher.Do(req)
}

// SessionFetch returns the authenticated fetch of a session logged in
// through this ClientAuthentication.
func (ca *ClientAuthentication) SessionFetch(sessionID string) (FetchFunc, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	f, ok := ca.fetches[sessionID]
	return f, ok
}

// GetSessionInfo returns what storage holds about the session, or nil.
func (ca *ClientAuthentication) GetSessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	const op = "ClientAuthentication.GetSessionInfo"
	info, err := ca.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return info, nil
}

// GetCurrentIssuer returns the issuer of the current session once its stored
// id_token verifies against that issuer and the stored client id. Expiry is
// not checked. Any failure reports false.
func (ca *ClientAuthentication) GetCurrentIssuer(ctx context.Context) (string, bool) {
	sessionID, ok, err := ca.store.GetGlobal(ctx, keyCurrentSession)
	if err != nil || !ok || sessionID == "" {
		return "", false
	}
	read := func(key string) string {
		v, err := ca.store.Get(ctx, sessionID, key)
		if err != nil {
			return ""
		}
		return v
	}
	issuer, idToken, clientID := read(keyIssuer), read(keyIDToken), read(keyClientID)
	if issuer == "" || idToken == "" || clientID == "" {
		return "", false
	}
	cfg, err := ca.configs.FetchConfig(ctx, issuer)
	if err != nil {
		ca.logger.Debug("current issuer unavailable", "session_id", sessionID, "error", err)
		return "", false
	}
	_, _, err = ca.verifier.verify(ctx, IDToken(idToken), verifyOptions{
		issuer:     issuer,
		jwksURI:    cfg.JWKSURI,
		clientID:   clientID,
		algs:       cfg.IDTokenSigningAlgValuesSupported,
		skipExpiry: true,
	})
	if err != nil {
		ca.logger.Debug("stored id_token does not verify", "session_id", sessionID, "error", err)
		return "", false
	}
	return issuer, true
}

func (ca *ClientAuthentication) activate(ctx context.Context, sessionID string, fetch FetchFunc) error {
	ca.mu.Lock()
	ca.fetches[sessionID] = fetch
	ca.mu.Unlock()
	return ca.store.SetGlobal(ctx, keyCurrentSession, sessionID)
}

func (ca *ClientAuthentication) forget(sessionID string) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	delete(ca.fetches, sessionID)
}
