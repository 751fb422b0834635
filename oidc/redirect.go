// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/internal/keylock"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// oauthParams are removed from a redirect URL once it was handled.
var oauthParams = []string{
	"code",
	"state",
	"id_token",
	"access_token",
}

// SanitizeRedirectURL removes the OAuth parameters from rawURL, keeping all
// other query parameters.
func SanitizeRedirectURL(rawURL string) (string, error) {
	const op = "oidc.SanitizeRedirectURL"
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	return sanitize(u), nil
}

func sanitize(u *url.URL) string {
	out := *u
	q := out.Query()
	for _, p := range oauthParams {
		q.Del(p)
	}
	out.RawQuery = q.Encode()
	return out.String()
}

// RedirectResult is a handled redirect.
type RedirectResult struct {
	Session *SessionInfo
	Fetch   FetchFunc

	// RedirectURL is the URL with the OAuth parameters removed.
	RedirectURL string
}

// AuthCodeRedirectHandler completes a login when the issuer redirects back.
// Redirects carrying the same state are handled once; concurrent callers
// share the result and later callers fail with ErrUnknownState.
type AuthCodeRedirectHandler struct {
	store      *storage.Utility
	configs    *IssuerConfigFetcher
	keys       *dpop.KeyManager
	completer  *loginCompleter
	fetcher    Fetcher
	redirector Redirector
	logger     hclog.Logger
	proofOpts  []dpop.Option

	group singleflight.Group
	locks keylock.Locker
}

// CanHandle reports whether rawURL is an authorization response: it carries
// state and one of code, id_token or access_token.
func (h *AuthCodeRedirectHandler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return canHandle(u.Query())
}

func canHandle(q url.Values) bool {
	if q.Get("state") == "" {
		return false
	}
	return q.Get("code") != "" || q.Get("id_token") != "" || q.Get("access_token") != ""
}

// Handle completes the login the redirect belongs to.
func (h *AuthCodeRedirectHandler) Handle(ctx context.Context, rawURL string) (*RedirectResult, error) {
	const op = "AuthCodeRedirectHandler.Handle"
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	q := u.Query()
	if !canHandle(q) {
		return nil, fmt.Errorf("%s: url is not an authorization response: %w", op, ErrInvalidParameter)
	}
	state := q.Get("state")
	v, err, shared := h.group.Do(state, func() (interface{}, error) {
		// once started, the exchange runs to completion
		return h.handle(context.WithoutCancel(ctx), u, q)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if shared {
		h.logger.Debug("coalesced duplicate redirect")
	}
	return v.(*RedirectResult), nil
}

func (h *AuthCodeRedirectHandler) handle(ctx context.Context, u *url.URL, q url.Values) (*RedirectResult, error) {
	state := q.Get("state")
	sessionID, err := h.store.Get(ctx, state, keySessionID)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("state not found, it is forged, replayed or expired: %w", ErrUnknownState)
	}

	unlock := h.locks.Lock(sessionID)
	defer unlock()

	// another redirect for the session may have consumed the state while
	// this one waited
	again, err := h.store.Get(ctx, state, keySessionID)
	if err != nil {
		return nil, err
	}
	if again != sessionID {
		return nil, fmt.Errorf("state already consumed: %w", ErrUnknownState)
	}
	if err := h.store.DeleteAllUserData(ctx, state); err != nil {
		return nil, err
	}

	required := func(key string) (string, error) {
		return h.store.Get(ctx, sessionID, key, storage.WithErrorIfNull(true))
	}
	issuer, err := required(keyIssuer)
	if err != nil {
		return nil, err
	}
	redirectURI, err := required(keyRedirectURI)
	if err != nil {
		return nil, err
	}
	dpopFlag, err := required(keyDPoP)
	if err != nil {
		return nil, err
	}
	clientID, err := required(keyClientID)
	if err != nil {
		return nil, err
	}
	clientSecret, err := h.store.Get(ctx, sessionID, keyClientSecret)
	if err != nil {
		return nil, err
	}
	flow, err := h.store.Get(ctx, sessionID, keyFlow)
	if err != nil {
		return nil, err
	}
	nonce, err := h.store.Get(ctx, sessionID, keyNonce)
	if err != nil {
		return nil, err
	}
	useDPoP, err := strconv.ParseBool(dpopFlag)
	if err != nil {
		return nil, fmt.Errorf("session %q: stored dpop flag %q is invalid: %w", sessionID, dpopFlag, ErrInvalidParameter)
	}
	requested := TokenTypeBearer
	if useDPoP {
		requested = TokenTypeDPoP
	}
	client := ClientInfo{ClientID: clientID, ClientSecret: ClientSecret(clientSecret)}

	cfg, err := h.configs.FetchConfig(ctx, issuer)
	if err != nil {
		return nil, err
	}

	var tokens *TokenSet
	if code := q.Get("code"); code != "" {
		var verifier string
		if Flow(flow) != FlowAuthorizationCode {
			if verifier, err = required(keyCodeVerifier); err != nil {
				return nil, err
			}
		}
		var key *dpop.Key
		if useDPoP {
			if key, err = h.keys.GetClientKey(ctx, sessionID); err != nil {
				return nil, err
			}
			if key == nil {
				return nil, fmt.Errorf("session %q: %w", sessionID, dpop.ErrKeyUnavailable)
			}
		}
		te := &tokenEndpoint{
			fetcher:     h.fetcher,
			endpoint:    cfg.TokenEndpoint,
			client:      client,
			redirectURL: redirectURI,
			key:         key,
			proofOpts:   h.proofOpts,
			requested:   requested,
			now:         h.completer.now,
		}
		if tokens, err = te.exchange(ctx, code, verifier); err != nil {
			return nil, err
		}
	} else {
		if tokens, err = implicitTokens(q, requested); err != nil {
			return nil, err
		}
	}

	for _, k := range []string{keyCodeVerifier, keyNonce, keyOAuthState} {
		if err := h.store.Delete(ctx, sessionID, k); err != nil {
			return nil, err
		}
	}

	info, fetch, err := h.completer.complete(ctx, completion{
		sessionID: sessionID,
		config:    cfg,
		client:    client,
		tokens:    tokens,
		dpop:      useDPoP,
		nonce:     nonce,
	})
	if err != nil {
		return nil, err
	}

	clean := sanitize(u)
	if err := h.redirector.Redirect(ctx, clean, RedirectOptions{Replace: true}); err != nil {
		h.logger.Warn("unable to deliver sanitized redirect url", "session_id", sessionID, "error", err)
	}
	return &RedirectResult{Session: info, Fetch: fetch, RedirectURL: clean}, nil
}

// implicitTokens reads the tokens an implicit flow response carries in its
// query.
func implicitTokens(q url.Values, requested TokenType) (*TokenSet, error) {
	switch {
	case q.Get("access_token") == "":
		return nil, fmt.Errorf("%w: redirect has no access_token", ErrTokenExchange)
	case q.Get("id_token") == "":
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, ErrMissingIdToken)
	case !requested.Matches(q.Get("token_type")):
		return nil, fmt.Errorf("%w: requested token_type %s but issuer returned %q", ErrTokenExchange, requested, q.Get("token_type"))
	}
	return &TokenSet{
		AccessToken: AccessToken(q.Get("access_token")),
		IDToken:     IDToken(q.Get("id_token")),
		TokenType:   requested,
	}, nil
}
