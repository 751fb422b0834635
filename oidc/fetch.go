// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hashicorp/authn/dpop"
	"golang.org/x/sync/singleflight"
)

// Fetcher performs HTTP requests. *http.Client satisfies it.
type Fetcher interface {
	Do(*http.Request) (*http.Response, error)
}

// FetchFunc is an authenticated request function.
type FetchFunc func(*http.Request) (*http.Response, error)

// Do implements Fetcher, so a FetchFunc can be handed to anything that takes
// a Fetcher.
func (f FetchFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenRefresher exchanges a refresh token for new tokens. key is nil for
// Bearer tokens.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken RefreshToken, key *dpop.Key) (*TokenSet, error)
}

// RefreshOptions enable refresh-and-retry on an authenticated fetch.
type RefreshOptions struct {
	RefreshToken RefreshToken
	Refresher    TokenRefresher

	// OnRotate is called after the issuer returned a new refresh token.
	OnRotate func(ctx context.Context, tokens *TokenSet)
}

// credentials is one immutable generation of a cell's tokens.
type credentials struct {
	access     AccessToken
	refresh    RefreshToken
	generation uint64
}

// credentialCell owns the tokens of one authenticated fetch. Readers always
// see one complete generation.
type credentialCell struct {
	mu    sync.RWMutex
	creds credentials
	group singleflight.Group
}

func newCredentialCell(access AccessToken, refresh RefreshToken) *credentialCell {
	return &credentialCell{creds: credentials{access: access, refresh: refresh}}
}

func (c *credentialCell) load() credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// refresh rotates the cell's tokens unless another caller already did so
// after the generation from was loaded. Concurrent callers share one
// refresh.
func (c *credentialCell) refresh(ctx context.Context, from uint64, opts *RefreshOptions, key *dpop.Key) (credentials, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		cur := c.load()
		if cur.generation != from {
			return cur, nil
		}
		if cur.refresh == "" {
			return nil, fmt.Errorf("no refresh token: %w", ErrTokenExchange)
		}
		tokens, err := opts.Refresher.Refresh(ctx, cur.refresh, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.creds.access = tokens.AccessToken
		if tokens.RefreshToken != "" {
			c.creds.refresh = tokens.RefreshToken
		}
		c.creds.generation++
		next := c.creds
		c.mu.Unlock()
		if opts.OnRotate != nil && tokens.RefreshToken != "" {
			opts.OnRotate(ctx, tokens)
		}
		return next, nil
	})
	if err != nil {
		return credentials{}, err
	}
	return v.(credentials), nil
}

func isAuthError(resp *http.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

// bufferBody makes the request body replayable.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return nil
}

// cloneRequest copies req for one attempt, with a fresh body.
func cloneRequest(req *http.Request, target string) (*http.Request, error) {
	out := req.Clone(req.Context())
	if target != "" && target != req.URL.String() {
		u, err := req.URL.Parse(target)
		if err != nil {
			return nil, err
		}
		out.URL = u
		out.Host = ""
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
}

type authorizer func(req *http.Request, creds credentials) error

// buildFetch is shared by the Bearer and DPoP fetches. followRedirect
// enables the DPoP retry against a redirected URL.
func buildFetch(f Fetcher, cell *credentialCell, refresh *RefreshOptions, key *dpop.Key, authorize authorizer, followRedirect bool) FetchFunc {
	send := func(req *http.Request, target string, creds credentials) (*http.Response, error) {
		attempt, err := cloneRequest(req, target)
		if err != nil {
			return nil, err
		}
		if err := authorize(attempt, creds); err != nil {
			return nil, err
		}
		return f.Do(attempt)
	}

	return func(req *http.Request) (*http.Response, error) {
		const op = "oidc.FetchFunc"
		if req == nil {
			return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
		}
		if err := bufferBody(req); err != nil {
			return nil, fmt.Errorf("%s: unable to buffer request body: %w", op, err)
		}
		creds := cell.load()
		target := req.URL.String()

		resp, err := send(req, target, creds)
		if err != nil {
			return nil, err
		}

		if followRedirect && isAuthError(resp) && resp.Request != nil {
			final := resp.Request.URL
			if final.String() != target && sameOrigin(req.URL.Scheme, req.URL.Host, final.Scheme, final.Host) {
				drain(resp)
				target = final.String()
				resp, err = send(req, target, creds)
				if err != nil {
					return nil, err
				}
			}
		}

		if !isAuthError(resp) || refresh == nil || refresh.Refresher == nil {
			return resp, nil
		}

		next, err := cell.refresh(context.WithoutCancel(req.Context()), creds.generation, refresh, key)
		if err != nil {
			// the original auth failure is more useful than the refresh error
			return resp, nil
		}
		drain(resp)
		return send(req, target, next)
	}
}

func sameOrigin(s1, h1, s2, h2 string) bool {
	return s1 == s2 && h1 == h2
}

// BuildBearerFetch returns a FetchFunc sending "Authorization: Bearer" with
// token. When refresh is set, a 401 or 403 triggers one refresh and one
// replay.
func BuildBearerFetch(f Fetcher, token AccessToken, refresh *RefreshOptions) FetchFunc {
	var rt RefreshToken
	if refresh != nil {
		rt = refresh.RefreshToken
	}
	cell := newCredentialCell(token, rt)
	return buildFetch(f, cell, refresh, nil, func(req *http.Request, creds credentials) error {
		req.Header.Set("Authorization", "Bearer "+string(creds.access))
		return nil
	}, false)
}

// BuildDPoPFetch returns a FetchFunc sending "Authorization: DPoP" with
// token and a fresh proof signed by key for every request. A same-origin
// redirect ending in 401 or 403 is retried once at the final URL with a new
// proof.
func BuildDPoPFetch(f Fetcher, token AccessToken, key *dpop.Key, refresh *RefreshOptions, opt ...dpop.Option) FetchFunc {
	var rt RefreshToken
	if refresh != nil {
		rt = refresh.RefreshToken
	}
	cell := newCredentialCell(token, rt)
	return buildFetch(f, cell, refresh, key, func(req *http.Request, creds credentials) error {
		proofOpts := append([]dpop.Option{dpop.WithAccessToken(string(creds.access))}, opt...)
		proof, err := dpop.CreateProof(key, req.URL.String(), req.Method, proofOpts...)
		if err != nil {
			return fmt.Errorf("oidc.BuildDPoPFetch: %w", err)
		}
		req.Header.Set("Authorization", "DPoP "+string(creds.access))
		req.Header.Set("DPoP", proof)
		return nil
	}, true)
}
