// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const testRedirectURL = "https://app.example.com/callback"

// testCountingFetcher counts the requests it forwards.
type testCountingFetcher struct {
	next Fetcher
	n    atomic.Int64
}

func (f *testCountingFetcher) Do(req *http.Request) (*http.Response, error) {
	f.n.Add(1)
	return f.next.Do(req)
}

// testRedirector records every navigation event.
type testRedirector struct {
	mu     sync.Mutex
	events []testRedirect
}

type testRedirect struct {
	url  string
	opts RedirectOptions
}

func (r *testRedirector) Redirect(_ context.Context, url string, opts RedirectOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, testRedirect{url: url, opts: opts})
	return nil
}

func (r *testRedirector) last() (testRedirect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return testRedirect{}, false
	}
	return r.events[len(r.events)-1], true
}

// testNewClientAuthentication creates a ClientAuthentication talking to tp.
func testNewClientAuthentication(t *testing.T, tp *TestProvider, opt ...Option) (*ClientAuthentication, *testRedirector) {
	t.Helper()
	r := &testRedirector{}
	opts := append([]Option{WithFetcher(tp.HTTPClient()), WithRedirector(r)}, opt...)
	cfg, err := NewConfig(opts...)
	require.NoError(t, err)
	ca, err := NewClientAuthentication(cfg)
	require.NoError(t, err)
	return ca, r
}

// testLogin runs a full authorization code login against tp.
func testLogin(t *testing.T, ctx context.Context, ca *ClientAuthentication, tp *TestProvider, opts LoginOptions) *RedirectResult {
	t.Helper()
	require := require.New(t)
	if opts.OIDCIssuer == "" {
		opts.OIDCIssuer = tp.Addr()
	}
	if opts.RedirectURL == "" {
		opts.RedirectURL = testRedirectURL
	}
	res, err := ca.Login(ctx, opts)
	require.NoError(err)
	require.NotNil(res.Redirect)
	back, err := tp.Authorize(ctx, res.Redirect.URL)
	require.NoError(err)
	rr, err := ca.HandleIncomingRedirect(ctx, back)
	require.NoError(err)
	require.NotNil(rr)
	return rr
}

// testGet performs a GET of tp's protected resource with fetch.
func testGet(t *testing.T, ctx context.Context, fetch func(*http.Request) (*http.Response, error), target string) int {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	require.NoError(t, err)
	resp, err := fetch(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}
