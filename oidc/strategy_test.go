// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/hashicorp/authn/dpop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStrategy is a LoginStrategy with a fixed answer.
type testStrategy struct {
	name    string
	matches bool
	called  int
}

func (s *testStrategy) Name() string                { return s.name }
func (s *testStrategy) CanHandle(*OidcOptions) bool { return s.matches }
func (s *testStrategy) Handle(context.Context, *OidcOptions) (*LoginResult, error) {
	s.called++
	return &LoginResult{Redirect: &RedirectInstruction{URL: s.name}}, nil
}

func TestAggregateLoginStrategy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("first-match-wins", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		first := &testStrategy{name: "first"}
		second := &testStrategy{name: "second", matches: true}
		third := &testStrategy{name: "third", matches: true}
		a, err := NewAggregateLoginStrategy("agg", first, second, third)
		require.NoError(err)
		assert.Equal("agg", a.Name())
		assert.True(a.CanHandle(&OidcOptions{}))

		res, err := a.Handle(ctx, &OidcOptions{})
		require.NoError(err)
		assert.Equal("second", res.Redirect.URL)
		assert.Equal(0, first.called)
		assert.Equal(1, second.called)
		assert.Equal(0, third.called)
	})
	t.Run("handler-not-found", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a, err := NewAggregateLoginStrategy("agg", &testStrategy{name: "a"}, &testStrategy{name: "b"})
		require.NoError(err)
		assert.False(a.CanHandle(&OidcOptions{}))

		_, err = a.Handle(ctx, &OidcOptions{Issuer: "https://issuer.example.com"})
		require.ErrorIs(err, ErrHandlerNotFound)
		var nf *HandlerNotFoundError
		require.True(errors.As(err, &nf))
		assert.Equal("agg", nf.Handler)
		assert.Equal([]string{"a", "b"}, nf.Attempted)
		assert.Equal("https://issuer.example.com", nf.Options.Issuer)
	})
	t.Run("nil-options", func(t *testing.T) {
		a, err := NewAggregateLoginStrategy("agg", &testStrategy{name: "a", matches: true})
		require.NoError(t, err)
		_, err = a.Handle(ctx, nil)
		require.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := NewAggregateLoginStrategy("agg")
		require.ErrorIs(t, err, ErrInvalidParameter)
		_, err = NewAggregateLoginStrategy("agg", nil)
		require.ErrorIs(t, err, ErrNilParameter)
	})
}

func TestStrategies_CanHandle(t *testing.T) {
	t.Parallel()
	all := &IssuerConfig{GrantTypesSupported: []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeImplicit}}
	codeOnly := &IssuerConfig{GrantTypesSupported: []string{GrantTypeAuthorizationCode}}
	implicitOnly := &IssuerConfig{GrantTypesSupported: []string{GrantTypeImplicit}}

	refresh := &RefreshTokenStrategy{}
	clientCredentials := NewClientCredentialsStrategy()
	plain := NewAuthorizationCodeStrategy(nil, nil, nil, nil)
	pkce := NewAuthorizationCodeWithPKCEStrategy(nil, nil, nil, nil)
	implicit := NewImplicitStrategy(nil, nil, nil, nil)

	tests := []struct {
		name     string
		strategy LoginStrategy
		opts     *OidcOptions
		want     bool
	}{
		{"refresh", refresh, &OidcOptions{IssuerConfig: all, RefreshToken: "rt"}, true},
		{"refresh-no-token", refresh, &OidcOptions{IssuerConfig: all}, false},
		{"refresh-not-advertised", refresh, &OidcOptions{IssuerConfig: codeOnly, RefreshToken: "rt"}, false},
		{"refresh-other-flow", refresh, &OidcOptions{IssuerConfig: all, RefreshToken: "rt", Flow: FlowAuthorizationCodeWithPKCE}, false},
		{"client-credentials-auto", clientCredentials, &OidcOptions{IssuerConfig: all}, false},
		{"client-credentials-selected", clientCredentials, &OidcOptions{IssuerConfig: all, Flow: FlowClientCredentials}, true},
		{"plain-auto", plain, &OidcOptions{IssuerConfig: all}, false},
		{"plain-selected", plain, &OidcOptions{IssuerConfig: all, Flow: FlowAuthorizationCode}, true},
		{"plain-not-advertised", plain, &OidcOptions{IssuerConfig: implicitOnly, Flow: FlowAuthorizationCode}, false},
		{"pkce-auto", pkce, &OidcOptions{IssuerConfig: codeOnly}, true},
		{"pkce-selected", pkce, &OidcOptions{IssuerConfig: codeOnly, Flow: FlowAuthorizationCodeWithPKCE}, true},
		{"pkce-other-flow", pkce, &OidcOptions{IssuerConfig: all, Flow: FlowImplicit}, false},
		{"pkce-not-advertised", pkce, &OidcOptions{IssuerConfig: implicitOnly}, false},
		{"implicit-auto", implicit, &OidcOptions{IssuerConfig: implicitOnly}, true},
		{"implicit-not-advertised", implicit, &OidcOptions{IssuerConfig: codeOnly}, false},
		{"nil-config", pkce, &OidcOptions{}, false},
		{"nil-options", implicit, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.CanHandle(tt.opts))
		})
	}
}

func TestClientAuthentication_Login_redirects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name      string
		grants    []string
		opts      LoginOptions
		check     func(*assert.Assertions, url.Values)
		wantIsErr error
	}{
		{
			name: "pkce-by-default",
			check: func(assert *assert.Assertions, q url.Values) {
				assert.Equal("code", q.Get("response_type"))
				assert.Equal("S256", q.Get("code_challenge_method"))
				assert.NotEmpty(q.Get("code_challenge"))
				assert.NotEmpty(q.Get("nonce"))
				assert.Equal(defaultPrompt, q.Get("prompt"))
				assert.Equal(testRedirectURL, q.Get("redirect_uri"))
				assert.Equal([]string{ScopeOpenID, ScopeWebID, ScopeOfflineAccess, "profile"}, strings.Fields(q.Get("scope")))
				assert.Equal("en fr-CA", q.Get("ui_locales"))
			},
			opts: LoginOptions{Scopes: []string{"profile", ScopeOpenID}, UILocales: []string{"en", "fr-CA"}},
		},
		{
			name: "plain-code",
			opts: LoginOptions{Flow: FlowAuthorizationCode, Prompt: "none"},
			check: func(assert *assert.Assertions, q url.Values) {
				assert.Equal("code", q.Get("response_type"))
				assert.Empty(q.Get("code_challenge"))
				assert.Equal("none", q.Get("prompt"))
			},
		},
		{
			name:   "implicit-dpop",
			grants: []string{GrantTypeImplicit},
			check: func(assert *assert.Assertions, q url.Values) {
				assert.Equal(implicitResponseType, q.Get("response_type"))
				proof, err := dpop.ParseProof(q.Get("dpop"))
				if assert.NoError(err) {
					assert.Equal("GET", proof.HTM)
				}
			},
		},
		{
			name:   "implicit-bearer",
			grants: []string{GrantTypeImplicit},
			opts:   LoginOptions{TokenType: TokenTypeBearer},
			check: func(assert *assert.Assertions, q url.Values) {
				assert.Equal(implicitResponseType, q.Get("response_type"))
				assert.Empty(q.Get("dpop"))
			},
		},
		{
			name:      "client-credentials",
			opts:      LoginOptions{Flow: FlowClientCredentials},
			wantIsErr: ErrNotImplemented,
		},
		{
			name:      "secondary-device",
			opts:      LoginOptions{Flow: FlowSecondaryDevice},
			wantIsErr: ErrNotImplemented,
		},
		{
			name:      "no-supported-grant",
			grants:    []string{"urn:ietf:params:oauth:grant-type:device_code"},
			wantIsErr: ErrHandlerNotFound,
		},
		{
			name:      "invalid-options",
			opts:      LoginOptions{TokenType: "MAC"},
			wantIsErr: ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			if tt.grants != nil {
				tp.SetGrantTypes(tt.grants...)
			}
			ca, r := testNewClientAuthentication(t, tp)
			tt.opts.OIDCIssuer = tp.Addr()
			tt.opts.RedirectURL = testRedirectURL

			res, err := ca.Login(ctx, tt.opts)
			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			require.NotNil(res.Redirect)
			assert.Nil(res.Session)

			u, err := url.Parse(res.Redirect.URL)
			require.NoError(err)
			assert.Equal(tp.Addr()+"/auth", u.Scheme+"://"+u.Host+u.Path)
			q := u.Query()
			assert.Equal(res.Redirect.State, q.Get("state"))
			assert.NotEmpty(q.Get("client_id"))
			tt.check(assert, q)

			ev, ok := r.last()
			require.True(ok)
			assert.Equal(res.Redirect.URL, ev.url)
			assert.False(ev.opts.Replace)
		})
	}
}

func TestClientAuthentication_Login_handleRedirect(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	ca, r := testNewClientAuthentication(t, tp)

	var got string
	res, err := ca.Login(ctx, LoginOptions{
		OIDCIssuer:     tp.Addr(),
		RedirectURL:    testRedirectURL,
		HandleRedirect: func(u string) { got = u },
	})
	require.NoError(err)
	assert.Equal(res.Redirect.URL, got)
	_, ok := r.last()
	assert.False(ok, "redirector must not be used when HandleRedirect is set")
}
