// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/authn/dpop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTokenServer answers token requests with reply and records what it
// received.
type testTokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []testTokenRequest
	nonce    string
	status   int
	reply    map[string]interface{}
}

type testTokenRequest struct {
	form     map[string]string
	user     string
	password string
	basic    bool
	proof    *dpop.Proof
}

func testStartTokenServer(t *testing.T) *testTokenServer {
	t.Helper()
	s := &testTokenServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *testTokenServer) serve(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = req.ParseForm()
	r := testTokenRequest{form: map[string]string{}}
	for k := range req.PostForm {
		r.form[k] = req.PostForm.Get(k)
	}
	r.user, r.password, r.basic = req.BasicAuth()
	if raw := req.Header.Get("DPoP"); raw != "" {
		p, err := dpop.ParseProof(raw)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.proof = p
	}
	s.requests = append(s.requests, r)

	w.Header().Set("Content-Type", "application/json")
	if s.nonce != "" && (r.proof == nil || r.proof.Nonce != s.nonce) {
		w.Header().Set("DPoP-Nonce", s.nonce)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "use_dpop_nonce"})
		return
	}
	w.WriteHeader(s.status)
	_ = json.NewEncoder(w).Encode(s.reply)
}

func (s *testTokenServer) received() []testTokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]testTokenRequest{}, s.requests...)
}

func TestTokenEndpoint_exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key, err := dpop.NewKey()
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	validReply := func(tokenType string) map[string]interface{} {
		return map[string]interface{}{
			"access_token":  "at",
			"id_token":      "it",
			"refresh_token": "rt",
			"token_type":    tokenType,
			"expires_in":    300,
		}
	}

	tests := []struct {
		name      string
		client    ClientInfo
		key       *dpop.Key
		verifier  string
		nonce     string
		status    int
		reply     map[string]interface{}
		wantReqs  int
		wantIsErr error
		wantCode  string
	}{
		{
			name:     "public-pkce",
			client:   ClientInfo{ClientID: "https://app.example.com/id"},
			verifier: "verifier",
			reply:    validReply("Bearer"),
			wantReqs: 1,
		},
		{
			name:     "confidential",
			client:   ClientInfo{ClientID: "client id", ClientSecret: "s&cret"},
			reply:    validReply("bearer"),
			wantReqs: 1,
		},
		{
			name:     "dpop",
			client:   ClientInfo{ClientID: "client"},
			key:      key,
			verifier: "verifier",
			reply:    validReply("DPoP"),
			wantReqs: 1,
		},
		{
			name:     "dpop-nonce-challenge",
			client:   ClientInfo{ClientID: "client"},
			key:      key,
			nonce:    "server-nonce",
			reply:    validReply("DPoP"),
			wantReqs: 2,
		},
		{
			name:      "token-type-mismatch",
			client:    ClientInfo{ClientID: "client"},
			key:       key,
			reply:     validReply("Bearer"),
			wantReqs:  1,
			wantIsErr: ErrTokenExchange,
		},
		{
			name:      "missing-token-type",
			client:    ClientInfo{ClientID: "client"},
			reply:     map[string]interface{}{"access_token": "at", "id_token": "it"},
			wantReqs:  1,
			wantIsErr: ErrTokenExchange,
		},
		{
			name:      "missing-id-token",
			client:    ClientInfo{ClientID: "client"},
			reply:     map[string]interface{}{"access_token": "at", "token_type": "Bearer"},
			wantReqs:  1,
			wantIsErr: ErrMissingIdToken,
		},
		{
			name:      "missing-access-token",
			client:    ClientInfo{ClientID: "client"},
			reply:     map[string]interface{}{"id_token": "it", "token_type": "Bearer"},
			wantReqs:  1,
			wantIsErr: ErrTokenExchange,
		},
		{
			name:      "oauth-error",
			client:    ClientInfo{ClientID: "client"},
			status:    http.StatusBadRequest,
			reply:     map[string]interface{}{"error": "invalid_grant", "error_description": "code expired"},
			wantReqs:  1,
			wantIsErr: ErrTokenExchange,
			wantCode:  "invalid_grant",
		},
		{
			name:      "server-error-without-code",
			client:    ClientInfo{ClientID: "client"},
			status:    http.StatusInternalServerError,
			reply:     map[string]interface{}{},
			wantReqs:  1,
			wantIsErr: ErrTokenExchange,
			wantCode:  "internal server error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			s := testStartTokenServer(t)
			s.nonce = tt.nonce
			s.reply = tt.reply
			if tt.status != 0 {
				s.status = tt.status
			}
			requested := TokenTypeBearer
			if tt.key != nil {
				requested = TokenTypeDPoP
			}
			te := &tokenEndpoint{
				fetcher:     s.Client(),
				endpoint:    s.URL + "/token",
				client:      tt.client,
				redirectURL: testRedirectURL,
				key:         tt.key,
				requested:   requested,
				now:         func() time.Time { return now },
			}

			got, err := te.exchange(ctx, "the-code", tt.verifier)
			reqs := s.received()
			assert.Len(reqs, tt.wantReqs)
			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				if tt.wantCode != "" {
					var tokenErr *TokenEndpointError
					require.ErrorAs(err, &tokenErr)
					assert.Equal(tt.wantCode, tokenErr.Code)
					assert.Equal(s.status, tokenErr.StatusCode)
					assert.NotContains(err.Error(), "{")
				}
				return
			}
			require.NoError(err)
			assert.Equal(AccessToken("at"), got.AccessToken)
			assert.Equal(IDToken("it"), got.IDToken)
			assert.Equal(RefreshToken("rt"), got.RefreshToken)
			assert.Equal(requested, got.TokenType)
			assert.Equal(now.Add(300*time.Second), got.Expiry)

			last := reqs[len(reqs)-1]
			assert.Equal(GrantTypeAuthorizationCode, last.form["grant_type"])
			assert.Equal("the-code", last.form["code"])
			assert.Equal(testRedirectURL, last.form["redirect_uri"])
			assert.Equal(tt.verifier, last.form["code_verifier"])
			assert.NotContains(last.form, "client_secret")
			if tt.client.ClientSecret != "" {
				require.True(last.basic)
				assert.Equal("client+id", last.user)
				assert.Equal("s%26cret", last.password)
				assert.NotContains(last.form, "client_id")
			} else {
				assert.False(last.basic)
				assert.Equal(tt.client.ClientID, last.form["client_id"])
			}
			if tt.key == nil {
				assert.Nil(last.proof)
				return
			}
			require.NotNil(last.proof)
			require.NoError(last.proof.Matches(http.MethodPost, te.endpoint))
			assert.Equal(tt.nonce, last.proof.Nonce)
			if tt.nonce != "" {
				first := reqs[0]
				require.NotNil(first.proof)
				assert.Empty(first.proof.Nonce)
				assert.Equal(first.form, last.form)
			}
		})
	}
}

func TestTokenEndpoint_refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key, err := dpop.NewKey()
	require.NoError(t, err)

	t.Run("rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testStartTokenServer(t)
		s.nonce = "server-nonce"
		s.reply = map[string]interface{}{"access_token": "at2", "refresh_token": "rt2", "token_type": "DPoP"}
		r := &issuerRefresher{
			fetcher:   s.Client(),
			endpoint:  s.URL + "/token",
			client:    ClientInfo{ClientID: "client"},
			tokenType: TokenTypeDPoP,
		}
		got, err := r.Refresh(ctx, "rt1", key)
		require.NoError(err)
		assert.Equal(AccessToken("at2"), got.AccessToken)
		assert.Equal(RefreshToken("rt2"), got.RefreshToken)
		assert.Empty(got.IDToken)

		reqs := s.received()
		require.Len(reqs, 2)
		assert.Equal(GrantTypeRefreshToken, reqs[1].form["grant_type"])
		assert.Equal("rt1", reqs[1].form["refresh_token"])
		assert.Equal("client", reqs[1].form["client_id"])
		assert.Equal("server-nonce", reqs[1].proof.Nonce)
	})
	t.Run("not-rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testStartTokenServer(t)
		s.reply = map[string]interface{}{"access_token": "at2", "token_type": "Bearer"}
		r := &issuerRefresher{
			fetcher:   s.Client(),
			endpoint:  s.URL + "/token",
			client:    ClientInfo{ClientID: "client", ClientSecret: "secret"},
			tokenType: TokenTypeBearer,
		}
		got, err := r.Refresh(ctx, "rt1", nil)
		require.NoError(err)
		assert.Equal(AccessToken("at2"), got.AccessToken)
		assert.Equal(RefreshToken("rt1"), got.RefreshToken)
		assert.True(s.received()[0].basic)
	})
	t.Run("revoked", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := testStartTokenServer(t)
		s.status = http.StatusBadRequest
		s.reply = map[string]interface{}{"error": "invalid_grant"}
		r := &issuerRefresher{
			fetcher:   s.Client(),
			endpoint:  s.URL + "/token",
			client:    ClientInfo{ClientID: "client"},
			tokenType: TokenTypeBearer,
		}
		_, err := r.Refresh(ctx, "rt1", nil)
		var tokenErr *TokenEndpointError
		require.ErrorAs(err, &tokenErr)
		assert.Equal("invalid_grant", tokenErr.Code)
	})
	t.Run("empty", func(t *testing.T) {
		r := &issuerRefresher{fetcher: http.DefaultClient, endpoint: "https://issuer.example.com/token"}
		_, err := r.Refresh(ctx, "", nil)
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
}
