// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hashicorp/authn/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirectURL = "https://app.example.com/callback"

type testResponse struct {
	State       string            `json:"state"`
	Session     *oidc.SessionInfo `json:"session,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	Description string            `json:"description,omitempty"`
}

func testSuccessFn(state string, r *oidc.RedirectResult, w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(testResponse{State: state, Session: r.Session, RedirectURL: r.RedirectURL})
}

func testFailFn(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	resp := testResponse{State: state}
	switch {
	case respErr != nil:
		w.WriteHeader(http.StatusUnauthorized)
		resp.Error, resp.Description = respErr.Error, respErr.Description
	default:
		w.WriteHeader(http.StatusInternalServerError)
		resp.Error = e.Error()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func testNewClientAuthentication(t *testing.T, tp *oidc.TestProvider) *oidc.ClientAuthentication {
	t.Helper()
	cfg, err := oidc.NewConfig(oidc.WithFetcher(tp.HTTPClient()))
	require.NoError(t, err)
	ca, err := oidc.NewClientAuthentication(cfg)
	require.NoError(t, err)
	return ca
}

func TestRedirect(t *testing.T) {
	t.Parallel()
	tp := oidc.StartTestProvider(t)
	ca := testNewClientAuthentication(t, tp)

	tests := []struct {
		name      string
		ca        *oidc.ClientAuthentication
		sFn       SuccessResponseFunc
		eFn       ErrorResponseFunc
		wantIsErr error
	}{
		{name: "valid", ca: ca, sFn: testSuccessFn, eFn: testFailFn},
		{name: "nil-ca", sFn: testSuccessFn, eFn: testFailFn, wantIsErr: oidc.ErrInvalidParameter},
		{name: "nil-sFn", ca: ca, eFn: testFailFn, wantIsErr: oidc.ErrInvalidParameter},
		{name: "nil-eFn", ca: ca, sFn: testSuccessFn, wantIsErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := Redirect(tt.ca, tt.sFn, tt.eFn)
			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func TestRedirect_responses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// startLogin returns the URL the issuer sent the user agent back to.
	startLogin := func(t *testing.T, tp *oidc.TestProvider, ca *oidc.ClientAuthentication) string {
		t.Helper()
		res, err := ca.Login(ctx, oidc.LoginOptions{OIDCIssuer: tp.Addr(), RedirectURL: testRedirectURL})
		require.NoError(t, err)
		require.NotNil(t, res.Redirect)
		back, err := tp.Authorize(ctx, res.Redirect.URL)
		require.NoError(t, err)
		return back
	}

	tests := []struct {
		name       string
		request    func(t *testing.T, tp *oidc.TestProvider, ca *oidc.ClientAuthentication) *http.Request
		wantStatus int
		wantErr    string
		check      func(t *testing.T, tp *oidc.TestProvider, got testResponse)
	}{
		{
			name: "logged-in",
			request: func(t *testing.T, tp *oidc.TestProvider, ca *oidc.ClientAuthentication) *http.Request {
				return httptest.NewRequest(http.MethodGet, startLogin(t, tp, ca)+"&lang=en", nil)
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, tp *oidc.TestProvider, got testResponse) {
				require.NotNil(t, got.Session)
				assert.True(t, got.Session.IsLoggedIn)
				assert.Equal(t, tp.WebID(), got.Session.WebID)
				assert.Equal(t, testRedirectURL+"?lang=en", got.RedirectURL)
				assert.NotEmpty(t, got.State)
			},
		},
		{
			name: "form-post",
			request: func(t *testing.T, tp *oidc.TestProvider, ca *oidc.ClientAuthentication) *http.Request {
				back, err := url.Parse(startLogin(t, tp, ca))
				require.NoError(t, err)
				req := httptest.NewRequest(http.MethodPost, testRedirectURL, strings.NewReader(back.RawQuery))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, _ *oidc.TestProvider, got testResponse) {
				require.NotNil(t, got.Session)
				assert.True(t, got.Session.IsLoggedIn)
				assert.Equal(t, testRedirectURL, got.RedirectURL)
			},
		},
		{
			name: "issuer-error",
			request: func(*testing.T, *oidc.TestProvider, *oidc.ClientAuthentication) *http.Request {
				return httptest.NewRequest(http.MethodGet, testRedirectURL+"?state=s&error=access_denied&error_description=denied", nil)
			},
			wantStatus: http.StatusUnauthorized,
			check: func(t *testing.T, _ *oidc.TestProvider, got testResponse) {
				assert.Equal(t, "access_denied", got.Error)
				assert.Equal(t, "denied", got.Description)
				assert.Equal(t, "s", got.State)
			},
		},
		{
			name: "unknown-state",
			request: func(*testing.T, *oidc.TestProvider, *oidc.ClientAuthentication) *http.Request {
				return httptest.NewRequest(http.MethodGet, testRedirectURL+"?code=c&state=forged", nil)
			},
			wantStatus: http.StatusInternalServerError,
			wantErr:    oidc.ErrUnknownState.Error(),
		},
		{
			name: "not-a-redirect",
			request: func(*testing.T, *oidc.TestProvider, *oidc.ClientAuthentication) *http.Request {
				return httptest.NewRequest(http.MethodGet, testRedirectURL, nil)
			},
			wantStatus: http.StatusInternalServerError,
			wantErr:    "not an authorization response",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := oidc.StartTestProvider(t)
			ca := testNewClientAuthentication(t, tp)
			h, err := Redirect(ca, testSuccessFn, testFailFn)
			require.NoError(err)

			rec := httptest.NewRecorder()
			h(rec, tt.request(t, tp, ca))
			assert.Equal(tt.wantStatus, rec.Code)

			var got testResponse
			require.NoError(json.NewDecoder(rec.Body).Decode(&got))
			if tt.wantErr != "" {
				assert.Contains(got.Error, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, tp, got)
			}
		})
	}
}

func TestRequestURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{
			name: "https",
			req:  httptest.NewRequest(http.MethodGet, "https://app.example.com/cb?state=s&code=c", nil),
			want: "https://app.example.com/cb?code=c&state=s",
		},
		{
			name: "http",
			req:  httptest.NewRequest(http.MethodGet, "http://localhost:8080/cb", nil),
			want: "http://localhost:8080/cb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequestURL(tt.req))
		})
	}
}
