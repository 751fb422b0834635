// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/authn/dpop"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testProviderKeyID     = "test-provider-key"
	testAccessTokenExpiry = 5 * time.Minute
)

// testAuthRequest is what /auth remembers about an issued code.
type testAuthRequest struct {
	clientID    string
	redirectURI string
	nonce       string
	challenge   string
}

// testAccessToken is an issued access token. jkt binds it to a DPoP key.
type testAccessToken struct {
	jkt     string
	expired bool
}

// TestProvider is a local TLS issuer that supports discovery, dynamic client
// registration, the authorization code (with PKCE) and implicit flows, the
// refresh_token grant and DPoP bound tokens. It also serves a protected
// resource at /resource that checks the presented credentials.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	signingPub  string
	signingPriv string

	mu                sync.Mutex
	clients           map[string]string
	subject           string
	customClaims      map[string]interface{}
	customAudience    string
	grantTypes        []string
	solidOIDC         bool
	disableRegister   bool
	disableJWKS       bool
	omitIDToken       bool
	omitRefreshToken  bool
	tokenTypeOverride string
	dpopNonce         string
	tokenDelay        time.Duration

	codes         map[string]testAuthRequest
	accessTokens  map[string]testAccessToken
	refreshTokens map[string]string
	tokenRequests int
	registrations int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test finishes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clients:       map[string]string{},
		grantTypes:    []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeImplicit},
		codes:         map[string]testAuthRequest{},
		accessTokens:  map[string]testAccessToken{},
		refreshTokens: map[string]string{},
		t:             t,
	}
	p.signingPub, p.signingPriv = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	p.subject = p.Addr() + "/profile/card#me"
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the issuer url of the test provider.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client trusting the test provider.
func (p *TestProvider) HTTPClient() *http.Client {
	return p.httpServer.Client()
}

// SigningKeys returns the test provider's pem-encoded keys used to sign
// id_tokens.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.signingPub, p.signingPriv
}

// WebID returns the WebID the test provider asserts in its id_tokens.
func (p *TestProvider) WebID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.webID()
}

func (p *TestProvider) webID() string {
	if v, ok := p.customClaims["webid"].(string); ok {
		return v
	}
	return p.subject
}

// SetClientCreds registers a static client. An empty secret makes it a
// public client.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[clientID] = clientSecret
}

// SetSubject configures the sub claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims lets you set claims to return in issued id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetGrantTypes configures the advertised grant_types_supported.
func (p *TestProvider) SetGrantTypes(grants ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grantTypes = grants
}

// SetSolidOIDCSupported toggles the solid_oidc_supported discovery value.
func (p *TestProvider) SetSolidOIDCSupported(supported bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.solidOIDC = supported
}

// DisableRegistration removes the registration endpoint.
func (p *TestProvider) DisableRegistration() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRegister = true
}

// DisableJWKS makes the jwks endpoint return 404.
func (p *TestProvider) DisableJWKS() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableJWKS = true
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens stops issuing refresh tokens.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// SetTokenType makes /token answer with tokenType instead of the type
// matching the request.
func (p *TestProvider) SetTokenType(tokenType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenTypeOverride = tokenType
}

// RequireDPoPNonce makes /token challenge proofs without nonce.
func (p *TestProvider) RequireDPoPNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dpopNonce = nonce
}

// SetTokenDelay delays every /token response.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// ExpireAccessTokens makes every access token issued so far invalid at
// /resource.
func (p *TestProvider) ExpireAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range p.accessTokens {
		v.expired = true
		p.accessTokens[k] = v
	}
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (p *TestProvider) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens = map[string]string{}
}

// TokenRequests returns the number of requests /token received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// Registrations returns the number of clients registered dynamically.
func (p *TestProvider) Registrations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registrations
}

// IDToken signs an id_token for clientID as /token would, without a nonce.
func (p *TestProvider) IDToken(clientID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken(clientID, "")
}

// Authorize follows authURL as a user agent that consents immediately and
// returns the redirect url the test provider sends it back to.
func (p *TestProvider) Authorize(ctx context.Context, authURL string) (string, error) {
	client := *p.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Header.Get("Location"), nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	p.writeJSON(w, statusCode, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/token" {
		p.mu.Lock()
		p.tokenRequests++
		delay := p.tokenDelay
		p.mu.Unlock()
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := IssuerConfig{
			Issuer:                           p.Addr(),
			AuthorizationEndpoint:            p.Addr() + "/auth",
			TokenEndpoint:                    p.Addr() + "/token",
			JWKSURI:                          p.Addr() + "/certs",
			GrantTypesSupported:              p.grantTypes,
			ScopesSupported:                  []string{ScopeOpenID, ScopeWebID, ScopeOfflineAccess},
			IDTokenSigningAlgValuesSupported: []string{string(jose.ES256)},
			TokenEndpointAuthMethods:         []string{AuthMethodClientSecretBasic, AuthMethodNone},
			DPoPSigningAlgValuesSupported:    []string{string(jose.ES256)},
		}
		if !p.disableRegister {
			reply.RegistrationEndpoint = p.Addr() + "/register"
		}
		if p.solidOIDC {
			reply.SolidOIDCSupported = SolidOIDCSpecURI
		}
		p.writeJSON(w, http.StatusOK, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handleAuth(w, req)

	case "/certs":
		if p.disableJWKS || req.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		key := TestParsePrivateKey(p.t, p.signingPriv)
		p.writeJSON(w, http.StatusOK, &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     testProviderKeyID,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		}}})

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handleToken(w, req)

	case "/register":
		if p.disableRegister || req.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p.handleRegister(w, req)

	case "/resource":
		p.handleResource(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	qv := req.URL.Query()
	state := qv.Get("state")
	redirectURI := qv.Get("redirect_uri")
	switch {
	case state == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case redirectURI == "":
		w.WriteHeader(http.StatusBadRequest)
		return
	case !strings.Contains(" "+qv.Get("scope")+" ", " "+ScopeOpenID+" "):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	}
	clientID := qv.Get("client_id")

	switch qv.Get("response_type") {
	case "code":
		if qv.Get("code_challenge") != "" && qv.Get("code_challenge_method") != "S256" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
			return
		}
		code, err := NewID("code")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		p.codes[code] = testAuthRequest{
			clientID:    clientID,
			redirectURI: redirectURI,
			nonce:       qv.Get("nonce"),
			challenge:   qv.Get("code_challenge"),
		}
		http.Redirect(w, req, redirectURI+"?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(state), http.StatusFound)

	case implicitResponseType:
		var jkt string
		if proof := qv.Get("dpop"); proof != "" {
			parsed, err := dpop.ParseProof(proof)
			if err == nil {
				jkt, err = parsed.Thumbprint()
			}
			if err != nil {
				p.writeAuthErrorResponse(w, req, "invalid_dpop_proof", "")
				return
			}
		}
		access := p.issueAccessToken(jkt)
		tokenType := string(TokenTypeBearer)
		if jkt != "" {
			tokenType = string(TokenTypeDPoP)
		}
		if p.tokenTypeOverride != "" {
			tokenType = p.tokenTypeOverride
		}
		v := url.Values{
			"state":        {state},
			"access_token": {access},
			"token_type":   {tokenType},
			"expires_in":   {strconv.Itoa(int(testAccessTokenExpiry.Seconds()))},
			"id_token":     {p.idToken(clientID, qv.Get("nonce"))},
		}
		http.Redirect(w, req, redirectURI+"?"+v.Encode(), http.StatusFound)

	default:
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
	}
}

// authenticateClient returns the client id of the request, or "" when
// client authentication fails.
func (p *TestProvider) authenticateClient(req *http.Request) string {
	if id, secret, ok := req.BasicAuth(); ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
		want, known := p.clients[id]
		if !known || want != secret {
			return ""
		}
		return id
	}
	id := req.FormValue("client_id")
	if want, known := p.clients[id]; known && want == "" {
		return id
	}
	if isURI(id) {
		// client identifier documents are public clients
		return id
	}
	return ""
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	var jkt string
	if proof := req.Header.Get("DPoP"); proof != "" {
		parsed, err := dpop.ParseProof(proof)
		if err == nil {
			err = parsed.Matches(http.MethodPost, p.Addr()+"/token")
		}
		if err == nil {
			jkt, err = parsed.Thumbprint()
		}
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_dpop_proof", "")
			return
		}
		if p.dpopNonce != "" && parsed.Nonce != p.dpopNonce {
			w.Header().Set("DPoP-Nonce", p.dpopNonce)
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "use_dpop_nonce", "nonce required")
			return
		}
	}

	clientID := p.authenticateClient(req)
	if clientID == "" {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "")
		return
	}

	var nonce string
	switch req.FormValue("grant_type") {
	case GrantTypeAuthorizationCode:
		code := req.FormValue("code")
		ar, ok := p.codes[code]
		delete(p.codes, code)
		switch {
		case !ok:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown auth code")
			return
		case ar.clientID != clientID:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code was issued to another client")
			return
		case ar.redirectURI != req.FormValue("redirect_uri"):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		case ar.challenge != "" && oauth2.S256ChallengeFromVerifier(req.FormValue("code_verifier")) != ar.challenge:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
			return
		}
		nonce = ar.nonce

	case GrantTypeRefreshToken:
		rt := req.FormValue("refresh_token")
		owner, ok := p.refreshTokens[rt]
		if !ok || owner != clientID {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
		delete(p.refreshTokens, rt)

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	tokenType := string(TokenTypeBearer)
	if jkt != "" {
		tokenType = string(TokenTypeDPoP)
	}
	if p.tokenTypeOverride != "" {
		tokenType = p.tokenTypeOverride
	}
	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
	}{
		AccessToken: p.issueAccessToken(jkt),
		TokenType:   tokenType,
		ExpiresIn:   int(testAccessTokenExpiry.Seconds()),
	}
	if !p.omitIDToken {
		reply.IDToken = p.idToken(clientID, nonce)
	}
	if !p.omitRefreshToken {
		rt, err := NewID("rt")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		p.refreshTokens[rt] = clientID
		reply.RefreshToken = rt
	}
	p.writeJSON(w, http.StatusOK, &reply)
}

func (p *TestProvider) handleRegister(w http.ResponseWriter, req *http.Request) {
	var r RegistrationRequest
	if err := json.NewDecoder(req.Body).Decode(&r); err != nil || len(r.RedirectURIs) == 0 {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_client_metadata", "")
		return
	}
	id, err := NewID("client")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp := RegistrationResponse{
		ClientID:                id,
		ClientName:              r.ClientName,
		RedirectURIs:            r.RedirectURIs,
		RegistrationAccessToken: "rat_" + id,
	}
	if r.TokenEndpointAuthMethod != AuthMethodNone {
		secret, err := NewID("secret")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp.ClientSecret = secret
	}
	p.clients[id] = resp.ClientSecret
	p.registrations++
	p.writeJSON(w, http.StatusCreated, &resp)
}

// handleResource accepts Bearer tokens and DPoP bound tokens with a valid
// proof over the request.
func (p *TestProvider) handleResource(w http.ResponseWriter, req *http.Request) {
	scheme, token, _ := strings.Cut(req.Header.Get("Authorization"), " ")
	issued, ok := p.accessTokens[token]
	if !ok || issued.expired {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case strings.EqualFold(scheme, string(TokenTypeBearer)) && issued.jkt == "":
	case strings.EqualFold(scheme, string(TokenTypeDPoP)) && issued.jkt != "":
		parsed, err := dpop.ParseProof(req.Header.Get("DPoP"))
		if err == nil {
			err = parsed.Matches(req.Method, p.Addr()+req.URL.Path)
		}
		var jkt string
		if err == nil {
			jkt, err = parsed.Thumbprint()
		}
		if err != nil || jkt != issued.jkt || parsed.ATH != dpop.AccessTokenHash(token) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	default:
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]string{"webid": p.webID()})
}

func (p *TestProvider) issueAccessToken(jkt string) string {
	token, err := NewID("at")
	require.NoError(p.t, err)
	p.accessTokens[token] = testAccessToken{jkt: jkt}
	return token
}

func (p *TestProvider) idToken(clientID, nonce string) string {
	now := time.Now()
	claims := jwt.Claims{
		Subject:   p.subject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(testAccessTokenExpiry)),
		Audience:  jwt.Audience{clientID},
	}
	if p.customAudience != "" {
		claims.Audience = jwt.Audience{p.customAudience}
	}
	private := map[string]interface{}{}
	for k, v := range p.customClaims {
		private[k] = v
	}
	if nonce != "" {
		private["nonce"] = nonce
	}
	return TestSignJWT(p.t, p.signingPriv, testProviderKeyID, claims, private)
}
