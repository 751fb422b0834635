// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodNone              = "none"
)

// RegistrationRequest is an RFC 7591 client registration request.
type RegistrationRequest struct {
	RedirectURIs             []string `json:"redirect_uris"`
	ClientName               string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes               []string `json:"grant_types,omitempty"`
	ResponseTypes            []string `json:"response_types,omitempty"`
	Scope                    string   `json:"scope,omitempty"`
	IDTokenSignedResponseAlg string   `json:"id_token_signed_response_alg,omitempty"`
}

// RegistrationResponse is an RFC 7591 client information response.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
}

// RegisterClient performs dynamic client registration at endpoint.
func RegisterClient(ctx context.Context, f Fetcher, endpoint string, r *RegistrationRequest) (*RegistrationResponse, error) {
	const op = "oidc.RegisterClient"
	switch {
	case f == nil:
		return nil, fmt.Errorf("%s: fetcher is nil: %w", op, ErrNilParameter)
	case r == nil:
		return nil, fmt.Errorf("%s: registration request is nil: %w", op, ErrNilParameter)
	case len(r.RedirectURIs) == 0:
		return nil, fmt.Errorf("%s: at least one redirect uri is required: %w", op, ErrInvalidParameter)
	}
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: registration endpoint %q is invalid: %w", op, endpoint, ErrConfiguration)
	}

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrClientRegistration, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to read response: %w", op, ErrClientRegistration, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var oauthErr struct {
			Code        string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.Unmarshal(raw, &oauthErr)
		if oauthErr.Code == "" {
			oauthErr.Code = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		return nil, fmt.Errorf("%s: %w: status %d: %s", op, ErrClientRegistration, resp.StatusCode, oauthErr.Code)
	}

	var out RegistrationResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: %w: response is not valid json: %w", op, ErrClientRegistration, err)
	}
	if out.ClientID == "" {
		return nil, fmt.Errorf("%s: %w: response has no client_id", op, ErrClientRegistration)
	}
	return &out, nil
}
