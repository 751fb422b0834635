// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// ClientInfo identifies the client to an issuer.
type ClientInfo struct {
	ClientID                string
	ClientSecret            ClientSecret
	ClientName              string
	RegistrationAccessToken string
}

// ClientRegistrarOptions are the inputs of ClientRegistrar.GetClient.
type ClientRegistrarOptions struct {
	SessionID    string
	ClientID     string
	ClientSecret ClientSecret
	ClientName   string
	RedirectURL  string
}

// ClientRegistrar resolves the client a session uses with an issuer,
// registering one dynamically when needed.
type ClientRegistrar struct {
	store   *storage.Utility
	fetcher Fetcher
	logger  hclog.Logger
}

// NewClientRegistrar creates a ClientRegistrar.
func NewClientRegistrar(store *storage.Utility, f Fetcher, logger hclog.Logger) (*ClientRegistrar, error) {
	const op = "oidc.NewClientRegistrar"
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	case f == nil:
		return nil, fmt.Errorf("%s: fetcher is nil: %w", op, ErrNilParameter)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ClientRegistrar{store: store, fetcher: f, logger: logger}, nil
}

// isURI reports whether s looks like an absolute URI, which makes it a
// Client ID Document IRI rather than a pre-registered client id.
func isURI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// GetClient returns the session's stored client, else the supplied client
// when the issuer can accept it as is, else a newly registered client. The
// result is persisted for the session.
func (r *ClientRegistrar) GetClient(ctx context.Context, opts ClientRegistrarOptions, cfg *IssuerConfig) (*ClientInfo, error) {
	const op = "ClientRegistrar.GetClient"
	switch {
	case opts.SessionID == "":
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	case cfg == nil:
		return nil, fmt.Errorf("%s: issuer config is nil: %w", op, ErrNilParameter)
	}

	stored, err := r.stored(ctx, opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if stored != nil {
		return stored, nil
	}

	if opts.ClientID != "" && (cfg.IsSolidOIDC() || !isURI(opts.ClientID)) {
		info := &ClientInfo{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			ClientName:   opts.ClientName,
		}
		if err := r.persist(ctx, opts.SessionID, info); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return info, nil
	}

	if cfg.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("%s: issuer %q has no registration endpoint and client id %q cannot be used as is: %w",
			op, cfg.Issuer, opts.ClientID, ErrConfiguration)
	}
	if opts.RedirectURL == "" {
		return nil, fmt.Errorf("%s: redirect url is required to register a client: %w", op, ErrConfiguration)
	}

	authMethod := AuthMethodNone
	if opts.ClientSecret != "" {
		authMethod = AuthMethodClientSecretBasic
	}
	registered, err := RegisterClient(ctx, r.fetcher, cfg.RegistrationEndpoint, &RegistrationRequest{
		RedirectURIs:            []string{opts.RedirectURL},
		ClientName:              opts.ClientName,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		ResponseTypes:           []string{"code"},
		Scope:                   defaultScope,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	info := &ClientInfo{
		ClientID:                registered.ClientID,
		ClientSecret:            ClientSecret(registered.ClientSecret),
		ClientName:              registered.ClientName,
		RegistrationAccessToken: registered.RegistrationAccessToken,
	}
	if info.ClientName == "" {
		info.ClientName = opts.ClientName
	}
	if err := r.persist(ctx, opts.SessionID, info); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.logger.Debug("registered client", "issuer", cfg.Issuer, "client_id", info.ClientID)
	return info, nil
}

func (r *ClientRegistrar) stored(ctx context.Context, sessionID string) (*ClientInfo, error) {
	id, err := r.store.Get(ctx, sessionID, keyClientID)
	if err != nil || id == "" {
		return nil, err
	}
	secret, err := r.store.Get(ctx, sessionID, keyClientSecret)
	if err != nil {
		return nil, err
	}
	name, err := r.store.Get(ctx, sessionID, keyClientName)
	if err != nil {
		return nil, err
	}
	rat, err := r.store.Get(ctx, sessionID, keyRegistrationAccessToken)
	if err != nil {
		return nil, err
	}
	return &ClientInfo{
		ClientID:                id,
		ClientSecret:            ClientSecret(secret),
		ClientName:              name,
		RegistrationAccessToken: rat,
	}, nil
}

func (r *ClientRegistrar) persist(ctx context.Context, sessionID string, info *ClientInfo) error {
	values := map[string]string{keyClientID: info.ClientID}
	if info.ClientSecret != "" {
		values[keyClientSecret] = string(info.ClientSecret)
	}
	if info.ClientName != "" {
		values[keyClientName] = info.ClientName
	}
	if info.RegistrationAccessToken != "" {
		values[keyRegistrationAccessToken] = info.RegistrationAccessToken
	}
	return r.store.Set(ctx, sessionID, values)
}
