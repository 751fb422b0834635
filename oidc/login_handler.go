// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// OidcLoginHandler resolves login options into OidcOptions and hands them
// to its strategy.
type OidcLoginHandler struct {
	configs   *IssuerConfigFetcher
	registrar *ClientRegistrar
	store     *storage.Utility
	strategy  LoginStrategy
	logger    hclog.Logger
}

// NewOidcLoginHandler creates an OidcLoginHandler.
func NewOidcLoginHandler(configs *IssuerConfigFetcher, registrar *ClientRegistrar, store *storage.Utility, strategy LoginStrategy, logger hclog.Logger) (*OidcLoginHandler, error) {
	const op = "oidc.NewOidcLoginHandler"
	switch {
	case configs == nil:
		return nil, fmt.Errorf("%s: issuer config fetcher is nil: %w", op, ErrNilParameter)
	case registrar == nil:
		return nil, fmt.Errorf("%s: client registrar is nil: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	case strategy == nil:
		return nil, fmt.Errorf("%s: strategy is nil: %w", op, ErrNilParameter)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &OidcLoginHandler{configs: configs, registrar: registrar, store: store, strategy: strategy, logger: logger}, nil
}

// Login starts or silently completes a login.
func (h *OidcLoginHandler) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	const op = "OidcLoginHandler.Login"
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	locales, _ := opts.uiLocales()

	cfg, err := h.configs.FetchConfig(ctx, opts.OIDCIssuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := h.registrar.GetClient(ctx, ClientRegistrarOptions{
		SessionID:    opts.SessionID,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		ClientName:   opts.ClientName,
		RedirectURL:  opts.RedirectURL,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refreshToken := opts.RefreshToken
	stored, err := h.store.Get(ctx, opts.SessionID, keyRefreshToken, storage.WithSecure(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if stored != "" {
		refreshToken = RefreshToken(stored)
	}

	o := &OidcOptions{
		SessionID:      opts.SessionID,
		Issuer:         cfg.Issuer,
		IssuerConfig:   cfg,
		Client:         *client,
		RedirectURL:    opts.RedirectURL,
		DPoP:           opts.TokenType == TokenTypeDPoP,
		RefreshToken:   refreshToken,
		Flow:           opts.Flow,
		Prompt:         opts.Prompt,
		PopUp:          opts.PopUp,
		Scopes:         opts.Scopes,
		UILocales:      locales,
		HandleRedirect: opts.HandleRedirect,
	}
	h.logger.Debug("login", "session_id", o.SessionID, "issuer", o.Issuer, "token_type", o.tokenType(), "flow", o.Flow)
	res, err := h.strategy.Handle(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}
