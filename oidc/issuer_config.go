// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultConfigCacheTTL is how long a fetched IssuerConfig is reused.
	DefaultConfigCacheTTL = 30 * time.Minute

	// SolidOIDCSpecURI is the solid_oidc_supported value of a Solid-OIDC
	// compliant issuer.
	SolidOIDCSpecURI = "https://solidproject.org/TR/solid-oidc"

	// maxResponseSize bounds every JSON response body read from an issuer.
	maxResponseSize = 1 << 20

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// IssuerConfig is the subset of an issuer's discovery document the engine
// uses. Unknown fields are dropped.
type IssuerConfig struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	RegistrationEndpoint             string   `json:"registration_endpoint,omitempty"`
	EndSessionEndpoint               string   `json:"end_session_endpoint,omitempty"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	GrantTypesSupported              []string `json:"grant_types_supported,omitempty"`
	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
	ClaimsSupported                  []string `json:"claims_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	DPoPSigningAlgValuesSupported    []string `json:"dpop_signing_alg_values_supported,omitempty"`
	SolidOIDCSupported               string   `json:"solid_oidc_supported,omitempty"`
}

// SupportsGrant reports whether the issuer advertises grantType.
func (c *IssuerConfig) SupportsGrant(grantType string) bool {
	for _, g := range c.GrantTypesSupported {
		if g == grantType {
			return true
		}
	}
	return false
}

// IsSolidOIDC reports whether the issuer declares Solid-OIDC compliance.
func (c *IssuerConfig) IsSolidOIDC() bool {
	return c.SolidOIDCSupported == SolidOIDCSpecURI
}

type fetcherOptions struct {
	withTTL    time.Duration
	withLogger hclog.Logger
	withNow    func() time.Time
}

func fetcherDefaults() fetcherOptions {
	return fetcherOptions{
		withTTL:    DefaultConfigCacheTTL,
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getFetcherOpts(opt ...Option) fetcherOptions {
	opts := fetcherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type cachedConfig struct {
	config  IssuerConfig
	expires time.Time
}

// IssuerConfigFetcher fetches and caches issuer discovery documents.
// Concurrent fetches of one issuer share a single request.
type IssuerConfigFetcher struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  hclog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedConfig
	group singleflight.Group
}

// NewIssuerConfigFetcher creates an IssuerConfigFetcher.
//
// Supported options:
//   - WithConfigCacheTTL
//   - WithLogger
//   - WithNow
func NewIssuerConfigFetcher(f Fetcher, opt ...Option) (*IssuerConfigFetcher, error) {
	const op = "oidc.NewIssuerConfigFetcher"
	if f == nil {
		return nil, fmt.Errorf("%s: fetcher is nil: %w", op, ErrNilParameter)
	}
	opts := getFetcherOpts(opt...)
	return &IssuerConfigFetcher{
		fetcher: f,
		ttl:     opts.withTTL,
		logger:  opts.withLogger,
		now:     opts.withNow,
		cache:   make(map[string]cachedConfig),
	}, nil
}

// FetchConfig returns the configuration of issuer.
func (f *IssuerConfigFetcher) FetchConfig(ctx context.Context, issuer string) (*IssuerConfig, error) {
	const op = "IssuerConfigFetcher.FetchConfig"
	issuer = strings.TrimSuffix(issuer, "/")
	if u, err := url.Parse(issuer); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: issuer %q is not an absolute url: %w", op, issuer, ErrInvalidIssuer)
	}

	if cfg, ok := f.cached(issuer); ok {
		return cfg, nil
	}

	v, err, _ := f.group.Do(issuer, func() (interface{}, error) {
		cfg, err := f.fetch(context.WithoutCancel(ctx), issuer)
		if err != nil {
			return nil, err
		}
		if f.ttl > 0 {
			f.mu.Lock()
			f.cache[issuer] = cachedConfig{config: *cfg, expires: f.now().Add(f.ttl)}
			f.mu.Unlock()
		}
		return cfg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// callers sharing a flight each get their own copy
	cfg := *v.(*IssuerConfig)
	return &cfg, nil
}

// Invalidate drops the cached configuration of issuer.
func (f *IssuerConfigFetcher) Invalidate(issuer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, strings.TrimSuffix(issuer, "/"))
}

func (f *IssuerConfigFetcher) cached(issuer string) (*IssuerConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cache[issuer]
	if !ok {
		return nil, false
	}
	if !f.now().Before(c.expires) {
		delete(f.cache, issuer)
		return nil, false
	}
	cfg := c.config
	return &cfg, true
}

func (f *IssuerConfigFetcher) fetch(ctx context.Context, issuer string) (*IssuerConfig, error) {
	// a mismatched issuer in the document is logged, not refused
	ctx = oidc.InsecureIssuerURLContext(clientContext(ctx, f.fetcher), issuer)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %w", ErrConfigFetch, issuer, err)
	}
	var cfg IssuerConfig
	if err := provider.Claims(&cfg); err != nil {
		return nil, fmt.Errorf("%w from %s: %w", ErrConfigFetch, issuer, err)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = issuer
	}
	if strings.TrimSuffix(cfg.Issuer, "/") != issuer {
		f.logger.Warn("issuer in discovery document differs from requested issuer", "requested", issuer, "advertised", cfg.Issuer)
	}
	f.logger.Debug("fetched issuer configuration", "issuer", issuer)
	return &cfg, nil
}
