// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/hashicorp/authn/dpop"
	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// Config wires the collaborators a ClientAuthentication is built from.
type Config struct {
	// SecureStorage holds refresh tokens, DPoP keys and login state.
	SecureStorage storage.Backend

	// InsecureStorage holds client registration and in-flight redirect data.
	InsecureStorage storage.Backend

	// Fetcher performs every HTTP request.
	Fetcher Fetcher

	// Redirector receives "navigate to URL" events.
	Redirector Redirector

	Logger hclog.Logger

	// ConfigCacheTTL is how long issuer configurations are reused.
	ConfigCacheTTL time.Duration

	// ProofExpiry is the lifetime of every DPoP proof.
	ProofExpiry time.Duration

	// Now returns the current time.
	Now func() time.Time
}

type configOptions struct {
	withSecureStorage   storage.Backend
	withInsecureStorage storage.Backend
	withFetcher         Fetcher
	withProviderCA      string
	withRedirector      Redirector
	withLogger          hclog.Logger
	withConfigCacheTTL  time.Duration
	withProofExpiry     time.Duration
	withNow             func() time.Time
}

func configDefaults() configOptions {
	return configOptions{
		withLogger:         hclog.NewNullLogger(),
		withConfigCacheTTL: DefaultConfigCacheTTL,
		withProofExpiry:    dpop.DefaultProofExpiry,
		withNow:            time.Now,
	}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewConfig composes a Config. Storage defaults to one in-memory backend per
// tier, the Fetcher to NewHTTPClient and the Redirector to a no-op.
//
// Supported options:
//   - WithStorage
//   - WithFetcher
//   - WithProviderCA
//   - WithRedirector
//   - WithLogger
//   - WithConfigCacheTTL
//   - WithProofExpiry
//   - WithNow
func NewConfig(opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		SecureStorage:   opts.withSecureStorage,
		InsecureStorage: opts.withInsecureStorage,
		Fetcher:         opts.withFetcher,
		Redirector:      opts.withRedirector,
		Logger:          opts.withLogger,
		ConfigCacheTTL:  opts.withConfigCacheTTL,
		ProofExpiry:     opts.withProofExpiry,
		Now:             opts.withNow,
	}
	if c.SecureStorage == nil {
		c.SecureStorage = storage.NewMemoryBackend()
	}
	if c.InsecureStorage == nil {
		c.InsecureStorage = storage.NewMemoryBackend()
	}
	if c.Fetcher == nil {
		client, err := NewHTTPClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.Fetcher = client
	}
	if c.Redirector == nil {
		c.Redirector = NoopRedirector()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the Config.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	switch {
	case c == nil:
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case c.SecureStorage == nil:
		return fmt.Errorf("%s: secure storage is nil: %w", op, ErrNilParameter)
	case c.InsecureStorage == nil:
		return fmt.Errorf("%s: insecure storage is nil: %w", op, ErrNilParameter)
	case c.Fetcher == nil:
		return fmt.Errorf("%s: fetcher is nil: %w", op, ErrNilParameter)
	case c.Redirector == nil:
		return fmt.Errorf("%s: redirector is nil: %w", op, ErrNilParameter)
	case c.Logger == nil:
		return fmt.Errorf("%s: logger is nil: %w", op, ErrNilParameter)
	case c.Now == nil:
		return fmt.Errorf("%s: now func is nil: %w", op, ErrNilParameter)
	case c.ProofExpiry <= 0:
		return fmt.Errorf("%s: proof expiry must be positive: %w", op, ErrInvalidParameter)
	}
	return nil
}
