// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/authn/storage"
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger. Valid for: Config,
// IssuerConfigFetcher.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withLogger = l
		case *fetcherOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining the current time. Valid
// for: Config, IssuerConfigFetcher.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withNow = now
		case *fetcherOptions:
			v.withNow = now
		}
	}
}

// WithConfigCacheTTL overrides DefaultConfigCacheTTL. A negative value
// disables caching. Valid for: Config, IssuerConfigFetcher.
func WithConfigCacheTTL(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withConfigCacheTTL = d
		case *fetcherOptions:
			v.withTTL = d
		}
	}
}

// WithStorage sets the secure and insecure storage backends. Valid for:
// Config.
func WithStorage(secure, insecure storage.Backend) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withSecureStorage = secure
			v.withInsecureStorage = insecure
		}
	}
}

// WithFetcher sets the transport used for every request. Valid for: Config.
func WithFetcher(f Fetcher) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withFetcher = f
		}
	}
}

// WithProviderCA provides an optional CA certificate PEM used when no
// Fetcher is set. Valid for: Config.
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = caPEM
		}
	}
}

// WithRedirector sets where navigation events are delivered. Valid for:
// Config.
func WithRedirector(r Redirector) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withRedirector = r
		}
	}
}

// WithProofExpiry overrides dpop.DefaultProofExpiry for every proof. Valid
// for: Config.
func WithProofExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProofExpiry = d
		}
	}
}
