// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"time"

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

// proofOptions is the set of available options for CreateProof and
// ParseProof.
type proofOptions struct {
	withExpiry      time.Duration
	withAccessToken string
	withNonce       string
	withNow         func() time.Time
	withSkew        time.Duration
}

func proofDefaults() proofOptions {
	return proofOptions{
		withExpiry: DefaultProofExpiry,
		withNow:    time.Now,
		withSkew:   DefaultClockSkew,
	}
}

func getProofOpts(opt ...Option) proofOptions {
	opts := proofDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProofExpiry overrides DefaultProofExpiry. Valid for: CreateProof.
func WithProofExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok && d > 0 {
			o.withExpiry = d
		}
	}
}

// WithAccessToken adds the ath claim, the hash of the access token the proof
// is presented with. Valid for: CreateProof.
func WithAccessToken(token string) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok {
			o.withAccessToken = token
		}
	}
}

// WithNonce adds a server provided nonce claim. Valid for: CreateProof.
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok {
			o.withNonce = nonce
		}
	}
}

// WithNow provides an optional func for determining the current time.
// Valid for: CreateProof and ParseProof.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok && now != nil {
			o.withNow = now
		}
	}
}

// WithClockSkew overrides DefaultClockSkew. Valid for: ParseProof.
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*proofOptions); ok && d >= 0 {
			o.withSkew = d
		}
	}
}

// managerOptions is the set of available options for NewKeyManager.
type managerOptions struct {
	withLogger hclog.Logger
}

func managerDefaults() managerOptions {
	return managerOptions{withLogger: hclog.NewNullLogger()}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger. Valid for: NewKeyManager.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
