// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import "github.com/hashicorp/go-hclog"

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

// accessOptions are the options for Utility reads and writes
type accessOptions struct {
	withSecure      bool
	withErrorIfNull bool
}

func accessDefaults() accessOptions {
	return accessOptions{}
}

func getAccessOpts(opt ...Option) accessOptions {
	opts := accessDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSecure selects the secure tier for a Utility operation.
func WithSecure(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*accessOptions); ok {
			o.withSecure = secure
		}
	}
}

// WithErrorIfNull makes a Utility read fail with ErrNotFound when the value
// is missing.
func WithErrorIfNull(errorIfNull bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*accessOptions); ok {
			o.withErrorIfNull = errorIfNull
		}
	}
}

// utilityOptions are the options for NewUtility
type utilityOptions struct {
	withSecurePrefix   string
	withInsecurePrefix string
	withLogger         hclog.Logger
}

func utilityDefaults() utilityOptions {
	return utilityOptions{
		withSecurePrefix:   DefaultSecurePrefix,
		withInsecurePrefix: DefaultInsecurePrefix,
		withLogger:         hclog.NewNullLogger(),
	}
}

func getUtilityOpts(opt ...Option) utilityOptions {
	opts := utilityDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrefixes overrides the record key prefixes of the secure and insecure
// tiers. Empty values keep the defaults.
func WithPrefixes(secure, insecure string) Option {
	return func(o interface{}) {
		if o, ok := o.(*utilityOptions); ok {
			if secure != "" {
				o.withSecurePrefix = secure
			}
			if insecure != "" {
				o.withInsecurePrefix = insecure
			}
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *utilityOptions:
			if l != nil {
				v.withLogger = l
			}
		case *fileOptions:
			if l != nil {
				v.withLogger = l
			}
		}
	}
}
