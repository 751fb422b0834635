// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "context"

// RedirectOptions qualify a navigation event.
type RedirectOptions struct {
	// Replace asks the host to replace the current location instead of
	// pushing a new one, without reloading.
	Replace bool
}

// Redirector receives "navigate to URL" events. Hosts implement it to send
// the user agent to an authorization endpoint or to rewrite the visible
// location after a redirect was handled.
type Redirector interface {
	Redirect(ctx context.Context, url string, opts RedirectOptions) error
}

// RedirectorFunc adapts a func to a Redirector.
type RedirectorFunc func(ctx context.Context, url string, opts RedirectOptions) error

// Redirect implements Redirector.
func (f RedirectorFunc) Redirect(ctx context.Context, url string, opts RedirectOptions) error {
	return f(ctx, url, opts)
}

// NoopRedirector returns a Redirector that drops every event.
func NoopRedirector() Redirector {
	return RedirectorFunc(func(context.Context, string, RedirectOptions) error { return nil })
}
