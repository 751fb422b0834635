// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrIdGeneratorFailed = errors.New("id generation failed")

	// ErrConfiguration is returned for malformed or missing login options.
	ErrConfiguration = errors.New("configuration error")

	// ErrHandlerNotFound is wrapped by HandlerNotFoundError.
	ErrHandlerNotFound = errors.New("no login strategy found")

	// ErrNotImplemented is returned by declared but unimplemented flows and
	// extension points.
	ErrNotImplemented = errors.New("not implemented")

	ErrConfigFetch         = errors.New("unable to fetch issuer configuration")
	ErrClientRegistration  = errors.New("client registration failed")
	ErrTokenExchange       = errors.New("token exchange failed")
	ErrIdentityDerivation  = errors.New("cannot derive WebID")
	ErrUnknownState        = errors.New("unknown oauth state")
	ErrMissingIdToken      = errors.New("id_token is missing")
	ErrIdTokenVerification = errors.New("id_token verification failed")
	ErrInvalidNonce        = errors.New("invalid nonce")
)

// HandlerNotFoundError is returned when no LoginStrategy can handle the
// login options.
type HandlerNotFoundError struct {
	// Handler names the aggregate that failed to dispatch.
	Handler string

	// Attempted lists the strategies tried, in order.
	Attempted []string

	// Options are the options none of the strategies accepted.
	Options OidcOptions
}

// Error describes the options without exposing any secret.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s: attempted [%s] for issuer %q, flow %q, session %q",
		e.Handler,
		ErrHandlerNotFound,
		strings.Join(e.Attempted, ", "),
		e.Options.Issuer,
		e.Options.Flow,
		e.Options.SessionID,
	)
}

// Unwrap returns ErrHandlerNotFound.
func (e *HandlerNotFoundError) Unwrap() error {
	return ErrHandlerNotFound
}

// TokenEndpointError is an OAuth error response from a token or
// registration endpoint. It never carries a response body.
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (status %d): %s: %s", ErrTokenExchange, e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("%s (status %d): %s", ErrTokenExchange, e.StatusCode, e.Code)
}

// Unwrap returns ErrTokenExchange.
func (e *TokenEndpointError) Unwrap() error {
	return ErrTokenExchange
}
