// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"golang.org/x/text/language"
)

// OidcOptions are the resolved inputs every LoginStrategy works from.
type OidcOptions struct {
	SessionID string

	// Issuer is the canonical issuer from IssuerConfig.
	Issuer       string
	IssuerConfig *IssuerConfig
	Client       ClientInfo

	RedirectURL string

	// DPoP is true when a DPoP bound token is requested.
	DPoP bool

	// RefreshToken is the session's stored refresh token, or the one the
	// caller supplied.
	RefreshToken RefreshToken

	Flow           Flow
	Prompt         string
	PopUp          bool
	Scopes         []string
	UILocales      []language.Tag
	HandleRedirect func(url string)
}

func (o *OidcOptions) tokenType() TokenType {
	if o.DPoP {
		return TokenTypeDPoP
	}
	return TokenTypeBearer
}

// RedirectInstruction asks the host to send the user agent to URL.
type RedirectInstruction struct {
	URL string

	// State is the OAuth state the issuer will echo back.
	State string
}

// LoginResult is either a redirect or a completed session.
type LoginResult struct {
	Redirect *RedirectInstruction

	Session *SessionInfo
	Fetch   FetchFunc
}

// LoginStrategy is one way of logging in.
type LoginStrategy interface {
	Name() string

	// CanHandle is a pure predicate over the options.
	CanHandle(o *OidcOptions) bool

	Handle(ctx context.Context, o *OidcOptions) (*LoginResult, error)
}

// AggregateLoginStrategy dispatches to the first of its strategies that can
// handle the options.
type AggregateLoginStrategy struct {
	name       string
	strategies []LoginStrategy
}

// NewAggregateLoginStrategy creates an AggregateLoginStrategy trying
// strategies in order.
func NewAggregateLoginStrategy(name string, strategies ...LoginStrategy) (*AggregateLoginStrategy, error) {
	const op = "oidc.NewAggregateLoginStrategy"
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%s: no strategies: %w", op, ErrInvalidParameter)
	}
	for i, s := range strategies {
		if s == nil {
			return nil, fmt.Errorf("%s: strategy %d is nil: %w", op, i, ErrNilParameter)
		}
	}
	return &AggregateLoginStrategy{name: name, strategies: strategies}, nil
}

// Name implements LoginStrategy.
func (a *AggregateLoginStrategy) Name() string {
	return a.name
}

// CanHandle implements LoginStrategy.
func (a *AggregateLoginStrategy) CanHandle(o *OidcOptions) bool {
	return a.find(o) != nil
}

// Handle implements LoginStrategy. It fails with a HandlerNotFoundError when
// no strategy matches.
func (a *AggregateLoginStrategy) Handle(ctx context.Context, o *OidcOptions) (*LoginResult, error) {
	if o == nil {
		return nil, fmt.Errorf("%s: options are nil: %w", a.name, ErrNilParameter)
	}
	s := a.find(o)
	if s == nil {
		attempted := make([]string, 0, len(a.strategies))
		for _, s := range a.strategies {
			attempted = append(attempted, s.Name())
		}
		return nil, &HandlerNotFoundError{Handler: a.name, Attempted: attempted, Options: *o}
	}
	return s.Handle(ctx, o)
}

func (a *AggregateLoginStrategy) find(o *OidcOptions) LoginStrategy {
	if o == nil {
		return nil
	}
	for _, s := range a.strategies {
		if s.CanHandle(o) {
			return s
		}
	}
	return nil
}

// flowAllows reports whether an explicit flow selection permits f.
func flowAllows(selected, f Flow) bool {
	return selected == FlowAuto || selected == f
}
