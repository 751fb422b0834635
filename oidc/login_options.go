// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
)

// Flow explicitly selects a login strategy. The empty Flow lets the issuer's
// advertised grant types decide.
type Flow string

const (
	FlowAuto                      Flow = ""
	FlowAuthorizationCode         Flow = "authorization_code"
	FlowAuthorizationCodeWithPKCE Flow = "authorization_code_pkce"
	FlowImplicit                  Flow = "implicit"
	FlowRefreshToken              Flow = "refresh_token"
	FlowClientCredentials         Flow = "client_credentials"
	FlowPrimaryDevice             Flow = "primary_device"
	FlowSecondaryDevice           Flow = "secondary_device"
)

// LoginOptions are the caller's inputs to a login.
type LoginOptions struct {
	// SessionID is generated when empty.
	SessionID string

	// ClientID is a pre-registered client id or a Client ID Document IRI.
	// When empty, or when the issuer cannot accept it, the client is
	// registered dynamically.
	ClientID     string
	ClientName   string
	ClientSecret ClientSecret

	OIDCIssuer  string `validate:"required,url"`
	RedirectURL string `validate:"required,url"`

	// TokenType defaults to TokenTypeDPoP.
	TokenType TokenType `validate:"omitempty,oneof=DPoP Bearer"`

	PopUp  bool
	Prompt string `validate:"omitempty,oneof=none login consent select_account"`

	// HandleRedirect, when set, receives the authorization URL instead of
	// the configured Redirector.
	HandleRedirect func(url string)

	Flow Flow `validate:"omitempty,oneof=authorization_code authorization_code_pkce implicit refresh_token client_credentials primary_device secondary_device"`

	// Scopes are requested in addition to the default ones.
	Scopes []string `validate:"dive,required"`

	// UILocales are BCP 47 tags, sent as ui_locales.
	UILocales []string

	// RefreshToken allows a silent login when the session has none stored.
	RefreshToken RefreshToken
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// withDefaults returns a copy with defaults applied.
func (o LoginOptions) withDefaults() LoginOptions {
	if o.TokenType == "" {
		o.TokenType = TokenTypeDPoP
	}
	if o.SessionID == "" {
		o.SessionID = NewSessionID()
	}
	return o
}

// Validate the login options. Failures wrap ErrConfiguration.
func (o *LoginOptions) Validate() error {
	const op = "LoginOptions.Validate"
	if o == nil {
		return fmt.Errorf("%s: login options are nil: %w", op, ErrNilParameter)
	}
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%s: invalid fields %s: %w", op, strings.Join(fields, ", "), ErrConfiguration)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	}
	if u, _ := url.Parse(o.RedirectURL); u.Fragment != "" {
		return fmt.Errorf("%s: redirect url must not contain a fragment: %w", op, ErrConfiguration)
	}
	for _, s := range o.Scopes {
		if strings.ContainsAny(s, " \t") {
			return fmt.Errorf("%s: scope %q contains whitespace: %w", op, s, ErrConfiguration)
		}
	}
	if _, err := o.uiLocales(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrConfiguration, err)
	}
	return nil
}

func (o *LoginOptions) uiLocales() ([]language.Tag, error) {
	tags := make([]language.Tag, 0, len(o.UILocales))
	for _, l := range o.UILocales {
		t, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("ui locale %q: %w", l, err)
		}
		tags = append(tags, t)
	}
	return tags, nil
}
