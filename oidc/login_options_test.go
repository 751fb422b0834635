// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLoginOptions_Validate(t *testing.T) {
	t.Parallel()
	valid := func() LoginOptions {
		return LoginOptions{
			OIDCIssuer:  "https://issuer.example.com",
			RedirectURL: "https://app.example.com/callback",
		}
	}
	tests := []struct {
		name      string
		modify    func(*LoginOptions)
		wantIsErr error
	}{
		{name: "valid", modify: func(*LoginOptions) {}},
		{
			name: "valid-all-fields",
			modify: func(o *LoginOptions) {
				o.TokenType = TokenTypeBearer
				o.Prompt = "login"
				o.Flow = FlowImplicit
				o.Scopes = []string{"profile"}
				o.UILocales = []string{"en-US", "fr"}
			},
		},
		{name: "missing-issuer", modify: func(o *LoginOptions) { o.OIDCIssuer = "" }, wantIsErr: ErrConfiguration},
		{name: "issuer-not-url", modify: func(o *LoginOptions) { o.OIDCIssuer = "issuer" }, wantIsErr: ErrConfiguration},
		{name: "missing-redirect", modify: func(o *LoginOptions) { o.RedirectURL = "" }, wantIsErr: ErrConfiguration},
		{name: "redirect-fragment", modify: func(o *LoginOptions) { o.RedirectURL = "https://app.example.com/#/cb" }, wantIsErr: ErrConfiguration},
		{name: "bad-token-type", modify: func(o *LoginOptions) { o.TokenType = "MAC" }, wantIsErr: ErrConfiguration},
		{name: "bad-prompt", modify: func(o *LoginOptions) { o.Prompt = "always" }, wantIsErr: ErrConfiguration},
		{name: "bad-flow", modify: func(o *LoginOptions) { o.Flow = "password" }, wantIsErr: ErrConfiguration},
		{name: "empty-scope", modify: func(o *LoginOptions) { o.Scopes = []string{""} }, wantIsErr: ErrConfiguration},
		{name: "scope-whitespace", modify: func(o *LoginOptions) { o.Scopes = []string{"a b"} }, wantIsErr: ErrConfiguration},
		{name: "bad-locale", modify: func(o *LoginOptions) { o.UILocales = []string{"not a locale!"} }, wantIsErr: ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.modify(&o)
			err := o.Validate()
			if tt.wantIsErr != nil {
				require.ErrorIs(t, err, tt.wantIsErr)
				return
			}
			require.NoError(t, err)
		})
	}
	t.Run("nil", func(t *testing.T) {
		var o *LoginOptions
		require.ErrorIs(t, o.Validate(), ErrNilParameter)
	})
}

func TestLoginOptions_withDefaults(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	got := LoginOptions{}.withDefaults()
	assert.Equal(TokenTypeDPoP, got.TokenType)
	assert.NotEmpty(got.SessionID)

	kept := LoginOptions{SessionID: "s", TokenType: TokenTypeBearer}.withDefaults()
	assert.Equal("s", kept.SessionID)
	assert.Equal(TokenTypeBearer, kept.TokenType)
}

func TestLoginOptions_uiLocales(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	o := LoginOptions{UILocales: []string{"en-US", "de"}}
	tags, err := o.uiLocales()
	require.NoError(err)
	require.Len(tags, 2)
	assert.Equal(language.AmericanEnglish.String(), tags[0].String())
	assert.Equal(language.German.String(), tags[1].String())
	assert.Equal("en-US de", uiLocales(&OidcOptions{UILocales: tags}))
}
