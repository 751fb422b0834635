// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// TokenType is the type of access token requested from an issuer.
type TokenType string

const (
	TokenTypeDPoP   TokenType = "DPoP"
	TokenTypeBearer TokenType = "Bearer"
)

// Matches reports whether a token_type returned by an issuer is t. The
// comparison is case-insensitive.
func (t TokenType) Matches(returned string) bool {
	return strings.EqualFold(string(t), returned)
}

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// IDToken is an oidc id_token
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// idTokenAlgs are the algorithms UnverifiedClaims accepts while parsing.
var idTokenAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// UnverifiedClaims decodes the id_token payload into claims without
// checking its signature. Nothing decoded is trustworthy until the token
// is verified.
func (t IDToken) UnverifiedClaims(claims interface{}) error {
	const op = "IDToken.UnverifiedClaims"
	switch {
	case t == "":
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	case claims == nil:
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	tok, err := jwt.ParseSigned(string(t), idTokenAlgs)
	if err != nil {
		return fmt.Errorf("%s: unable to parse id_token: %w", op, err)
	}
	if err := tok.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to decode claims: %w", op, err)
	}
	return nil
}

// ClientSecret is an oauth client secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// TokenSet is the result of a token endpoint exchange.
type TokenSet struct {
	AccessToken  AccessToken
	IDToken      IDToken
	RefreshToken RefreshToken
	TokenType    TokenType

	// Expiry is zero when the issuer sent no expires_in.
	Expiry time.Time
}

// Expired reports whether the access token is expired at now, allowing for
// skew.
func (t *TokenSet) Expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.Expiry.IsZero() {
		return false
	}
	return t.Expiry.Round(0).Before(now.Add(skew))
}
