// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"regexp"
)

var iriShaped = regexp.MustCompile(`^https?://.+\..+$`)

// IdentityClaims are the id_token claims a WebID is derived from.
type IdentityClaims struct {
	Issuer  string `json:"iss"`
	Subject string `json:"sub"`
	WebID   string `json:"webid"`
	Nonce   string `json:"nonce"`
}

// DeriveWebID returns the webid claim, or the sub claim when it is an
// http(s) IRI.
func DeriveWebID(c IdentityClaims) (string, error) {
	const op = "oidc.DeriveWebID"
	switch {
	case c.WebID != "":
		return c.WebID, nil
	case iriShaped.MatchString(c.Subject):
		return c.Subject, nil
	}
	return "", fmt.Errorf("%s: id_token has no webid claim and sub is not an IRI: %w", op, ErrIdentityDerivation)
}
