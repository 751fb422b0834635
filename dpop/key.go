// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Key is the EC P-256 private key a session signs its proofs with. Its JSON
// form is a private JWK.
type Key struct {
	private *ecdsa.PrivateKey
}

// NewKey generates a new EC P-256 Key.
func NewKey() (*Key, error) {
	const op = "dpop.NewKey"
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate key: %w", op, err)
	}
	return &Key{private: priv}, nil
}

// NewKeyFromPrivate wraps an existing P-256 private key.
func NewKeyFromPrivate(priv *ecdsa.PrivateKey) (*Key, error) {
	const op = "dpop.NewKeyFromPrivate"
	switch {
	case priv == nil:
		return nil, fmt.Errorf("%s: private key is nil: %w", op, ErrNilParameter)
	case priv.Curve != elliptic.P256():
		return nil, fmt.Errorf("%s: curve %s is not P-256: %w", op, priv.Curve.Params().Name, ErrInvalidParameter)
	}
	return &Key{private: priv}, nil
}

// PrivateKey returns the signing key.
func (k *Key) PrivateKey() *ecdsa.PrivateKey {
	return k.private
}

// PublicJWK returns the public half of the key, the value embedded in every
// proof header.
func (k *Key) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.private.Public(),
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
}

// Thumbprint returns the base64url encoded SHA-256 JWK thumbprint (RFC 7638)
// of the public key, the value servers bind tokens to as jkt.
func (k *Key) Thumbprint() (string, error) {
	const op = "Key.Thumbprint"
	jwk := k.PublicJWK()
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// MarshalJSON encodes the key as a private JWK.
func (k *Key) MarshalJSON() ([]byte, error) {
	if k == nil || k.private == nil {
		return nil, fmt.Errorf("Key.MarshalJSON: %w", ErrKeyUnavailable)
	}
	return json.Marshal(jose.JSONWebKey{
		Key:       k.private,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	})
}

// UnmarshalJSON decodes a private P-256 JWK.
func (k *Key) UnmarshalJSON(data []byte) error {
	const op = "Key.UnmarshalJSON"
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("%s: jwk is not an EC private key: %w", op, ErrInvalidParameter)
	}
	if priv.Curve != elliptic.P256() {
		return fmt.Errorf("%s: jwk curve is not P-256: %w", op, ErrInvalidParameter)
	}
	k.private = priv
	return nil
}

// String never prints key material.
func (k *Key) String() string {
	if k == nil || k.private == nil {
		return "[REDACTED: dpop key]"
	}
	tp, err := k.Thumbprint()
	if err != nil {
		return "[REDACTED: dpop key]"
	}
	return fmt.Sprintf("[REDACTED: dpop key %s]", tp)
}
