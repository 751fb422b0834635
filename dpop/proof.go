// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

const (
	// ProofType is the typ header of every proof.
	ProofType = "dpop+jwt"

	// DefaultProofExpiry is how long a proof stays valid. Proofs are single
	// use, so this only needs to cover clock skew and transit.
	DefaultProofExpiry = 5 * time.Minute

	// DefaultClockSkew is the leeway ParseProof allows on iat and exp.
	DefaultClockSkew = 1 * time.Minute
)

// ProofClaims are the DPoP specific claims of a proof.
type ProofClaims struct {
	HTU   string `json:"htu"`
	HTM   string `json:"htm"`
	ATH   string `json:"ath,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

// Proof is a parsed and signature verified DPoP proof.
type Proof struct {
	ProofClaims
	ID        string
	IssuedAt  time.Time
	Expiry    time.Time
	PublicJWK jose.JSONWebKey
}

// Thumbprint returns the base64url SHA-256 thumbprint of the key that signed
// the proof.
func (p *Proof) Thumbprint() (string, error) {
	const op = "Proof.Thumbprint"
	tp, err := p.PublicJWK.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// Matches reports an error unless the proof was made for method and rawURL.
func (p *Proof) Matches(method, rawURL string) error {
	const op = "Proof.Matches"
	htu, err := NormalizeHTU(rawURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case p.HTM != strings.ToUpper(method):
		return fmt.Errorf("%s: htm %q does not match %q: %w", op, p.HTM, method, ErrInvalidProof)
	case p.HTU != htu:
		return fmt.Errorf("%s: htu %q does not match %q: %w", op, p.HTU, htu, ErrInvalidProof)
	}
	return nil
}

// AccessTokenHash returns the ath value for an access token.
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NormalizeHTU returns the htu form of rawURL: scheme, host and path only.
// Query, fragment and userinfo are removed and a default port is dropped.
func NormalizeHTU(rawURL string) (string, error) {
	const op = "dpop.NormalizeHTU"
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse url: %w", op, ErrInvalidParameter)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: url %q is not absolute: %w", op, rawURL, ErrInvalidParameter)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path, nil
}

// CreateProof signs a proof for one request to targetURL with method.
//
// Supported options:
//   - WithProofExpiry
//   - WithAccessToken
//   - WithNonce
//   - WithNow
func CreateProof(key *Key, targetURL, method string, opt ...Option) (string, error) {
	const op = "dpop.CreateProof"
	if key == nil || key.private == nil {
		return "", fmt.Errorf("%s: %w", op, ErrKeyUnavailable)
	}
	if method == "" {
		return "", fmt.Errorf("%s: method is empty: %w", op, ErrInvalidParameter)
	}
	htu, err := NormalizeHTU(targetURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := getProofOpts(opt...)

	jti, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate jti: %w", op, err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key.private},
		(&jose.SignerOptions{EmbedJWK: true}).WithType(ProofType),
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}

	now := opts.withNow().UTC()
	std := jwt.Claims{
		ID:       jti,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(opts.withExpiry)),
	}
	custom := ProofClaims{
		HTU:   htu,
		HTM:   strings.ToUpper(method),
		Nonce: opts.withNonce,
	}
	if opts.withAccessToken != "" {
		custom.ATH = AccessTokenHash(opts.withAccessToken)
	}
	proof, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign proof: %w", op, err)
	}
	return proof, nil
}

// ParseProof verifies proof against the JWK embedded in its header and
// returns its claims. The typ header, required claims and expiry are
// checked; matching htm/htu to a request is left to Proof.Matches.
//
// Supported options:
//   - WithNow
//   - WithClockSkew
func ParseProof(proof string, opt ...Option) (*Proof, error) {
	const op = "dpop.ParseProof"
	if proof == "" {
		return nil, fmt.Errorf("%s: proof is empty: %w", op, ErrInvalidParameter)
	}
	opts := getProofOpts(opt...)

	tok, err := jwt.ParseSigned(proof, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidProof, err)
	}
	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("%s: expected one signature: %w", op, ErrInvalidProof)
	}
	h := tok.Headers[0]
	if typ, _ := h.ExtraHeaders[jose.HeaderType].(string); typ != ProofType {
		return nil, fmt.Errorf("%s: typ %q is not %q: %w", op, typ, ProofType, ErrInvalidProof)
	}
	if h.JSONWebKey == nil || !h.JSONWebKey.IsPublic() || !h.JSONWebKey.Valid() {
		return nil, fmt.Errorf("%s: missing or private jwk header: %w", op, ErrInvalidProof)
	}

	var std jwt.Claims
	var custom ProofClaims
	if err := tok.Claims(h.JSONWebKey.Key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidProof, err)
	}
	switch {
	case std.ID == "":
		return nil, fmt.Errorf("%s: missing jti: %w", op, ErrInvalidProof)
	case std.IssuedAt == nil:
		return nil, fmt.Errorf("%s: missing iat: %w", op, ErrInvalidProof)
	case custom.HTM == "" || custom.HTU == "":
		return nil, fmt.Errorf("%s: missing htm or htu: %w", op, ErrInvalidProof)
	}
	now := opts.withNow()
	if err := std.ValidateWithLeeway(jwt.Expected{Time: now}, opts.withSkew); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrExpiredProof, err)
	}

	p := &Proof{
		ProofClaims: custom,
		ID:          std.ID,
		IssuedAt:    std.IssuedAt.Time(),
		PublicJWK:   *h.JSONWebKey,
	}
	if std.Expiry != nil {
		p.Expiry = std.Expiry.Time()
	}
	return p, nil
}
