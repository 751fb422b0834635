// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a client side OpenID Connect authentication engine. It logs
sessions in with the authorization code flow (PKCE S256), the legacy
implicit flow or a refresh token, registers clients dynamically when needed
and binds access tokens to a per-session DPoP key by default.

A ClientAuthentication is composed from a Config:

	cfg, err := oidc.NewConfig(
		oidc.WithStorage(secureBackend, insecureBackend),
		oidc.WithRedirector(redirector),
	)
	if err != nil {
		// handle error
	}
	ca, err := oidc.NewClientAuthentication(cfg)
	if err != nil {
		// handle error
	}

	// send the user agent to the issuer
	res, err := ca.Login(ctx, oidc.LoginOptions{
		OIDCIssuer:  "https://issuer.example.com",
		RedirectURL: "https://app.example.com/callback",
	})

	// once the issuer redirected back
	rr, err := ca.HandleIncomingRedirect(ctx, callbackURL)

	// authenticated requests
	resp, err := ca.Fetch(req)

Login state lives in two storage tiers: a secure tier for refresh tokens,
DPoP keys and the logged in WebID, and an insecure tier for client
registrations and in flight authorization requests.
*/
package oidc
