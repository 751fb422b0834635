// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

// Fields of the per-session storage records.
const (
	// insecure tier
	keyClientID                = "clientId"
	keyClientSecret            = "clientSecret"
	keyClientName              = "clientName"
	keyRegistrationAccessToken = "registrationAccessToken"
	keyCodeVerifier            = "codeVerifier"
	keyRedirectURI             = "redirectUri"
	keyDPoP                    = "dpop"
	keyNonce                   = "nonce"
	keyOAuthState              = "oauthState"
	keyFlow                    = "flow"
	keyIDToken                 = "idToken"

	// secure tier
	keyIsLoggedIn   = "isLoggedIn"
	keyWebID        = "webId"
	keyRefreshToken = "refreshToken"

	// both tiers: the insecure copy drives the redirect, the secure copy
	// belongs to the logged in session.
	keyIssuer = "issuer"

	// field of a state record, which is keyed by the state value
	keySessionID = "sessionId"

	// global pointer to the session last logged in
	keyCurrentSession = "currentSession"
)
