// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// authn is a client side OpenID Connect authentication engine. It logs users
// in against an identity provider, optionally binds the issued tokens to a
// DPoP key, and hands back an authenticated request function.
//
// See the oidc, dpop and storage packages.
package authn
