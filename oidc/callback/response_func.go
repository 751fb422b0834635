// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/authn/oidc"
)

// SuccessResponseFunc is used by Redirect to create a http response once the
// issuer's redirect logged the session in.
//
// The state parameter is the state the issuer echoed back. The
// oidc.RedirectResult holds the session's information, its authenticated
// fetch and the redirect URL with the OAuth parameters removed, which is
// usually where the function sends the user agent next.
type SuccessResponseFunc func(state string, r *oidc.RedirectResult, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Redirect to create a http response when the
// redirect could not be handled.
//
// respErr is set when the issuer returned an OAuth error response, e is set
// when handling the redirect failed.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}
