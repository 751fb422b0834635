// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/authn/oidc"
)

// Redirect creates a handler for the issuer's redirect back to the
// application. The request's URL, including a form_post body, is handed to
// ClientAuthentication.HandleIncomingRedirect.
//
// The SuccessResponseFunc is used to create a response when the session
// logged in. The ErrorResponseFunc is used when the issuer returned an
// error or the redirect could not be handled.
func Redirect(ca *oidc.ClientAuthentication, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Redirect"
	switch {
	case ca == nil:
		return nil, fmt.Errorf("%s: client authentication is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		rr, err := ca.HandleIncomingRedirect(req.Context(), RequestURL(req))
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		if rr == nil {
			eFn(reqState, nil, fmt.Errorf("%s: request is not an authorization response: %w", op, oidc.ErrInvalidParameter), w, req)
			return
		}
		sFn(reqState, rr, w, req)
	}, nil
}

// RequestURL returns the absolute URL the user agent requested. Parsed
// form values, which include a form_post body, replace the query.
func RequestURL(req *http.Request) string {
	u := url.URL{
		Scheme: "http",
		Host:   req.Host,
		Path:   req.URL.Path,
	}
	if req.TLS != nil {
		u.Scheme = "https"
	}
	if req.Form == nil {
		_ = req.ParseForm()
	}
	u.RawQuery = req.Form.Encode()
	return u.String()
}
