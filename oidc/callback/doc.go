// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides a callback (in the form of an
http.HandlerFunc) for handling an issuer's redirect back to a server side
application after an authorization code or implicit login.
*/
package callback
