// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// NewHTTPClient returns a pooled http.Client which trusts caPEM, or the
// system roots when caPEM is empty.
func NewHTTPClient(caPEM string) (*http.Client, error) {
	const op = "oidc.NewHTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{Transport: tr}, nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// httpClientFor adapts a Fetcher for libraries that need an *http.Client.
func httpClientFor(f Fetcher) *http.Client {
	if c, ok := f.(*http.Client); ok {
		return c
	}
	return &http.Client{Transport: roundTripperFunc(f.Do)}
}

// clientContext returns a context carrying the Fetcher as the http client
// used by go-oidc.
func clientContext(ctx context.Context, f Fetcher) context.Context {
	return oidc.ClientContext(ctx, httpClientFor(f))
}
