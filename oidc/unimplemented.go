// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
)

// unimplementedStrategy matches only when its flow is explicitly selected
// and then fails, so the flow is never silently skipped.
type unimplementedStrategy struct {
	name string
	flow Flow
}

func (s *unimplementedStrategy) Name() string { return s.name }

func (s *unimplementedStrategy) CanHandle(o *OidcOptions) bool {
	return o != nil && o.Flow == s.flow
}

func (s *unimplementedStrategy) Handle(_ context.Context, _ *OidcOptions) (*LoginResult, error) {
	return nil, fmt.Errorf("%s: %s flow: %w", s.name, s.flow, ErrNotImplemented)
}

// NewClientCredentialsStrategy returns the client credentials strategy.
func NewClientCredentialsStrategy() LoginStrategy {
	return &unimplementedStrategy{name: "ClientCredentialsStrategy", flow: FlowClientCredentials}
}

// NewPrimaryDeviceStrategy returns the device flow strategy for the device
// showing the code.
func NewPrimaryDeviceStrategy() LoginStrategy {
	return &unimplementedStrategy{name: "PrimaryDeviceStrategy", flow: FlowPrimaryDevice}
}

// NewSecondaryDeviceStrategy returns the device flow strategy for the device
// entering the code.
func NewSecondaryDeviceStrategy() LoginStrategy {
	return &unimplementedStrategy{name: "SecondaryDeviceStrategy", flow: FlowSecondaryDevice}
}
