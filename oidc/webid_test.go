// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveWebID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		claims    IdentityClaims
		want      string
		wantIsErr error
	}{
		{
			name:   "webid-claim",
			claims: IdentityClaims{WebID: "https://alice.example.com/card#me", Subject: "https://other.example.com/#me"},
			want:   "https://alice.example.com/card#me",
		},
		{
			name:   "iri-subject",
			claims: IdentityClaims{Subject: "https://alice.example.com/card#me"},
			want:   "https://alice.example.com/card#me",
		},
		{
			name:   "http-subject",
			claims: IdentityClaims{Subject: "http://alice.example.com/card#me"},
			want:   "http://alice.example.com/card#me",
		},
		{
			name:      "opaque-subject",
			claims:    IdentityClaims{Subject: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients"},
			wantIsErr: ErrIdentityDerivation,
		},
		{
			name:      "dotless-host",
			claims:    IdentityClaims{Subject: "https://localhost/card"},
			wantIsErr: ErrIdentityDerivation,
		},
		{
			name:      "empty",
			wantIsErr: ErrIdentityDerivation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveWebID(tt.claims)
			if tt.wantIsErr != nil {
				require.ErrorIs(t, err, tt.wantIsErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
