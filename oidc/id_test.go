// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		prefix     string
		wantPrefix string
	}{
		{name: "no-prefix"},
		{name: "with-prefix", prefix: "alice", wantPrefix: "alice_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewID(tt.prefix)
			require.NoError(err)
			assert.True(strings.HasPrefix(got, tt.wantPrefix))
			assert.Len(strings.TrimPrefix(got, tt.wantPrefix), 36)

			again, err := NewID(tt.prefix)
			require.NoError(err)
			assert.NotEqual(got, again)
		})
	}
}

func TestNewSessionID(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	first := NewSessionID()
	second := NewSessionID()
	assert.NotEqual(first, second)
	_, err := ksuid.Parse(first)
	require.NoError(err)
}
