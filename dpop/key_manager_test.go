// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/hashicorp/authn/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("generate-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewKeyManager(storage.NewMemoryUtility())
		require.NoError(err)

		got, err := m.GetClientKey(ctx, "s1")
		require.NoError(err)
		assert.Nil(got)

		require.NoError(m.GenerateClientKeyIfNotAlready(ctx, "s1"))
		first, err := m.GetClientKey(ctx, "s1")
		require.NoError(err)
		require.NotNil(first)

		require.NoError(m.GenerateClientKeyIfNotAlready(ctx, "s1"))
		second, err := m.GetClientKey(ctx, "s1")
		require.NoError(err)
		assert.True(first.PrivateKey().Equal(second.PrivateKey()))
	})
	t.Run("concurrent-generate", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewKeyManager(storage.NewMemoryUtility())
		require.NoError(err)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = m.GenerateClientKeyIfNotAlready(ctx, "s1")
			}()
		}
		wg.Wait()
		key, err := m.GetClientKey(ctx, "s1")
		require.NoError(err)
		assert.NotNil(key)
	})
	t.Run("secure-tier-only", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		secure, insecure := storage.NewMemoryBackend(), storage.NewMemoryBackend()
		u, err := storage.NewUtility(secure, insecure)
		require.NoError(err)
		m, err := NewKeyManager(u)
		require.NoError(err)
		require.NoError(m.GenerateClientKeyIfNotAlready(ctx, "s1"))
		assert.Equal(1, secure.Len())
		assert.Equal(0, insecure.Len())
	})
	t.Run("proof", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewKeyManager(storage.NewMemoryUtility())
		require.NoError(err)

		_, err = m.CreateProof(ctx, "s1", "https://pod.example/", http.MethodGet)
		require.Error(err)
		assert.ErrorIs(err, ErrKeyUnavailable)

		require.NoError(m.GenerateClientKeyIfNotAlready(ctx, "s1"))
		proof, err := m.CreateProof(ctx, "s1", "https://pod.example/", http.MethodGet)
		require.NoError(err)
		parsed, err := ParseProof(proof)
		require.NoError(err)
		key, err := m.GetClientKey(ctx, "s1")
		require.NoError(err)
		want, err := key.Thumbprint()
		require.NoError(err)
		got, err := parsed.Thumbprint()
		require.NoError(err)
		assert.Equal(want, got)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := NewKeyManager(nil)
		assert.ErrorIs(t, err, ErrNilParameter)
		m, err := NewKeyManager(storage.NewMemoryUtility())
		require.NoError(t, err)
		assert.ErrorIs(t, m.GenerateClientKeyIfNotAlready(ctx, ""), ErrInvalidParameter)
	})
}
