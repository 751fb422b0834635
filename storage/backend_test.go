// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// testBackend exercises the Backend contract.
func testBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(err)
	assert.False(ok)

	require.NoError(b.Set(ctx, "k", "v1"))
	require.NoError(b.Set(ctx, "k", "v2"))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(err)
	assert.True(ok)
	assert.Equal("v2", v)

	require.NoError(b.Delete(ctx, "k"))
	require.NoError(b.Delete(ctx, "k"))
	_, ok, err = b.Get(ctx, "k")
	require.NoError(err)
	assert.False(ok)

	// the utility works on top of the backend for both tiers
	u, err := NewUtility(b, b)
	require.NoError(err)
	require.NoError(u.Set(ctx, "s1", map[string]string{"a": "secure"}, WithSecure(true)))
	require.NoError(u.Set(ctx, "s1", map[string]string{"a": "insecure"}))
	got, err := u.Get(ctx, "s1", "a", WithSecure(true))
	require.NoError(err)
	assert.Equal("secure", got)
	got, err = u.Get(ctx, "s1", "a")
	require.NoError(err)
	assert.Equal("insecure", got)
	require.NoError(u.DeleteAllUserData(ctx, "s1"))
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()
	testBackend(t, NewMemoryBackend())
}

func TestFileBackend(t *testing.T) {
	t.Parallel()
	t.Run("contract", func(t *testing.T) {
		b, err := NewFileBackend(filepath.Join(t.TempDir(), "nested", "store.json"))
		require.NoError(t, err)
		testBackend(t, b)
	})
	t.Run("shared-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "store.json")
		b1, err := NewFileBackend(path)
		require.NoError(err)
		b2, err := NewFileBackend(path, WithLockTimeout(time.Second))
		require.NoError(err)

		require.NoError(b1.Set(ctx, "k", "v"))
		v, ok, err := b2.Get(ctx, "k")
		require.NoError(err)
		assert.True(ok)
		assert.Equal("v", v)

		info, err := os.Stat(path)
		require.NoError(err)
		assert.Equal(os.FileMode(0o600), info.Mode().Perm())
	})
	t.Run("corrupt-file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "store.json")
		require.NoError(os.WriteFile(path, []byte("{nope"), 0o600))
		b, err := NewFileBackend(path)
		require.NoError(err)
		_, ok, err := b.Get(ctx, "k")
		require.NoError(err)
		assert.False(ok)
		require.NoError(b.Set(ctx, "k", "v"))
		v, _, err := b.Get(ctx, "k")
		require.NoError(err)
		assert.Equal("v", v)
	})
	t.Run("empty-path", func(t *testing.T) {
		_, err := NewFileBackend("")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	testBackend(t, NewKeyringBackend(""))
	assert.Equal(t, DefaultKeyringService, NewKeyringBackend("").service)
}

func TestRedisBackend(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	t.Run("contract", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b := NewRedisBackendWithClient(client, "contract:", 0)
		t.Cleanup(func() { _ = b.Close() })
		testBackend(t, b)
	})
	t.Run("ttl", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ctx := context.Background()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b := NewRedisBackendWithClient(client, "ttl:", time.Minute)
		t.Cleanup(func() { _ = b.Close() })

		require.NoError(b.Set(ctx, "k", "v"))
		assert.True(mr.Exists("ttl:k"))
		mr.FastForward(2 * time.Minute)
		_, ok, err := b.Get(ctx, "k")
		require.NoError(err)
		assert.False(ok)
	})
	t.Run("connect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		b, err := NewRedisBackend(context.Background(), &RedisConfig{Addr: mr.Addr(), KeyPrefix: "c:"})
		require.NoError(err)
		t.Cleanup(func() { _ = b.Close() })
		require.NoError(b.Set(context.Background(), "k", "v"))
		assert.True(mr.Exists("c:k"))
	})
	t.Run("invalid-config", func(t *testing.T) {
		_, err := NewRedisBackend(context.Background(), &RedisConfig{})
		assert.ErrorIs(t, err, ErrInvalidParameter)
		_, err = NewRedisBackend(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
}
