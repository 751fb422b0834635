// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures NewRedisBackend.
type RedisConfig struct {
	// Addr is the host:port of the redis server.
	Addr string

	Username string
	Password string
	DB       int

	// KeyPrefix is prepended to every key, allowing several applications
	// to share one database.
	KeyPrefix string

	// TTL expires keys after they were last written. Zero keeps them until
	// deleted.
	TTL time.Duration
}

// Validate the RedisConfig.
func (c *RedisConfig) Validate() error {
	const op = "RedisConfig.Validate"
	switch {
	case c == nil:
		return fmt.Errorf("%s: redis config is nil: %w", op, ErrNilParameter)
	case c.Addr == "":
		return fmt.Errorf("%s: addr is empty: %w", op, ErrInvalidParameter)
	case c.TTL < 0:
		return fmt.Errorf("%s: ttl is negative: %w", op, ErrInvalidParameter)
	}
	return nil
}

// RedisBackend stores values in redis. It lets several processes share
// sessions, which the file and memory backends cannot.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// ensure RedisBackend implements the Backend interface
var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(ctx context.Context, c *RedisConfig) (*RedisBackend, error) {
	const op = "storage.NewRedisBackend"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: unable to connect to redis: %w", op, err)
	}
	return &RedisBackend{client: client, keyPrefix: c.KeyPrefix, ttl: c.TTL}, nil
}

// NewRedisBackendWithClient creates a RedisBackend around an existing client.
func NewRedisBackendWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Close the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) key(k string) string {
	return r.keyPrefix + k
}

// Get implements Backend.Get
func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "RedisBackend.Get"
	v, err := r.client.Get(ctx, r.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

// Set implements Backend.Set
func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	const op = "RedisBackend.Set"
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Backend.Delete
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	const op = "RedisBackend.Delete"
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
