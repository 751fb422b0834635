// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"sync"
)

// Backend is a minimal key/value store supplied by the host. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored for key. The bool is false when no value
	// exists, which is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value for key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryBackend is an in-memory Backend. It is the default for both tiers
// and is concurrently safe.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

// ensure MemoryBackend implements the Backend interface
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

// Get implements Backend.Get
func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Backend.Set
func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete implements Backend.Delete
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Len returns the number of keys held.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
