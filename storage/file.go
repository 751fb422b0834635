// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
)

// DefaultLockTimeout is how long FileBackend waits for the file lock.
const DefaultLockTimeout = 5 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// FileBackend stores all keys in one JSON document on disk. Every operation
// holds an advisory file lock so several processes may share the file.
type FileBackend struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	logger      hclog.Logger

	mu sync.Mutex
}

// ensure FileBackend implements the Backend interface
var _ Backend = (*FileBackend)(nil)

type fileOptions struct {
	withLockTimeout time.Duration
	withLogger      hclog.Logger
}

func fileDefaults() fileOptions {
	return fileOptions{
		withLockTimeout: DefaultLockTimeout,
		withLogger:      hclog.NewNullLogger(),
	}
}

func getFileOpts(opt ...Option) fileOptions {
	opts := fileDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLockTimeout overrides DefaultLockTimeout for a FileBackend.
func WithLockTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*fileOptions); ok && d > 0 {
			o.withLockTimeout = d
		}
	}
}

// NewFileBackend creates a FileBackend persisting to path. The parent
// directory is created with 0700 permissions when missing.
//
// Supported options:
//   - WithLockTimeout
//   - WithLogger
func NewFileBackend(path string, opt ...Option) (*FileBackend, error) {
	const op = "storage.NewFileBackend"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create directory: %w", op, err)
	}
	opts := getFileOpts(opt...)
	return &FileBackend{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: opts.withLockTimeout,
		logger:      opts.withLogger,
	}, nil
}

func (f *FileBackend) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()
	locked, err := f.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("unable to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("unable to acquire lock after %s: %w", f.lockTimeout, ErrLockTimeout)
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			f.logger.Warn("unable to release file lock", "path", f.path, "error", err)
		}
	}()
	return fn()
}

// load reads the document. A document that cannot be decoded is discarded.
func (f *FileBackend) load() (map[string]string, error) {
	data := map[string]string{}
	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return data, nil
	case err != nil:
		return nil, err
	case len(raw) == 0:
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		f.logger.Warn("discarding undecodable storage file", "path", f.path, "error", err)
		return map[string]string{}, nil
	}
	return data, nil
}

func (f *FileBackend) save(data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Get implements Backend.Get
func (f *FileBackend) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "FileBackend.Get"
	var v string
	var ok bool
	err := f.withLock(ctx, func() error {
		data, err := f.load()
		if err != nil {
			return err
		}
		v, ok = data[key]
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, ok, nil
}

// Set implements Backend.Set
func (f *FileBackend) Set(ctx context.Context, key, value string) error {
	const op = "FileBackend.Set"
	err := f.withLock(ctx, func() error {
		data, err := f.load()
		if err != nil {
			return err
		}
		data[key] = value
		return f.save(data)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Backend.Delete
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	const op = "FileBackend.Delete"
	err := f.withLock(ctx, func() error {
		data, err := f.load()
		if err != nil {
			return err
		}
		if _, ok := data[key]; !ok {
			return nil
		}
		delete(data, key)
		return f.save(data)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
