// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/authn/internal/keylock"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultSecurePrefix prefixes every secure tier record key.
	DefaultSecurePrefix = "authn.secure"

	// DefaultInsecurePrefix prefixes every insecure tier record key.
	DefaultInsecurePrefix = "authn.insecure"

	// globalSeparator separates the insecure prefix from a global key. It
	// differs from the record separator so globals never collide with a
	// session record.
	globalSeparator = "/"
	recordSeparator = ":"
)

// Utility reads and writes per-session values on top of two Backends, one
// for each tier.
type Utility struct {
	secure   Backend
	insecure Backend

	securePrefix   string
	insecurePrefix string

	logger hclog.Logger
	locks  keylock.Locker
}

// NewUtility creates a Utility. The secure and insecure backends must both be
// provided; they may be the same Backend since the tiers use different
// record prefixes.
//
// Supported options:
//   - WithPrefixes
//   - WithLogger
func NewUtility(secure, insecure Backend, opt ...Option) (*Utility, error) {
	const op = "storage.NewUtility"
	switch {
	case secure == nil:
		return nil, fmt.Errorf("%s: secure backend is nil: %w", op, ErrNilParameter)
	case insecure == nil:
		return nil, fmt.Errorf("%s: insecure backend is nil: %w", op, ErrNilParameter)
	}
	opts := getUtilityOpts(opt...)
	if opts.withSecurePrefix == opts.withInsecurePrefix {
		return nil, fmt.Errorf("%s: secure and insecure prefixes must differ: %w", op, ErrInvalidParameter)
	}
	return &Utility{
		secure:         secure,
		insecure:       insecure,
		securePrefix:   opts.withSecurePrefix,
		insecurePrefix: opts.withInsecurePrefix,
		logger:         opts.withLogger,
	}, nil
}

// NewMemoryUtility returns a Utility with a fresh MemoryBackend for each tier.
func NewMemoryUtility(opt ...Option) *Utility {
	u, err := NewUtility(NewMemoryBackend(), NewMemoryBackend(), opt...)
	if err != nil {
		// only reachable with conflicting prefixes
		panic(err)
	}
	return u
}

func (u *Utility) tier(secure bool) (Backend, string) {
	if secure {
		return u.secure, u.securePrefix
	}
	return u.insecure, u.insecurePrefix
}

func (u *Utility) recordKey(prefix, sessionID string) string {
	return prefix + recordSeparator + sessionID
}

// readRecord loads the record for sessionID. A record that cannot be decoded
// is deleted and reported as empty.
func (u *Utility) readRecord(ctx context.Context, b Backend, key string) (map[string]string, error) {
	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	record := map[string]string{}
	if !ok || raw == "" {
		return record, nil
	}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		u.logger.Warn("deleting undecodable storage record", "key", key, "error", err)
		if err := b.Delete(ctx, key); err != nil {
			return nil, err
		}
		return map[string]string{}, nil
	}
	return record, nil
}

func (u *Utility) writeRecord(ctx context.Context, b Backend, key string, record map[string]string) error {
	if len(record) == 0 {
		return b.Delete(ctx, key)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.Set(ctx, key, string(raw))
}

// Get returns the value stored under key for the session. A missing value is
// returned as "" with a nil error, unless WithErrorIfNull(true) is used.
//
// Supported options:
//   - WithSecure
//   - WithErrorIfNull
func (u *Utility) Get(ctx context.Context, sessionID, key string, opt ...Option) (string, error) {
	const op = "Utility.Get"
	if sessionID == "" {
		return "", fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAccessOpts(opt...)
	b, prefix := u.tier(opts.withSecure)
	record, err := u.readRecord(ctx, b, u.recordKey(prefix, sessionID))
	if err != nil {
		return "", fmt.Errorf("%s: unable to read session %q: %w", op, sessionID, err)
	}
	v, ok := record[key]
	if !ok && opts.withErrorIfNull {
		return "", fmt.Errorf("%s: field %q for session %q: %w", op, key, sessionID, ErrNotFound)
	}
	return v, nil
}

// GetJSON decodes the JSON value stored under key into out. It returns false
// when no value exists. A value that cannot be decoded is deleted and
// reported as missing.
//
// Supported options:
//   - WithSecure
//   - WithErrorIfNull
func (u *Utility) GetJSON(ctx context.Context, sessionID, key string, out interface{}, opt ...Option) (bool, error) {
	const op = "Utility.GetJSON"
	if out == nil {
		return false, fmt.Errorf("%s: out is nil: %w", op, ErrNilParameter)
	}
	opts := getAccessOpts(opt...)
	raw, err := u.Get(ctx, sessionID, key, WithSecure(opts.withSecure))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), out); err == nil {
			return true, nil
		}
		u.logger.Warn("deleting undecodable storage value", "session_id", sessionID, "field", key)
		if err := u.Delete(ctx, sessionID, key, WithSecure(opts.withSecure)); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if opts.withErrorIfNull {
		return false, fmt.Errorf("%s: field %q for session %q: %w", op, key, sessionID, ErrNotFound)
	}
	return false, nil
}

// Set merges values into the session's record.
//
// Supported options:
//   - WithSecure
func (u *Utility) Set(ctx context.Context, sessionID string, values map[string]string, opt ...Option) error {
	const op = "Utility.Set"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	if len(values) == 0 {
		return nil
	}
	opts := getAccessOpts(opt...)
	b, prefix := u.tier(opts.withSecure)
	key := u.recordKey(prefix, sessionID)

	unlock := u.locks.Lock(key)
	defer unlock()

	record, err := u.readRecord(ctx, b, key)
	if err != nil {
		return fmt.Errorf("%s: unable to read session %q: %w", op, sessionID, err)
	}
	for k, v := range values {
		record[k] = v
	}
	if err := u.writeRecord(ctx, b, key, record); err != nil {
		return fmt.Errorf("%s: unable to write session %q: %w", op, sessionID, err)
	}
	return nil
}

// SetJSON stores v JSON encoded under key.
//
// Supported options:
//   - WithSecure
func (u *Utility) SetJSON(ctx context.Context, sessionID, key string, v interface{}, opt ...Option) error {
	const op = "Utility.SetJSON"
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: unable to encode %q: %w", op, key, err)
	}
	if err := u.Set(ctx, sessionID, map[string]string{key: string(raw)}, opt...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete removes key from the session's record.
//
// Supported options:
//   - WithSecure
func (u *Utility) Delete(ctx context.Context, sessionID, key string, opt ...Option) error {
	const op = "Utility.Delete"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAccessOpts(opt...)
	b, prefix := u.tier(opts.withSecure)
	rk := u.recordKey(prefix, sessionID)

	unlock := u.locks.Lock(rk)
	defer unlock()

	record, err := u.readRecord(ctx, b, rk)
	if err != nil {
		return fmt.Errorf("%s: unable to read session %q: %w", op, sessionID, err)
	}
	if _, ok := record[key]; !ok {
		return nil
	}
	delete(record, key)
	if err := u.writeRecord(ctx, b, rk, record); err != nil {
		return fmt.Errorf("%s: unable to write session %q: %w", op, sessionID, err)
	}
	return nil
}

// DeleteAllUserData removes the session's records from both tiers. It is
// idempotent.
func (u *Utility) DeleteAllUserData(ctx context.Context, sessionID string) error {
	const op = "Utility.DeleteAllUserData"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	var result *multierror.Error
	for _, secure := range []bool{true, false} {
		b, prefix := u.tier(secure)
		key := u.recordKey(prefix, sessionID)
		unlock := u.locks.Lock(key)
		if err := b.Delete(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
		}
		unlock()
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (u *Utility) globalKey(key string) string {
	return u.insecurePrefix + globalSeparator + key
}

// GetGlobal reads a value that is not scoped to a session, such as the
// pointer to the current session. Globals live in the insecure tier.
func (u *Utility) GetGlobal(ctx context.Context, key string) (string, bool, error) {
	const op = "Utility.GetGlobal"
	v, ok, err := u.insecure.Get(ctx, u.globalKey(key))
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, ok, nil
}

// SetGlobal writes a value that is not scoped to a session.
func (u *Utility) SetGlobal(ctx context.Context, key, value string) error {
	const op = "Utility.SetGlobal"
	if err := u.insecure.Set(ctx, u.globalKey(key), value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteGlobal removes a value that is not scoped to a session.
func (u *Utility) DeleteGlobal(ctx context.Context, key string) error {
	const op = "Utility.DeleteGlobal"
	if err := u.insecure.Delete(ctx, u.globalKey(key)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
