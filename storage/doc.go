// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package storage persists per-session authentication data.

Data is split in two tiers which never share a key space: a secure tier for
credentials (refresh tokens, DPoP keys, the logged-in marker) and an insecure
tier for flow correlation data (code verifiers, redirect URIs, client ids).
Each tier is backed by a Backend supplied by the host: MemoryBackend,
FileBackend, KeyringBackend and RedisBackend are provided.

All values for one session in one tier are kept as a single JSON record. A
record that cannot be decoded is deleted and treated as absent, so storage
corruption never blocks a login flow.
*/
package storage
