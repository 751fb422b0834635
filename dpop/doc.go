// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package dpop binds access tokens to a client held key using
Demonstrating Proof-of-Possession (RFC 9449).

Each session owns exactly one EC P-256 Key, persisted in the secure storage
tier by a KeyManager. Every request that presents a DPoP bound token carries
a fresh proof created by CreateProof:

	key, err := km.GetClientKey(ctx, sessionID)
	proof, err := dpop.CreateProof(key, "https://pod.example/resource", http.MethodGet,
		dpop.WithAccessToken(accessToken),
	)
	req.Header.Set("Authorization", "DPoP "+accessToken)
	req.Header.Set("DPoP", proof)

Proofs are short lived (DefaultProofExpiry) and single use.
*/
package dpop
