// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	jose "github.com/go-jose/go-jose/v4"
)

// JWKS adapts a Provider to the shape the cryptography endpoint serves:
// public keys as JWK documents plus the algorithm list for discovery.
type JWKS struct {
	provider Provider
}

// NewJWKS wraps a key provider.
func NewJWKS(provider Provider) *JWKS {
	return &JWKS{provider: provider}
}

// PublicKeys renders every public key as a JWK object.
func (j *JWKS) PublicKeys(ctx context.Context) ([]map[string]any, error) {
	keys, err := j.provider.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}

	documents := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		jwk := jose.JSONWebKey{
			Key:       key.Key,
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			Use:       "sig",
		}
		data, err := jwk.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal JWK %s: %w", key.KeyID, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// SigningAlgorithms lists the distinct algorithms of the active keys.
func (j *JWKS) SigningAlgorithms(ctx context.Context) ([]string, error) {
	keys, err := j.provider.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}

	var algorithms []string
	for _, key := range keys {
		if key.Algorithm != "" && !slices.Contains(algorithms, key.Algorithm) {
			algorithms = append(algorithms, key.Algorithm)
		}
	}
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}
	return algorithms, nil
}
