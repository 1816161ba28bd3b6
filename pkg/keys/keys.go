// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key management for the authorization
// server: loading keys from PEM files, generating ephemeral development
// keys, and exposing the public halves as a JWKS document.
package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// DefaultAlgorithm is the signing algorithm for generated keys. ES256
// (ECDSA with P-256) offers RSA-3072-level security with smaller keys and
// faster signing.
const DefaultAlgorithm = "ES256"

// MinRSAKeyBits is the minimum accepted RSA key size per NIST SP 800-57.
const MinRSAKeyBits = 2048

// SigningKey is a private key with its JOSE metadata.
type SigningKey struct {
	// KeyID is the RFC 7638 thumbprint of the public key.
	KeyID string

	// Algorithm is the JOSE signing algorithm (ES256, RS256, EdDSA).
	Algorithm string

	// Key is the private key used for signing.
	Key crypto.Signer

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}

// PublicKey is the public half of a signing key, safe to publish.
type PublicKey struct {
	KeyID     string
	Algorithm string
	Key       crypto.PublicKey
}

// Provider supplies signing keys for token serialization and the public
// key set for verification and the JWKS endpoint.
type Provider interface {
	// SigningKey returns the current signing key.
	SigningKey(ctx context.Context) (*SigningKey, error)

	// PublicKeys returns all public keys. Several keys may be active
	// during rotation periods.
	PublicKeys(ctx context.Context) ([]*PublicKey, error)
}

// StaticProvider serves a fixed set of keys loaded at construction time.
// The first key signs new tokens; the rest stay published for verification
// during rotation.
type StaticProvider struct {
	signing *SigningKey
	all     []*SigningKey
}

// NewFileProvider loads the signing key and optional fallback keys from PEM
// files. Supports RSA (PKCS1/PKCS8), ECDSA (SEC1/PKCS8) and Ed25519 keys.
func NewFileProvider(signingKeyPath string, fallbackKeyPaths ...string) (*StaticProvider, error) {
	if signingKeyPath == "" {
		return nil, fmt.Errorf("signing key file is required")
	}

	signing, err := loadKeyFromFile(signingKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	all := []*SigningKey{signing}
	for _, path := range fallbackKeyPaths {
		key, err := loadKeyFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load fallback key %s: %w", path, err)
		}
		all = append(all, key)
	}

	return &StaticProvider{signing: signing, all: all}, nil
}

// NewGeneratedProvider creates an ephemeral ECDSA P-256 key. Tokens signed
// with it do not survive a restart; intended for development and tests.
func NewGeneratedProvider() (*StaticProvider, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	signing, err := describeKey(key)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{signing: signing, all: []*SigningKey{signing}}, nil
}

// SigningKey returns a copy of the primary signing key.
func (p *StaticProvider) SigningKey(_ context.Context) (*SigningKey, error) {
	k := *p.signing
	return &k, nil
}

// PublicKeys returns the public halves of every loaded key.
func (p *StaticProvider) PublicKeys(_ context.Context) ([]*PublicKey, error) {
	keys := make([]*PublicKey, 0, len(p.all))
	for _, key := range p.all {
		keys = append(keys, &PublicKey{
			KeyID:     key.KeyID,
			Algorithm: key.Algorithm,
			Key:       key.Key.Public(),
		})
	}
	return keys, nil
}

// loadKeyFromFile parses a single PEM-encoded private key.
func loadKeyFromFile(path string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	var parsed any
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key does not implement crypto.Signer")
	}
	return describeKey(signer)
}

// describeKey derives the JOSE algorithm and RFC 7638 key ID for a signer.
func describeKey(signer crypto.Signer) (*SigningKey, error) {
	var algorithm string
	switch key := signer.(type) {
	case *rsa.PrivateKey:
		if key.N.BitLen() < MinRSAKeyBits {
			return nil, fmt.Errorf("RSA key must be at least %d bits", MinRSAKeyBits)
		}
		algorithm = "RS256"
	case *ecdsa.PrivateKey:
		switch key.Curve {
		case elliptic.P256():
			algorithm = "ES256"
		case elliptic.P384():
			algorithm = "ES384"
		case elliptic.P521():
			algorithm = "ES512"
		default:
			return nil, fmt.Errorf("unsupported ECDSA curve %s", key.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		algorithm = "EdDSA"
	default:
		return nil, fmt.Errorf("unsupported key type %T", signer)
	}

	jwk := jose.JSONWebKey{Key: signer.Public(), Algorithm: algorithm}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("compute key thumbprint: %w", err)
	}

	return &SigningKey{
		KeyID:     base64.RawURLEncoding.EncodeToString(thumbprint),
		Algorithm: algorithm,
		Key:       signer,
		CreatedAt: time.Now(),
	}, nil
}
