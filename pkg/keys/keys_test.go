// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedProvider(t *testing.T) {
	t.Parallel()

	provider, err := NewGeneratedProvider()
	require.NoError(t, err)
	ctx := context.Background()

	signing, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ES256", signing.Algorithm)
	assert.NotEmpty(t, signing.KeyID)
	assert.NotNil(t, signing.Key)

	public, err := provider.PublicKeys(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, signing.KeyID, public[0].KeyID)
}

func writePEMKey(t *testing.T, name, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileProviderLoadsRSAAndECKeys(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaPath := writePEMKey(t, "rsa.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey))

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	ecPath := writePEMKey(t, "ec.pem", "EC PRIVATE KEY", ecDER)

	provider, err := NewFileProvider(rsaPath, ecPath)
	require.NoError(t, err)
	ctx := context.Background()

	signing, err := provider.SigningKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RS256", signing.Algorithm, "the first key signs")

	public, err := provider.PublicKeys(ctx)
	require.NoError(t, err)
	require.Len(t, public, 2, "fallback keys stay published for rotation")
	assert.Equal(t, "ES256", public[1].Algorithm)
}

func TestFileProviderRejectsSmallRSAKeys(t *testing.T) {
	t.Parallel()

	small, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	path := writePEMKey(t, "small.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(small))

	_, err = NewFileProvider(path)
	assert.Error(t, err)
}

func TestFileProviderMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	_, err = NewFileProvider("")
	assert.Error(t, err)
}

func TestJWKSDocumentShape(t *testing.T) {
	t.Parallel()

	provider, err := NewGeneratedProvider()
	require.NoError(t, err)
	jwks := NewJWKS(provider)
	ctx := context.Background()

	documents, err := jwks.PublicKeys(ctx)
	require.NoError(t, err)
	require.Len(t, documents, 1)

	doc := documents[0]
	assert.Equal(t, "EC", doc["kty"])
	assert.Equal(t, "sig", doc["use"])
	assert.Equal(t, "ES256", doc["alg"])
	assert.NotEmpty(t, doc["kid"])
	assert.NotContains(t, doc, "d", "private key material must never be published")

	algorithms, err := jwks.SigningAlgorithms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ES256"}, algorithms)
}
