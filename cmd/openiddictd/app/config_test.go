// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khandakerakash/openiddict-core/pkg/store"
)

const sampleConfig = `
issuer: https://auth.example.com
listen: ":9443"
storage:
  type: memory
flows:
  authorization_code: true
grants:
  refresh_token: true
endpoints:
  introspection: true
  userinfo: true
require_pkce: true
clients:
  - client_id: c1
    client_secret: s3cret
    redirect_uris:
      - https://app/cb
    permissions:
      - ept:authorization
      - ept:token
      - gt:authorization_code
scopes:
  - name: profile
`

func loadSampleConfig(t *testing.T) *Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "openiddictd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := loadConfig()
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig(t *testing.T) {
	cfg := loadSampleConfig(t)

	assert.Equal(t, "https://auth.example.com", cfg.Issuer)
	assert.Equal(t, ":9443", cfg.Listen)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.True(t, cfg.Flows.AuthorizationCode)
	assert.True(t, cfg.Grants.RefreshToken)
	assert.True(t, cfg.RequirePKCE)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "c1", cfg.Clients[0].ClientID)
	require.Len(t, cfg.Scopes, 1)
}

func TestServerOptionsMapping(t *testing.T) {
	cfg := loadSampleConfig(t)

	opts := cfg.serverOptions()
	require.NoError(t, opts.Validate())
	assert.True(t, opts.EnableAuthorizationCodeFlow)
	assert.True(t, opts.EnableTokenEndpoint)
	assert.True(t, opts.EnableRefreshTokenGrant)
	assert.True(t, opts.RequireProofKeyForCodeExchange)
	assert.False(t, opts.EnableImplicitFlow)
}

func TestSeedIsIdempotent(t *testing.T) {
	cfg := loadSampleConfig(t)
	ctx := context.Background()

	st, err := cfg.buildStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgrs := buildManagers(st)
	require.NoError(t, seed(ctx, mgrs, cfg))
	require.NoError(t, seed(ctx, mgrs, cfg), "seeding twice must not fail")

	app, err := mgrs.Applications.FindByClientID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, store.ClientTypeConfidential, app.ClientType,
		"a secret implies a confidential client")
}

func TestBuildStoreRejectsUnknownType(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Type: "cassandra"}}
	_, err := cfg.buildStore()
	assert.Error(t, err)
}
