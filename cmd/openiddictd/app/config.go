// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/khandakerakash/openiddict-core/pkg/keys"
	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/managers"
	"github.com/khandakerakash/openiddict-core/pkg/server"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// Config is the file/env configuration consumed by the CLI.
type Config struct {
	Issuer string `mapstructure:"issuer"`
	Listen string `mapstructure:"listen"`
	Debug  bool   `mapstructure:"debug"`

	Storage StorageConfig `mapstructure:"storage"`

	SigningKeyFile   string   `mapstructure:"signing_key_file"`
	FallbackKeyFiles []string `mapstructure:"fallback_key_files"`

	Flows struct {
		AuthorizationCode bool `mapstructure:"authorization_code"`
		Implicit          bool `mapstructure:"implicit"`
		Hybrid            bool `mapstructure:"hybrid"`
	} `mapstructure:"flows"`

	Grants struct {
		RefreshToken      bool `mapstructure:"refresh_token"`
		ClientCredentials bool `mapstructure:"client_credentials"`
		Password          bool `mapstructure:"password"`
		DeviceCode        bool `mapstructure:"device_code"`
	} `mapstructure:"grants"`

	Endpoints struct {
		Introspection bool `mapstructure:"introspection"`
		Revocation    bool `mapstructure:"revocation"`
		Userinfo      bool `mapstructure:"userinfo"`
		Logout        bool `mapstructure:"logout"`
	} `mapstructure:"endpoints"`

	RequirePKCE        bool `mapstructure:"require_pkce"`
	UseReferenceTokens bool `mapstructure:"use_reference_tokens"`

	AccessTokenLifetime       time.Duration `mapstructure:"access_token_lifetime"`
	AuthorizationCodeLifetime time.Duration `mapstructure:"authorization_code_lifetime"`
	RefreshTokenLifetime      time.Duration `mapstructure:"refresh_token_lifetime"`

	// DevSubject auto-approves every authorization request for the given
	// subject. Development only: a production host attaches its own
	// consent pipeline.
	DevSubject string `mapstructure:"dev_subject"`

	Clients []ClientConfig `mapstructure:"clients"`
	Scopes  []ScopeConfig  `mapstructure:"scopes"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is "memory" or "redis".
	Type string `mapstructure:"type"`

	Redis struct {
		Addrs     []string `mapstructure:"addrs"`
		Username  string   `mapstructure:"username"`
		Password  string   `mapstructure:"password"`
		DB        int      `mapstructure:"db"`
		KeyPrefix string   `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`
}

// ClientConfig declares a pre-registered OAuth client.
type ClientConfig struct {
	ClientID               string   `mapstructure:"client_id"`
	ClientSecret           string   `mapstructure:"client_secret"`
	Type                   string   `mapstructure:"type"`
	ConsentType            string   `mapstructure:"consent_type"`
	DisplayName            string   `mapstructure:"display_name"`
	RedirectURIs           []string `mapstructure:"redirect_uris"`
	PostLogoutRedirectURIs []string `mapstructure:"post_logout_redirect_uris"`
	Permissions            []string `mapstructure:"permissions"`
}

// ScopeConfig declares a registered scope.
type ScopeConfig struct {
	Name        string   `mapstructure:"name"`
	DisplayName string   `mapstructure:"display_name"`
	Resources   []string `mapstructure:"resources"`
}

// loadConfig unmarshals the viper state into a Config with defaults.
func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	return cfg, nil
}

// serverOptions maps the file configuration onto the core options.
func (c *Config) serverOptions() *server.Options {
	return &server.Options{
		Issuer: c.Issuer,

		EnableAuthorizationCodeFlow: c.Flows.AuthorizationCode,
		EnableImplicitFlow:          c.Flows.Implicit,
		EnableHybridFlow:            c.Flows.Hybrid,

		EnableRefreshTokenGrant:      c.Grants.RefreshToken,
		EnableClientCredentialsGrant: c.Grants.ClientCredentials,
		EnablePasswordGrant:          c.Grants.Password,
		EnableDeviceCodeGrant:        c.Grants.DeviceCode,

		EnableTokenEndpoint:         true,
		EnableIntrospectionEndpoint: c.Endpoints.Introspection,
		EnableRevocationEndpoint:    c.Endpoints.Revocation,
		EnableUserinfoEndpoint:      c.Endpoints.Userinfo,
		EnableLogoutEndpoint:        c.Endpoints.Logout,

		RequireProofKeyForCodeExchange: c.RequirePKCE,
		UseReferenceTokens:             c.UseReferenceTokens,

		AccessTokenLifetime:       c.AccessTokenLifetime,
		AuthorizationCodeLifetime: c.AuthorizationCodeLifetime,
		RefreshTokenLifetime:      c.RefreshTokenLifetime,
	}
}

// buildStore creates the configured persistence backend.
func (c *Config) buildStore() (store.Store, error) {
	switch c.Storage.Type {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			Addrs:     c.Storage.Redis.Addrs,
			Username:  c.Storage.Redis.Username,
			Password:  c.Storage.Redis.Password,
			DB:        c.Storage.Redis.DB,
			KeyPrefix: c.Storage.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
}

// buildManagers assembles the entity managers on top of a store.
func buildManagers(s store.Store) *server.Managers {
	opts := managers.Options{}
	return &server.Managers{
		Applications:   managers.NewApplicationManager(s.Applications(), opts),
		Authorizations: managers.NewAuthorizationManager(s.Authorizations(), s.Tokens(), opts),
		Tokens:         managers.NewTokenManager(s.Tokens(), opts),
		Scopes:         managers.NewScopeManager(s.Scopes(), opts),
	}
}

// buildKeys loads or generates the signing keys.
func (c *Config) buildKeys() (keys.Provider, error) {
	if c.SigningKeyFile != "" {
		return keys.NewFileProvider(c.SigningKeyFile, c.FallbackKeyFiles...)
	}
	logger.Warn("no signing key configured; generating an ephemeral development key")
	return keys.NewGeneratedProvider()
}

// seed registers the configured clients and scopes, ignoring entries that
// already exist so restarts stay idempotent.
func seed(ctx context.Context, m *server.Managers, cfg *Config) error {
	for _, client := range cfg.Clients {
		clientType := client.Type
		if clientType == "" {
			if client.ClientSecret != "" {
				clientType = store.ClientTypeConfidential
			} else {
				clientType = store.ClientTypePublic
			}
		}
		_, err := m.Applications.Create(ctx, &managers.ApplicationDescriptor{
			ClientID:               client.ClientID,
			ClientSecret:           client.ClientSecret,
			ClientType:             clientType,
			ConsentType:            client.ConsentType,
			DisplayName:            client.DisplayName,
			RedirectURIs:           client.RedirectURIs,
			PostLogoutRedirectURIs: client.PostLogoutRedirectURIs,
			Permissions:            client.Permissions,
		})
		if err != nil && !store.IsAlreadyExists(err) {
			return fmt.Errorf("seed client %s: %w", client.ClientID, err)
		}
	}

	for _, scope := range cfg.Scopes {
		_, err := m.Scopes.Create(ctx, &managers.ScopeDescriptor{
			Name:        scope.Name,
			DisplayName: scope.DisplayName,
			Resources:   scope.Resources,
		})
		if err != nil && !store.IsAlreadyExists(err) {
			return fmt.Errorf("seed scope %s: %w", scope.Name, err)
		}
	}
	return nil
}
