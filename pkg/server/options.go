// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/url"
	"time"
)

// Default token lifetimes.
const (
	DefaultAccessTokenLifetime       = time.Hour
	DefaultAuthorizationCodeLifetime = 5 * time.Minute
	DefaultIdentityTokenLifetime     = 20 * time.Minute
	DefaultRefreshTokenLifetime      = 14 * 24 * time.Hour
)

// Options is the immutable configuration snapshot attached to every
// transaction. Hosts populate it once at startup; handlers only read it.
type Options struct {
	// Issuer is the issuer identifier, an absolute URL. When empty it is
	// inferred per-request from the HTTP host.
	Issuer string

	// Flow toggles. At least one flow or grant must be enabled.
	EnableAuthorizationCodeFlow bool
	EnableImplicitFlow          bool
	EnableHybridFlow            bool

	// Grant toggles for the token endpoint.
	EnableClientCredentialsGrant bool
	EnableDeviceCodeGrant        bool
	EnablePasswordGrant          bool
	EnableRefreshTokenGrant      bool

	// Endpoint toggles. The authorization endpoint is implied by the flow
	// toggles.
	EnableTokenEndpoint         bool
	EnableIntrospectionEndpoint bool
	EnableRevocationEndpoint    bool
	EnableUserinfoEndpoint      bool
	EnableLogoutEndpoint        bool

	// EnableDegradedMode runs the server without the persistence layer:
	// handlers gated on the stores drop out of the pipeline and all state
	// lives in self-contained signed tokens.
	EnableDegradedMode bool

	// DisableScopeValidation skips checking requested scopes against the
	// scope registry.
	DisableScopeValidation bool

	// Permission enforcement toggles. When ignored, clients may use any
	// endpoint, grant type or scope without carrying the permission.
	IgnoreEndpointPermissions     bool
	IgnoreGrantTypePermissions    bool
	IgnoreResponseTypePermissions bool
	IgnoreScopePermissions        bool

	// UseReferenceTokens stores token payloads server-side and hands out
	// opaque reference identifiers instead.
	UseReferenceTokens bool

	// RequireProofKeyForCodeExchange makes PKCE mandatory for the
	// authorization code flow.
	RequireProofKeyForCodeExchange bool

	// Token lifetimes; zero values select the defaults.
	AccessTokenLifetime       time.Duration
	AuthorizationCodeLifetime time.Duration
	IdentityTokenLifetime     time.Duration
	RefreshTokenLifetime      time.Duration
}

// Validate checks the options for inconsistencies and fails fast.
func (o *Options) Validate() error {
	if o.Issuer != "" {
		u, err := url.Parse(o.Issuer)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("issuer %q must be an absolute URL", o.Issuer)
		}
		if u.Fragment != "" || u.RawQuery != "" {
			return fmt.Errorf("issuer %q cannot contain a query or fragment", o.Issuer)
		}
	}

	if !o.EnableAuthorizationCodeFlow && !o.EnableImplicitFlow && !o.EnableHybridFlow &&
		!o.EnableClientCredentialsGrant && !o.EnablePasswordGrant &&
		!o.EnableRefreshTokenGrant && !o.EnableDeviceCodeGrant {
		return fmt.Errorf("at least one flow or grant type must be enabled")
	}

	if o.EnableHybridFlow && !o.EnableAuthorizationCodeFlow {
		return fmt.Errorf("the hybrid flow requires the authorization code flow")
	}

	if o.EnableAuthorizationCodeFlow && !o.EnableTokenEndpoint {
		return fmt.Errorf("the authorization code flow requires the token endpoint")
	}

	return nil
}

// accessTokenLifetime returns the configured or default access token
// lifetime.
func (o *Options) accessTokenLifetime() time.Duration {
	if o.AccessTokenLifetime > 0 {
		return o.AccessTokenLifetime
	}
	return DefaultAccessTokenLifetime
}

func (o *Options) authorizationCodeLifetime() time.Duration {
	if o.AuthorizationCodeLifetime > 0 {
		return o.AuthorizationCodeLifetime
	}
	return DefaultAuthorizationCodeLifetime
}

func (o *Options) identityTokenLifetime() time.Duration {
	if o.IdentityTokenLifetime > 0 {
		return o.IdentityTokenLifetime
	}
	return DefaultIdentityTokenLifetime
}

func (o *Options) refreshTokenLifetime() time.Duration {
	if o.RefreshTokenLifetime > 0 {
		return o.RefreshTokenLifetime
	}
	return DefaultRefreshTokenLifetime
}
