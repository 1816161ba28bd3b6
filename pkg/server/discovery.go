// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
)

// Endpoint paths advertised by the discovery document.
const (
	PathAuthorization = "/connect/authorize"
	PathConfiguration = "/.well-known/openid-configuration"
	PathIntrospection = "/connect/introspect"
	PathJWKS          = "/.well-known/jwks"
	PathLogout        = "/connect/logout"
	PathRevocation    = "/connect/revoke"
	PathServerMeta    = "/.well-known/oauth-authorization-server"
	PathToken         = "/connect/token"
	PathUserinfo      = "/connect/userinfo"
)

// JWKSProvider exposes the active signing keys in JWK form for the
// cryptography endpoint.
type JWKSProvider interface {
	PublicKeys(ctx context.Context) ([]map[string]any, error)

	// SigningAlgorithms lists the algorithms of the active keys for the
	// discovery document.
	SigningAlgorithms(ctx context.Context) ([]string, error)
}

// processConfigurationRequest drives the discovery endpoint.
func (s *Server) processConfigurationRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	handle := &HandleConfigurationRequestContext{Metadata: make(map[string]any)}
	handle.Transaction = t
	if err := s.handleConfiguration.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}

	for name, value := range handle.Metadata {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		var p message.Parameter
		if err := p.UnmarshalJSON(raw); err != nil {
			return err
		}
		t.Response.Set(name, p)
	}

	evt.HandleRequest()
	return nil
}

// processCryptographyRequest drives the JWKS endpoint.
func (s *Server) processCryptographyRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	handle := &HandleCryptographyRequestContext{}
	handle.Transaction = t
	if err := s.handleCryptography.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}

	raw, err := json.Marshal(handle.Keys)
	if err != nil {
		return err
	}
	t.Response.Set("keys", message.JSONParameter(raw))

	evt.HandleRequest()
	return nil
}

// defaultConfigurationHandlers assembles the discovery metadata from the
// options snapshot and the transaction's issuer.
func (s *Server) defaultConfigurationHandlers() []events.Descriptor[*HandleConfigurationRequestContext] {
	return []events.Descriptor[*HandleConfigurationRequestContext]{{
		Name:     "attach-server-metadata",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*HandleConfigurationRequestContext] {
			return events.HandlerFunc[*HandleConfigurationRequestContext](
				func(ctx context.Context, evt *HandleConfigurationRequestContext) error {
					opts := evt.Options()
					issuer := strings.TrimSuffix(evt.Transaction.Issuer, "/")
					metadata := evt.Metadata

					metadata["issuer"] = issuer
					metadata["authorization_endpoint"] = issuer + PathAuthorization
					metadata["jwks_uri"] = issuer + PathJWKS
					if opts.EnableTokenEndpoint {
						metadata["token_endpoint"] = issuer + PathToken
					}
					if opts.EnableIntrospectionEndpoint {
						metadata["introspection_endpoint"] = issuer + PathIntrospection
					}
					if opts.EnableRevocationEndpoint {
						metadata["revocation_endpoint"] = issuer + PathRevocation
					}
					if opts.EnableUserinfoEndpoint {
						metadata["userinfo_endpoint"] = issuer + PathUserinfo
					}
					if opts.EnableLogoutEndpoint {
						metadata["end_session_endpoint"] = issuer + PathLogout
					}

					var responseTypes []string
					if opts.EnableAuthorizationCodeFlow {
						responseTypes = append(responseTypes, message.ResponseTypeCode)
					}
					if opts.EnableImplicitFlow {
						responseTypes = append(responseTypes,
							message.ResponseTypeIDToken,
							message.ResponseTypeIDToken+" "+message.ResponseTypeToken,
							message.ResponseTypeToken)
					}
					if opts.EnableHybridFlow {
						responseTypes = append(responseTypes,
							message.ResponseTypeCode+" "+message.ResponseTypeIDToken,
							message.ResponseTypeCode+" "+message.ResponseTypeIDToken+" "+message.ResponseTypeToken,
							message.ResponseTypeCode+" "+message.ResponseTypeToken)
					}
					metadata["response_types_supported"] = responseTypes
					metadata["response_modes_supported"] = []string{
						message.ResponseModeQuery,
						message.ResponseModeFragment,
						message.ResponseModeFormPost,
					}

					var grantTypes []string
					if opts.EnableAuthorizationCodeFlow || opts.EnableHybridFlow {
						grantTypes = append(grantTypes, message.GrantTypeAuthorizationCode)
					}
					if opts.EnableImplicitFlow {
						grantTypes = append(grantTypes, "implicit")
					}
					if opts.EnableRefreshTokenGrant {
						grantTypes = append(grantTypes, message.GrantTypeRefreshToken)
					}
					if opts.EnableClientCredentialsGrant {
						grantTypes = append(grantTypes, message.GrantTypeClientCredentials)
					}
					if opts.EnablePasswordGrant {
						grantTypes = append(grantTypes, message.GrantTypePassword)
					}
					if opts.EnableDeviceCodeGrant {
						grantTypes = append(grantTypes, message.GrantTypeDeviceCode)
					}
					metadata["grant_types_supported"] = grantTypes

					metadata["code_challenge_methods_supported"] = []string{
						message.CodeChallengeMethodPlain,
						message.CodeChallengeMethodS256,
					}
					metadata["subject_types_supported"] = []string{"public"}
					metadata["token_endpoint_auth_methods_supported"] = []string{
						"client_secret_basic", "client_secret_post", "none",
					}

					var scopes []string
					scopes = append(scopes, message.ScopeOpenID, message.ScopeOfflineAccess)
					if !opts.EnableDegradedMode && s.managers != nil {
						for scope, err := range s.managers.Scopes.List(ctx, -1, 0) {
							if err != nil {
								return err
							}
							scopes = append(scopes, scope.Name)
						}
					}
					metadata["scopes_supported"] = scopes

					if s.jwks != nil {
						algorithms, err := s.jwks.SigningAlgorithms(ctx)
						if err != nil {
							return err
						}
						metadata["id_token_signing_alg_values_supported"] = algorithms
					} else {
						// RS256 per OIDC Core section 15.1.
						metadata["id_token_signing_alg_values_supported"] = []string{"RS256"}
					}
					return nil
				})
		},
	}}
}

// defaultCryptographyHandlers assembles the JWKS document from the key
// provider.
func (s *Server) defaultCryptographyHandlers() []events.Descriptor[*HandleCryptographyRequestContext] {
	return []events.Descriptor[*HandleCryptographyRequestContext]{{
		Name:     "attach-signing-keys",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*HandleCryptographyRequestContext] {
			return events.HandlerFunc[*HandleCryptographyRequestContext](
				func(ctx context.Context, evt *HandleCryptographyRequestContext) error {
					if s.jwks == nil {
						evt.Reject(message.ErrorServerError,
							"No signing keys are configured.", "")
						return nil
					}
					keys, err := s.jwks.PublicKeys(ctx)
					if err != nil {
						return err
					}
					evt.Keys = keys
					return nil
				})
		},
	}}
}
