// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// processTokenRequest drives the token endpoint through its stages.
func (s *Server) processTokenRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	ext := &ExtractTokenRequestContext{}
	ext.Transaction = t
	if err := s.extractToken.Dispatch(ctx, ext); err != nil {
		return err
	}
	if done := propagate(evt, &ext.BaseValidatingContext); done {
		return nil
	}

	val := &ValidateTokenRequestContext{}
	val.Transaction = t
	val.ClientID = t.Request.ClientID()
	if err := s.validateToken.Dispatch(ctx, val); err != nil {
		return err
	}
	if done := propagate(evt, &val.BaseValidatingContext); done {
		return nil
	}
	if val.Application != nil {
		t.SetProperty(PropertyApplication, val.Application)
	}

	handle := &HandleTokenRequestContext{Application: val.Application, Principal: val.Principal}
	handle.Transaction = t
	t.SetProperty(propertyExchangeToken, val.Token)
	if err := s.handleToken.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}

	apply := &ApplyTokenResponseContext{}
	apply.Transaction = t
	if err := s.applyToken.Dispatch(ctx, apply); err != nil {
		return err
	}

	evt.HandleRequest()
	return nil
}

// propertyExchangeToken carries the validated grant entity from the
// validate stage to the handle stage.
const propertyExchangeToken = "exchange_token"

func (s *Server) defaultTokenExtractHandlers() []events.Descriptor[*ExtractTokenRequestContext] {
	return []events.Descriptor[*ExtractTokenRequestContext]{{
		Name:     "require-request-message",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ExtractTokenRequestContext] {
			return events.HandlerFunc[*ExtractTokenRequestContext](
				func(_ context.Context, evt *ExtractTokenRequestContext) error {
					if evt.Transaction.Request == nil {
						evt.Reject(message.ErrorInvalidRequest,
							"The token request cannot be extracted.", "")
					}
					return nil
				})
		},
	}}
}

// tokenGate wraps a token endpoint validation step as a descriptor.
func tokenGate(
	name string, order int64,
	filters []events.Predicate[*ValidateTokenRequestContext],
	gate func(ctx context.Context, evt *ValidateTokenRequestContext) error,
) events.Descriptor[*ValidateTokenRequestContext] {
	return events.Descriptor[*ValidateTokenRequestContext]{
		Name:     name,
		Order:    order,
		Filters:  filters,
		Required: true,
		Factory: func() events.Handler[*ValidateTokenRequestContext] {
			return events.HandlerFunc[*ValidateTokenRequestContext](gate)
		},
	}
}

// grantIs gates a handler on the request's grant_type.
func grantIs(grantType string) events.Predicate[*ValidateTokenRequestContext] {
	return func(evt *ValidateTokenRequestContext) bool {
		return evt.Request().GrantType() == grantType
	}
}

// defaultTokenValidateHandlers is the ordered gate table for token
// requests.
func (s *Server) defaultTokenValidateHandlers() []events.Descriptor[*ValidateTokenRequestContext] {
	degraded := requireDegradedModeDisabled[*ValidateTokenRequestContext]()

	return []events.Descriptor[*ValidateTokenRequestContext]{
		tokenGate("validate-grant-type-parameter", 1*orderStep, nil,
			func(_ context.Context, evt *ValidateTokenRequestContext) error {
				opts := evt.Options()
				switch evt.Request().GrantType() {
				case "":
					evt.Reject(message.ErrorInvalidRequest,
						"The mandatory grant_type parameter is missing.", "")
				case message.GrantTypeAuthorizationCode:
					if !opts.EnableAuthorizationCodeFlow && !opts.EnableHybridFlow {
						evt.Reject(message.ErrorUnsupportedGrantType,
							"The authorization_code grant is not enabled.", "")
					}
				case message.GrantTypeRefreshToken:
					if !opts.EnableRefreshTokenGrant {
						evt.Reject(message.ErrorUnsupportedGrantType,
							"The refresh_token grant is not enabled.", "")
					}
				case message.GrantTypeClientCredentials:
					if !opts.EnableClientCredentialsGrant {
						evt.Reject(message.ErrorUnsupportedGrantType,
							"The client_credentials grant is not enabled.", "")
					}
				case message.GrantTypePassword:
					if !opts.EnablePasswordGrant {
						evt.Reject(message.ErrorUnsupportedGrantType,
							"The password grant is not enabled.", "")
					}
				case message.GrantTypeDeviceCode:
					if !opts.EnableDeviceCodeGrant {
						evt.Reject(message.ErrorUnsupportedGrantType,
							"The device_code grant is not enabled.", "")
					}
				default:
					evt.Reject(message.ErrorUnsupportedGrantType,
						"The specified grant_type parameter is not supported.", "")
				}
				return nil
			}),

		tokenGate("validate-grant-parameters", 2*orderStep, nil,
			func(_ context.Context, evt *ValidateTokenRequestContext) error {
				request := evt.Request()
				switch request.GrantType() {
				case message.GrantTypeAuthorizationCode:
					if request.Code() == "" {
						evt.Reject(message.ErrorInvalidRequest,
							"The mandatory code parameter is missing.", "")
					}
				case message.GrantTypeRefreshToken:
					if request.RefreshToken() == "" {
						evt.Reject(message.ErrorInvalidRequest,
							"The mandatory refresh_token parameter is missing.", "")
					}
				case message.GrantTypePassword:
					if request.Username() == "" || request.Password() == "" {
						evt.Reject(message.ErrorInvalidRequest,
							"The mandatory username and password parameters are missing.", "")
					}
				}
				return nil
			}),

		tokenGate("validate-client-id-parameter", 3*orderStep, nil,
			func(_ context.Context, evt *ValidateTokenRequestContext) error {
				if evt.ClientID == "" {
					evt.Reject(message.ErrorInvalidClient,
						"The mandatory client_id parameter is missing.", "")
				}
				return nil
			}),

		tokenGate("validate-client-identity", 4*orderStep,
			[]events.Predicate[*ValidateTokenRequestContext]{degraded},
			func(ctx context.Context, evt *ValidateTokenRequestContext) error {
				app, err := s.managers.Applications.FindByClientID(ctx, evt.ClientID)
				if err != nil {
					if store.IsNotFound(err) {
						evt.Reject(message.ErrorInvalidClient,
							"The specified client identifier is invalid.", "")
						return nil
					}
					return err
				}
				evt.Application = app
				return nil
			}),

		tokenGate("validate-client-authentication", 5*orderStep,
			[]events.Predicate[*ValidateTokenRequestContext]{degraded},
			func(_ context.Context, evt *ValidateTokenRequestContext) error {
				secret := evt.Request().ClientSecret()
				apps := s.managers.Applications

				if apps.IsPublic(evt.Application) {
					// Public clients must not send a secret: accepting one
					// would teach them to embed it.
					if secret != "" {
						evt.Reject(message.ErrorInvalidRequest,
							"Public clients cannot send a client_secret.", "")
					}
					return nil
				}

				if secret == "" {
					evt.Reject(message.ErrorInvalidClient,
						"Confidential clients must authenticate.", "")
					return nil
				}
				if !apps.ValidateClientSecret(evt.Application, secret) {
					logger.Debugw("client authentication failed", "client_id", evt.ClientID)
					evt.Reject(message.ErrorInvalidClient,
						"The specified client credentials are invalid.", "")
				}
				return nil
			}),

		tokenGate("validate-endpoint-permissions", 6*orderStep,
			[]events.Predicate[*ValidateTokenRequestContext]{degraded,
				func(evt *ValidateTokenRequestContext) bool {
					return !evt.Options().IgnoreEndpointPermissions
				}},
			func(_ context.Context, evt *ValidateTokenRequestContext) error {
				if !s.managers.Applications.HasPermission(evt.Application, store.PermissionEndpointToken) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the token endpoint.", "")
				}
				return nil
			}),

		tokenGate("validate-grant-type-permissions", 7*orderStep,
			[]events.Predicate[*ValidateTokenRequestContext]{degraded,
				func(evt *ValidateTokenRequestContext) bool {
					return !evt.Options().IgnoreGrantTypePermissions
				}},
			func(_ context.Context, evt *ValidateTokenRequestContext) error {
				permission := store.PermissionPrefixGrantType + evt.Request().GrantType()
				if !s.managers.Applications.HasPermission(evt.Application, permission) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the specified grant_type.", "")
				}
				return nil
			}),

		tokenGate("validate-authorization-code", 8*orderStep,
			[]events.Predicate[*ValidateTokenRequestContext]{grantIs(message.GrantTypeAuthorizationCode)},
			s.validateAuthorizationCodeGrant),

		tokenGate("validate-refresh-token", 9*orderStep,
			[]events.Predicate[*ValidateTokenRequestContext]{grantIs(message.GrantTypeRefreshToken)},
			s.validateRefreshTokenGrant),
	}
}

// validateAuthorizationCodeGrant resolves the presented code, checks its
// bindings (client, redirect_uri, PKCE) and attaches the principal.
func (s *Server) validateAuthorizationCodeGrant(ctx context.Context, evt *ValidateTokenRequestContext) error {
	t := evt.Transaction
	request := evt.Request()
	code := request.Code()

	var principal *Principal
	var entity *store.Token

	if t.Options.EnableDegradedMode {
		p, ok, err := s.deserializeToken(ctx, t, SerializedTokenAuthorizationCode, code)
		if err != nil {
			return err
		}
		if !ok {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified authorization code is invalid.", "")
			return nil
		}
		principal = p
	} else {
		token, err := s.managers.Tokens.FindByReferenceID(ctx, code)
		if err != nil {
			if store.IsNotFound(err) {
				evt.Reject(message.ErrorInvalidGrant,
					"The specified authorization code is invalid.", "")
				return nil
			}
			return err
		}
		if token.Type != store.TokenTypeAuthorizationCode || !s.managers.Tokens.IsValid(token) {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified authorization code is no longer valid.", "")
			return nil
		}

		p, ok, err := s.deserializeToken(ctx, t, SerializedTokenAuthorizationCode, token.Payload)
		if err != nil {
			return err
		}
		if !ok {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified authorization code is invalid.", "")
			return nil
		}
		principal = p
		principal.AuthorizationID = token.AuthorizationID
		principal.TokenID = token.ID
		entity = token
	}

	// The code is bound to the client it was issued to.
	if principal.ClientID != evt.ClientID {
		evt.Reject(message.ErrorInvalidGrant,
			"The specified authorization code was issued to another client.", "")
		return nil
	}

	// The redirect_uri must match the one bound to the code.
	if principal.RedirectURI != "" && request.RedirectURI() != principal.RedirectURI {
		evt.Reject(message.ErrorInvalidGrant,
			"The specified redirect_uri does not match the authorization request.", "")
		return nil
	}

	// PKCE: a stored challenge makes the verifier mandatory.
	if principal.CodeChallenge != "" {
		verifier := request.CodeVerifier()
		if verifier == "" {
			evt.Reject(message.ErrorInvalidGrant,
				"The mandatory code_verifier parameter is missing.", "")
			return nil
		}
		if !verifyCodeChallenge(principal.CodeChallenge, principal.CodeChallengeMethod, verifier) {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified code_verifier parameter is invalid.", "")
			return nil
		}
	}

	evt.Principal = principal
	evt.Token = entity
	return nil
}

// validateRefreshTokenGrant resolves the presented refresh token and
// attaches its principal, narrowing scopes when the request asks for a
// subset.
func (s *Server) validateRefreshTokenGrant(ctx context.Context, evt *ValidateTokenRequestContext) error {
	t := evt.Transaction
	request := evt.Request()
	refreshToken := request.RefreshToken()

	var principal *Principal
	var entity *store.Token

	if t.Options.EnableDegradedMode {
		p, ok, err := s.deserializeToken(ctx, t, SerializedTokenRefresh, refreshToken)
		if err != nil {
			return err
		}
		if !ok || (!p.ExpiresAt.IsZero() && !p.ExpiresAt.After(time.Now())) {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified refresh token is no longer valid.", "")
			return nil
		}
		principal = p
	} else {
		token, err := s.managers.Tokens.FindByReferenceID(ctx, refreshToken)
		if err != nil {
			if store.IsNotFound(err) {
				evt.Reject(message.ErrorInvalidGrant,
					"The specified refresh token is invalid.", "")
				return nil
			}
			return err
		}
		if token.Type != store.TokenTypeRefreshToken || !s.managers.Tokens.IsValid(token) {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified refresh token is no longer valid.", "")
			return nil
		}

		p, ok, err := s.deserializeToken(ctx, t, SerializedTokenRefresh, token.Payload)
		if err != nil {
			return err
		}
		if !ok {
			evt.Reject(message.ErrorInvalidGrant,
				"The specified refresh token is invalid.", "")
			return nil
		}
		principal = p
		principal.AuthorizationID = token.AuthorizationID
		principal.TokenID = token.ID
		entity = token
	}

	if principal.ClientID != evt.ClientID {
		evt.Reject(message.ErrorInvalidGrant,
			"The specified refresh token was issued to another client.", "")
		return nil
	}

	// A narrower scope may be requested; a wider one may not.
	if requested := request.GetScopes(); len(requested) > 0 {
		for _, scope := range requested {
			if !slices.Contains(principal.Scopes, scope) {
				evt.Reject(message.ErrorInvalidScope,
					"The requested scope exceeds the granted scope.", "")
				return nil
			}
		}
		principal = principal.Clone()
		principal.Scopes = requested
	}

	evt.Principal = principal
	evt.Token = entity
	return nil
}

// verifyCodeChallenge checks a PKCE verifier against the stored challenge.
func verifyCodeChallenge(challenge, method, verifier string) bool {
	switch method {
	case message.CodeChallengeMethodS256:
		return oauth2.S256ChallengeFromVerifier(verifier) == challenge
	case message.CodeChallengeMethodPlain, "":
		return verifier == challenge
	default:
		return false
	}
}

// tokenHandle wraps a token endpoint handling step as a descriptor.
func tokenHandle(
	name string, order int64,
	filters []events.Predicate[*HandleTokenRequestContext],
	run func(ctx context.Context, evt *HandleTokenRequestContext) error,
) events.Descriptor[*HandleTokenRequestContext] {
	return events.Descriptor[*HandleTokenRequestContext]{
		Name:     name,
		Order:    order,
		Filters:  filters,
		Required: true,
		Factory: func() events.Handler[*HandleTokenRequestContext] {
			return events.HandlerFunc[*HandleTokenRequestContext](run)
		},
	}
}

// handleGrantIs gates a handling step on the grant_type.
func handleGrantIs(grantType string) events.Predicate[*HandleTokenRequestContext] {
	return func(evt *HandleTokenRequestContext) bool {
		return evt.Request().GrantType() == grantType
	}
}

// defaultTokenHandleHandlers redeems the presented grant and issues the new
// tokens. Host descriptors (e.g. password grant subject resolution) are
// merged into this table.
func (s *Server) defaultTokenHandleHandlers() []events.Descriptor[*HandleTokenRequestContext] {
	degraded := requireDegradedModeDisabled[*HandleTokenRequestContext]()

	return []events.Descriptor[*HandleTokenRequestContext]{
		// Redeem the authorization code exactly once. Concurrent
		// redemptions race on the concurrency token: first wins, the loser
		// gets invalid_grant.
		tokenHandle("redeem-authorization-code", 1*orderStep,
			[]events.Predicate[*HandleTokenRequestContext]{
				handleGrantIs(message.GrantTypeAuthorizationCode), degraded},
			func(ctx context.Context, evt *HandleTokenRequestContext) error {
				token, _ := evt.Transaction.Property(propertyExchangeToken).(*store.Token)
				if token == nil {
					return fmt.Errorf("validated authorization code entity is missing")
				}
				if err := s.managers.Tokens.TryRedeem(ctx, token); err != nil {
					if store.IsConcurrency(err) {
						logger.Infow("authorization code replay detected",
							"token_id", token.ID,
							"client_id", evt.Request().ClientID(),
						)
						evt.Reject(message.ErrorInvalidGrant,
							"The specified authorization code has already been redeemed.", "")
						return nil
					}
					return err
				}
				return nil
			}),

		// Rotate the refresh token: the presented one is redeemed before
		// its replacement is issued.
		tokenHandle("redeem-refresh-token", 2*orderStep,
			[]events.Predicate[*HandleTokenRequestContext]{
				handleGrantIs(message.GrantTypeRefreshToken), degraded},
			func(ctx context.Context, evt *HandleTokenRequestContext) error {
				token, _ := evt.Transaction.Property(propertyExchangeToken).(*store.Token)
				if token == nil {
					return fmt.Errorf("validated refresh token entity is missing")
				}
				if err := s.managers.Tokens.TryRedeem(ctx, token); err != nil {
					if store.IsConcurrency(err) {
						evt.Reject(message.ErrorInvalidGrant,
							"The specified refresh token has already been redeemed.", "")
						return nil
					}
					return err
				}
				return nil
			}),

		// Client credentials: the client is its own subject.
		tokenHandle("handle-client-credentials", 3*orderStep,
			[]events.Predicate[*HandleTokenRequestContext]{
				handleGrantIs(message.GrantTypeClientCredentials)},
			func(_ context.Context, evt *HandleTokenRequestContext) error {
				clientID := evt.Request().ClientID()
				evt.Principal = &Principal{
					Subject:  clientID,
					ClientID: clientID,
					Scopes:   evt.Request().GetScopes(),
				}
				return nil
			}),

		// The password grant needs a host-attached handler (merged into
		// this table) that verifies the resource owner credentials and
		// sets the principal. Reaching this point without one means the
		// credentials were not accepted.
		tokenHandle("require-principal", 8*orderStep, nil,
			func(_ context.Context, evt *HandleTokenRequestContext) error {
				if evt.Principal != nil {
					return nil
				}
				if evt.Request().IsPasswordGrantType() {
					evt.Reject(message.ErrorInvalidGrant,
						"The resource owner credentials are invalid.", "")
					return nil
				}
				return fmt.Errorf("no principal attached to the token request")
			}),

		tokenHandle("attach-token-response", 9*orderStep, nil,
			func(ctx context.Context, evt *HandleTokenRequestContext) error {
				return s.attachExchangeTokens(ctx, evt)
			}),
	}
}

// attachExchangeTokens issues the access, refresh and identity tokens for a
// handled token request.
func (s *Server) attachExchangeTokens(ctx context.Context, evt *HandleTokenRequestContext) error {
	t := evt.Transaction
	principal := evt.Principal.Clone()
	principal.ClientID = evt.Request().ClientID()

	if err := s.attachAccessToken(ctx, t, principal); err != nil {
		return err
	}

	// Refresh tokens accompany grants that can be replayed for new access
	// tokens: code exchange, password and refresh rotation.
	if t.Options.EnableRefreshTokenGrant && !evt.Request().IsClientCredentialsGrantType() {
		refreshToken, err := s.issueRefreshToken(ctx, t, principal)
		if err != nil {
			return err
		}
		t.Response.Set(message.ParamRefreshToken, message.StringParameter(refreshToken))
	}

	if principal.HasScope(message.ScopeOpenID) {
		principal := principal.Clone()
		principal.ExpiresAt = time.Now().Add(t.Options.identityTokenLifetime())
		idToken, err := s.serializeToken(ctx, t, SerializedTokenIdentity, principal)
		if err != nil {
			return err
		}
		t.Response.Set(message.ParamIDToken, message.StringParameter(idToken))
	}
	return nil
}

// issueRefreshToken creates a refresh token for the principal: an opaque
// reference to a persisted entity, or the self-contained serialized form in
// degraded mode.
func (s *Server) issueRefreshToken(ctx context.Context, t *Transaction, principal *Principal) (string, error) {
	expiresAt := time.Now().Add(t.Options.refreshTokenLifetime())
	principal = principal.Clone()
	principal.ExpiresAt = expiresAt

	if t.Options.EnableDegradedMode {
		return s.serializeToken(ctx, t, SerializedTokenRefresh, principal)
	}

	_, entity, err := s.issuePersistedToken(ctx, t, SerializedTokenRefresh,
		store.TokenTypeRefreshToken, principal, expiresAt, true)
	if err != nil {
		return "", err
	}
	return entity.ReferenceID, nil
}

// defaultTokenApplyHandlers finalizes the token response. The JSON
// rendering itself is the transport adapter's concern.
func (s *Server) defaultTokenApplyHandlers() []events.Descriptor[*ApplyTokenResponseContext] {
	return []events.Descriptor[*ApplyTokenResponseContext]{{
		Name:     "attach-response-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ApplyTokenResponseContext] {
			return events.HandlerFunc[*ApplyTokenResponseContext](
				func(_ context.Context, evt *ApplyTokenResponseContext) error {
					// The token response carries no cache-safe content.
					evt.Transaction.SetProperty(PropertyResponseMode, "")
					return nil
				})
		},
	}}
}
