// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// processRevocationRequest drives the revocation endpoint.
func (s *Server) processRevocationRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	ext := &ExtractRevocationRequestContext{}
	ext.Transaction = t
	if err := s.extractRevocation.Dispatch(ctx, ext); err != nil {
		return err
	}
	if done := propagate(evt, &ext.BaseValidatingContext); done {
		return nil
	}

	val := &ValidateRevocationRequestContext{}
	val.Transaction = t
	val.ClientID = t.Request.ClientID()
	if err := s.validateRevocation.Dispatch(ctx, val); err != nil {
		return err
	}
	if done := propagate(evt, &val.BaseValidatingContext); done {
		return nil
	}

	handle := &HandleRevocationRequestContext{Application: val.Application, Token: val.Token}
	handle.Transaction = t
	if err := s.handleRevocation.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}

	apply := &ApplyRevocationResponseContext{}
	apply.Transaction = t
	if err := s.applyRevocation.Dispatch(ctx, apply); err != nil {
		return err
	}

	evt.HandleRequest()
	return nil
}

func (s *Server) defaultRevocationExtractHandlers() []events.Descriptor[*ExtractRevocationRequestContext] {
	return []events.Descriptor[*ExtractRevocationRequestContext]{{
		Name:     "require-request-message",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ExtractRevocationRequestContext] {
			return events.HandlerFunc[*ExtractRevocationRequestContext](
				func(_ context.Context, evt *ExtractRevocationRequestContext) error {
					if evt.Transaction.Request == nil {
						evt.Reject(message.ErrorInvalidRequest,
							"The revocation request cannot be extracted.", "")
						return nil
					}
					if evt.Transaction.Request.Token() == "" {
						evt.Reject(message.ErrorInvalidRequest,
							"The mandatory token parameter is missing.", "")
					}
					return nil
				})
		},
	}}
}

func revocationGate(
	name string, order int64,
	filters []events.Predicate[*ValidateRevocationRequestContext],
	gate func(ctx context.Context, evt *ValidateRevocationRequestContext) error,
) events.Descriptor[*ValidateRevocationRequestContext] {
	return events.Descriptor[*ValidateRevocationRequestContext]{
		Name:     name,
		Order:    order,
		Filters:  filters,
		Required: true,
		Factory: func() events.Handler[*ValidateRevocationRequestContext] {
			return events.HandlerFunc[*ValidateRevocationRequestContext](gate)
		},
	}
}

func (s *Server) defaultRevocationValidateHandlers() []events.Descriptor[*ValidateRevocationRequestContext] {
	degraded := requireDegradedModeDisabled[*ValidateRevocationRequestContext]()

	return []events.Descriptor[*ValidateRevocationRequestContext]{
		revocationGate("validate-client-id-parameter", 1*orderStep, nil,
			func(_ context.Context, evt *ValidateRevocationRequestContext) error {
				if evt.ClientID == "" {
					evt.Reject(message.ErrorInvalidClient,
						"The mandatory client_id parameter is missing.", "")
				}
				return nil
			}),

		revocationGate("validate-client-identity", 2*orderStep,
			[]events.Predicate[*ValidateRevocationRequestContext]{degraded},
			func(ctx context.Context, evt *ValidateRevocationRequestContext) error {
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

		revocationGate("validate-client-authentication", 3*orderStep,
			[]events.Predicate[*ValidateRevocationRequestContext]{degraded},
			func(_ context.Context, evt *ValidateRevocationRequestContext) error {
				apps := s.managers.Applications
				if apps.IsPublic(evt.Application) {
					if evt.Request().ClientSecret() != "" {
						evt.Reject(message.ErrorInvalidRequest,
							"Public clients cannot send a client_secret.", "")
					}
					return nil
				}
				secret := evt.Request().ClientSecret()
				if secret == "" || !apps.ValidateClientSecret(evt.Application, secret) {
					evt.Reject(message.ErrorInvalidClient,
						"The specified client credentials are invalid.", "")
				}
				return nil
			}),

		revocationGate("validate-endpoint-permissions", 4*orderStep,
			[]events.Predicate[*ValidateRevocationRequestContext]{degraded,
				func(evt *ValidateRevocationRequestContext) bool {
					return !evt.Options().IgnoreEndpointPermissions
				}},
			func(_ context.Context, evt *ValidateRevocationRequestContext) error {
				if !s.managers.Applications.HasPermission(evt.Application, store.PermissionEndpointRevocation) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the revocation endpoint.", "")
				}
				return nil
			}),

		revocationGate("resolve-token", 5*orderStep,
			[]events.Predicate[*ValidateRevocationRequestContext]{degraded},
			func(ctx context.Context, evt *ValidateRevocationRequestContext) error {
				token, principal, err := s.resolveToken(ctx, evt.Transaction, evt.Request().Token(), evt.Request().TokenTypeHint())
				if err != nil {
					return err
				}
				if token == nil && principal != nil && principal.TokenID != "" {
					token, err = s.managers.Tokens.FindByID(ctx, principal.TokenID)
					if err != nil && !store.IsNotFound(err) {
						return err
					}
				}
				// RFC 7009: revoking an unknown token is a success.
				evt.Token = token

				// A client may only revoke its own tokens.
				if token != nil && evt.Application != nil &&
					token.ApplicationID != "" && token.ApplicationID != evt.Application.ID {
					logger.Debugw("revocation denied: token belongs to another client",
						"client_id", evt.ClientID,
					)
					evt.Reject(message.ErrorInvalidGrant,
						"The specified token cannot be revoked by this client.", "")
				}
				return nil
			}),
	}
}

func (s *Server) defaultRevocationHandleHandlers() []events.Descriptor[*HandleRevocationRequestContext] {
	return []events.Descriptor[*HandleRevocationRequestContext]{{
		Name:     "revoke-token",
		Order:    orderStep,
		Required: true,
		Filters: []events.Predicate[*HandleRevocationRequestContext]{
			requireDegradedModeDisabled[*HandleRevocationRequestContext](),
		},
		Factory: func() events.Handler[*HandleRevocationRequestContext] {
			return events.HandlerFunc[*HandleRevocationRequestContext](
				func(ctx context.Context, evt *HandleRevocationRequestContext) error {
					if evt.Token == nil {
						// Unknown token: revocation is a no-op success.
						return nil
					}

					if err := s.managers.Tokens.TryRevoke(ctx, evt.Token); err != nil {
						if store.IsConcurrency(err) {
							// Someone else revoked or redeemed it first;
							// revocation stays idempotent.
							return nil
						}
						return err
					}

					// Refresh token revocation cascades to the access
					// tokens derived from it through the shared
					// authorization.
					if evt.Token.Type == store.TokenTypeRefreshToken && evt.Token.AuthorizationID != "" {
						revoked, err := s.managers.Tokens.RevokeByAuthorizationID(ctx, evt.Token.AuthorizationID)
						if err != nil {
							logger.Warnw("refresh token cascade revocation incomplete",
								"authorization_id", evt.Token.AuthorizationID,
								"error", err,
							)
						}
						logger.Debugw("refresh token revocation cascaded",
							"authorization_id", evt.Token.AuthorizationID,
							"revoked", revoked,
						)
					}
					return nil
				})
		},
	}}
}

func (s *Server) defaultRevocationApplyHandlers() []events.Descriptor[*ApplyRevocationResponseContext] {
	return []events.Descriptor[*ApplyRevocationResponseContext]{{
		Name:     "attach-response-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ApplyRevocationResponseContext] {
			return events.HandlerFunc[*ApplyRevocationResponseContext](
				func(_ context.Context, _ *ApplyRevocationResponseContext) error {
					// RFC 7009: the response body is empty; the transport
					// answers 200.
					return nil
				})
		},
	}}
}
