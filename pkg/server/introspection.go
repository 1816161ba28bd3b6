// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// processIntrospectionRequest drives the introspection endpoint.
func (s *Server) processIntrospectionRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	ext := &ExtractIntrospectionRequestContext{}
	ext.Transaction = t
	if err := s.extractIntrospection.Dispatch(ctx, ext); err != nil {
		return err
	}
	if done := propagate(evt, &ext.BaseValidatingContext); done {
		return nil
	}

	val := &ValidateIntrospectionRequestContext{}
	val.Transaction = t
	val.ClientID = t.Request.ClientID()
	if err := s.validateIntrospection.Dispatch(ctx, val); err != nil {
		return err
	}
	if done := propagate(evt, &val.BaseValidatingContext); done {
		return nil
	}

	handle := &HandleIntrospectionRequestContext{
		Application: val.Application,
		Token:       val.Token,
		Principal:   val.Principal,
	}
	handle.Transaction = t
	if err := s.handleIntrospection.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}

	apply := &ApplyIntrospectionResponseContext{}
	apply.Transaction = t
	if err := s.applyIntrospection.Dispatch(ctx, apply); err != nil {
		return err
	}

	evt.HandleRequest()
	return nil
}

func (s *Server) defaultIntrospectionExtractHandlers() []events.Descriptor[*ExtractIntrospectionRequestContext] {
	return []events.Descriptor[*ExtractIntrospectionRequestContext]{{
		Name:     "require-request-message",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ExtractIntrospectionRequestContext] {
			return events.HandlerFunc[*ExtractIntrospectionRequestContext](
				func(_ context.Context, evt *ExtractIntrospectionRequestContext) error {
					if evt.Transaction.Request == nil {
						evt.Reject(message.ErrorInvalidRequest,
							"The introspection request cannot be extracted.", "")
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

// introspectionGate wraps a validation step as a descriptor.
func introspectionGate(
	name string, order int64,
	filters []events.Predicate[*ValidateIntrospectionRequestContext],
	gate func(ctx context.Context, evt *ValidateIntrospectionRequestContext) error,
) events.Descriptor[*ValidateIntrospectionRequestContext] {
	return events.Descriptor[*ValidateIntrospectionRequestContext]{
		Name:     name,
		Order:    order,
		Filters:  filters,
		Required: true,
		Factory: func() events.Handler[*ValidateIntrospectionRequestContext] {
			return events.HandlerFunc[*ValidateIntrospectionRequestContext](gate)
		},
	}
}

func (s *Server) defaultIntrospectionValidateHandlers() []events.Descriptor[*ValidateIntrospectionRequestContext] {
	degraded := requireDegradedModeDisabled[*ValidateIntrospectionRequestContext]()

	return []events.Descriptor[*ValidateIntrospectionRequestContext]{
		introspectionGate("validate-client-id-parameter", 1*orderStep, nil,
			func(_ context.Context, evt *ValidateIntrospectionRequestContext) error {
				if evt.ClientID == "" {
					evt.Reject(message.ErrorInvalidClient,
						"The mandatory client_id parameter is missing.", "")
				}
				return nil
			}),

		introspectionGate("validate-client-identity", 2*orderStep,
			[]events.Predicate[*ValidateIntrospectionRequestContext]{degraded},
			func(ctx context.Context, evt *ValidateIntrospectionRequestContext) error {
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

		introspectionGate("validate-client-authentication", 3*orderStep,
			[]events.Predicate[*ValidateIntrospectionRequestContext]{degraded},
			func(_ context.Context, evt *ValidateIntrospectionRequestContext) error {
				// Introspection is restricted to authenticated clients:
				// public callers could otherwise probe token validity.
				if s.managers.Applications.IsPublic(evt.Application) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"Public clients cannot use the introspection endpoint.", "")
					return nil
				}
				secret := evt.Request().ClientSecret()
				if secret == "" || !s.managers.Applications.ValidateClientSecret(evt.Application, secret) {
					evt.Reject(message.ErrorInvalidClient,
						"The specified client credentials are invalid.", "")
				}
				return nil
			}),

		introspectionGate("validate-endpoint-permissions", 4*orderStep,
			[]events.Predicate[*ValidateIntrospectionRequestContext]{degraded,
				func(evt *ValidateIntrospectionRequestContext) bool {
					return !evt.Options().IgnoreEndpointPermissions
				}},
			func(_ context.Context, evt *ValidateIntrospectionRequestContext) error {
				if !s.managers.Applications.HasPermission(evt.Application, store.PermissionEndpointIntrospection) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the introspection endpoint.", "")
				}
				return nil
			}),

		introspectionGate("resolve-token", 5*orderStep,
			[]events.Predicate[*ValidateIntrospectionRequestContext]{degraded},
			func(ctx context.Context, evt *ValidateIntrospectionRequestContext) error {
				token, principal, err := s.resolveToken(ctx, evt.Transaction, evt.Request().Token(), evt.Request().TokenTypeHint())
				if err != nil {
					return err
				}
				// Unknown tokens are not an error: the verdict is simply
				// active=false.
				evt.Token = token
				evt.Principal = principal
				return nil
			}),
	}
}

// resolveToken looks a presented token up by reference first, then by
// payload deserialization. Both misses return nil without error.
func (s *Server) resolveToken(ctx context.Context, t *Transaction, value, hint string) (*store.Token, *Principal, error) {
	token, err := s.managers.Tokens.FindByReferenceID(ctx, value)
	if err != nil && !store.IsNotFound(err) {
		return nil, nil, err
	}

	if token == nil {
		// Not a reference: try every serialized form, starting with the
		// caller's hint.
		kinds := []string{SerializedTokenAccess, SerializedTokenRefresh, SerializedTokenAuthorizationCode}
		if hint != "" {
			kinds = slices.Compact(append([]string{hintToKind(hint)}, kinds...))
		}
		var principal *Principal
		for _, kind := range kinds {
			if kind == "" {
				continue
			}
			p, ok, err := s.deserializeToken(ctx, t, kind, value)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				principal = p
				break
			}
		}
		if principal == nil {
			return nil, nil, nil
		}
		if principal.TokenID != "" {
			entity, err := s.managers.Tokens.FindByID(ctx, principal.TokenID)
			if err != nil && !store.IsNotFound(err) {
				return nil, nil, err
			}
			return entity, principal, nil
		}
		return nil, principal, nil
	}

	if token.Payload == "" {
		return token, nil, nil
	}
	principal, ok, err := s.deserializeToken(ctx, t, kindForTokenType(token.Type), token.Payload)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return token, nil, nil
	}
	return token, principal, nil
}

func hintToKind(hint string) string {
	switch hint {
	case message.TokenTypeHintAccessToken:
		return SerializedTokenAccess
	case message.TokenTypeHintRefreshToken:
		return SerializedTokenRefresh
	case message.TokenTypeHintAuthorizationCode:
		return SerializedTokenAuthorizationCode
	case message.TokenTypeHintIDToken:
		return SerializedTokenIdentity
	default:
		return ""
	}
}

func kindForTokenType(tokenType string) string {
	switch tokenType {
	case store.TokenTypeRefreshToken:
		return SerializedTokenRefresh
	case store.TokenTypeAuthorizationCode:
		return SerializedTokenAuthorizationCode
	case store.TokenTypeIDToken:
		return SerializedTokenIdentity
	default:
		return SerializedTokenAccess
	}
}

func (s *Server) defaultIntrospectionHandleHandlers() []events.Descriptor[*HandleIntrospectionRequestContext] {
	return []events.Descriptor[*HandleIntrospectionRequestContext]{{
		Name:     "attach-introspection-claims",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*HandleIntrospectionRequestContext] {
			return events.HandlerFunc[*HandleIntrospectionRequestContext](
				func(_ context.Context, evt *HandleIntrospectionRequestContext) error {
					evt.Active = s.introspectionVerdict(evt)

					response := evt.Response()
					response.Set(message.ParamActive, message.BoolParameter(evt.Active))
					if !evt.Active {
						// RFC 7662: nothing beyond active=false may leak
						// about tokens the caller cannot see.
						return nil
					}

					token := evt.Token
					principal := evt.Principal
					if principal != nil {
						response.Set("sub", message.StringParameter(principal.Subject))
						if len(principal.Scopes) > 0 {
							response.Set(message.ParamScope,
								message.StringParameter(strings.Join(principal.Scopes, " ")))
						}
						if len(principal.Audiences) > 0 {
							response.Set("aud", message.StringsParameter(principal.Audiences...))
						}
						response.Set(message.ParamClientID, message.StringParameter(principal.ClientID))
					}
					if token != nil {
						response.Set(message.ParamTokenType, message.StringParameter(token.Type))
						if !token.ExpirationDate.IsZero() {
							response.Set("exp", message.IntParameter(token.ExpirationDate.Unix()))
						}
						if !token.CreationDate.IsZero() {
							response.Set("iat", message.IntParameter(token.CreationDate.Unix()))
						}
					} else if principal != nil && !principal.ExpiresAt.IsZero() {
						response.Set("exp", message.IntParameter(principal.ExpiresAt.Unix()))
					}
					if issuer := evt.Transaction.Issuer; issuer != "" {
						response.Set("iss", message.StringParameter(issuer))
					}
					return nil
				})
		},
	}}
}

// introspectionVerdict decides active: the token must exist, be valid and
// unexpired, and the caller must be entitled to see it: a client may only
// introspect tokens it owns or tokens whose audience it is in.
func (s *Server) introspectionVerdict(evt *HandleIntrospectionRequestContext) bool {
	token := evt.Token
	principal := evt.Principal

	switch {
	case token != nil:
		if !s.managers.Tokens.IsValid(token) {
			return false
		}
	case principal != nil:
		if !principal.ExpiresAt.IsZero() && !principal.ExpiresAt.After(time.Now()) {
			return false
		}
	default:
		return false
	}

	clientID := evt.Request().ClientID()
	if principal != nil {
		if principal.ClientID == clientID {
			return true
		}
		if slices.Contains(principal.Audiences, clientID) {
			return true
		}
		logger.Debugw("introspection denied: caller is neither owner nor audience",
			"client_id", clientID,
		)
		return false
	}

	// No payload to check ownership against: fall back to the entity's
	// issuing application.
	return evt.Application != nil && token.ApplicationID == evt.Application.ID
}

func (s *Server) defaultIntrospectionApplyHandlers() []events.Descriptor[*ApplyIntrospectionResponseContext] {
	return []events.Descriptor[*ApplyIntrospectionResponseContext]{{
		Name:     "attach-response-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ApplyIntrospectionResponseContext] {
			return events.HandlerFunc[*ApplyIntrospectionResponseContext](
				func(_ context.Context, _ *ApplyIntrospectionResponseContext) error {
					return nil
				})
		},
	}}
}
