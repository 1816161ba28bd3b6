// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
)

// Claims released per granted scope, per OIDC Core section 5.4.
var claimsByScope = map[string][]string{
	message.ScopeProfile: {
		"name", "family_name", "given_name", "preferred_username",
		"profile", "website", "birthdate",
	},
	message.ScopeEmail: {"email", "email_verified"},
	message.ScopePhone: {"phone_number", "phone_number_verified"},
	message.ScopeAddress: {"address"},
}

// processUserinfoRequest drives the userinfo endpoint.
func (s *Server) processUserinfoRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	ext := &ExtractUserinfoRequestContext{}
	ext.Transaction = t
	if err := s.extractUserinfo.Dispatch(ctx, ext); err != nil {
		return err
	}
	if done := propagate(evt, &ext.BaseValidatingContext); done {
		return nil
	}

	val := &ValidateUserinfoRequestContext{AccessToken: ext.AccessToken}
	val.Transaction = t
	if err := s.validateUserinfo.Dispatch(ctx, val); err != nil {
		return err
	}
	if done := propagate(evt, &val.BaseValidatingContext); done {
		return nil
	}

	handle := &HandleUserinfoRequestContext{Principal: val.Principal, Claims: make(map[string]any)}
	handle.Transaction = t
	if err := s.handleUserinfo.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}
	if err := copyClaimsToResponse(t.Response, handle.Claims); err != nil {
		return err
	}

	apply := &ApplyUserinfoResponseContext{}
	apply.Transaction = t
	if err := s.applyUserinfo.Dispatch(ctx, apply); err != nil {
		return err
	}

	evt.HandleRequest()
	return nil
}

func (s *Server) defaultUserinfoExtractHandlers() []events.Descriptor[*ExtractUserinfoRequestContext] {
	return []events.Descriptor[*ExtractUserinfoRequestContext]{{
		Name:     "extract-access-token",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ExtractUserinfoRequestContext] {
			return events.HandlerFunc[*ExtractUserinfoRequestContext](
				func(_ context.Context, evt *ExtractUserinfoRequestContext) error {
					if evt.Transaction.Request == nil {
						evt.Reject(message.ErrorInvalidRequest,
							"The userinfo request cannot be extracted.", "")
						return nil
					}
					// The transport adapter copies the bearer token from
					// the Authorization header into access_token.
					evt.AccessToken = evt.Transaction.Request.AccessToken()
					if evt.AccessToken == "" {
						evt.Reject(message.ErrorInvalidRequest,
							"The mandatory access token is missing.", "")
					}
					return nil
				})
		},
	}}
}

func (s *Server) defaultUserinfoValidateHandlers() []events.Descriptor[*ValidateUserinfoRequestContext] {
	return []events.Descriptor[*ValidateUserinfoRequestContext]{{
		Name:     "validate-access-token",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ValidateUserinfoRequestContext] {
			return events.HandlerFunc[*ValidateUserinfoRequestContext](
				func(ctx context.Context, evt *ValidateUserinfoRequestContext) error {
					t := evt.Transaction

					var principal *Principal
					if t.Options.EnableDegradedMode {
						p, ok, err := s.deserializeToken(ctx, t, SerializedTokenAccess, evt.AccessToken)
						if err != nil {
							return err
						}
						if ok {
							principal = p
						}
					} else {
						token, p, err := s.resolveToken(ctx, t, evt.AccessToken, message.TokenTypeHintAccessToken)
						if err != nil {
							return err
						}
						if token != nil && !s.managers.Tokens.IsValid(token) {
							evt.Reject(message.ErrorInvalidGrant,
								"The specified access token is no longer valid.", "")
							return nil
						}
						principal = p
					}

					if principal == nil {
						evt.Reject(message.ErrorInvalidGrant,
							"The specified access token is invalid.", "")
						return nil
					}
					if !principal.ExpiresAt.IsZero() && !principal.ExpiresAt.After(time.Now()) {
						evt.Reject(message.ErrorInvalidGrant,
							"The specified access token is expired.", "")
						return nil
					}

					evt.Principal = principal
					return nil
				})
		},
	}}
}

func (s *Server) defaultUserinfoHandleHandlers() []events.Descriptor[*HandleUserinfoRequestContext] {
	return []events.Descriptor[*HandleUserinfoRequestContext]{
		{
			Name:     "attach-standard-claims",
			Order:    orderStep,
			Required: true,
			Factory: func() events.Handler[*HandleUserinfoRequestContext] {
				return events.HandlerFunc[*HandleUserinfoRequestContext](
					func(_ context.Context, evt *HandleUserinfoRequestContext) error {
						principal := evt.Principal

						// The subject claim is mandatory in every userinfo
						// response.
						evt.Claims["sub"] = principal.Subject

						for scope, claims := range claimsByScope {
							if !principal.HasScope(scope) {
								continue
							}
							for _, claim := range claims {
								if value, ok := principal.Claims[claim]; ok {
									evt.Claims[claim] = value
								}
							}
						}
						return nil
					})
			},
		},
		{
			Name:     "sign-userinfo-response",
			Order:    2 * orderStep,
			Required: true,
			Filters: []events.Predicate[*HandleUserinfoRequestContext]{
				requireDegradedModeDisabled[*HandleUserinfoRequestContext](),
			},
			Factory: func() events.Handler[*HandleUserinfoRequestContext] {
				return events.HandlerFunc[*HandleUserinfoRequestContext](
					func(ctx context.Context, evt *HandleUserinfoRequestContext) error {
						clientID := evt.Principal.ClientID
						if clientID == "" {
							return nil
						}
						app, err := s.managers.Applications.FindByClientID(ctx, clientID)
						if err != nil {
							// The issuing client may have been deleted
							// since; plain JSON is still a valid answer.
							return nil
						}
						if app.Properties[ApplicationPropertySignedUserinfoAlg] == "" {
							return nil
						}

						signed := evt.Principal.Clone()
						signed.Claims = evt.Claims
						signed.Audiences = []string{clientID}
						signed.ExpiresAt = time.Now().Add(evt.Options().identityTokenLifetime())

						jwt, err := s.serializeToken(ctx, evt.Transaction, SerializedTokenIdentity, signed)
						if err != nil {
							return err
						}
						evt.Transaction.SetProperty(PropertySignedUserinfo, jwt)
						return nil
					})
			},
		},
	}
}

func (s *Server) defaultUserinfoApplyHandlers() []events.Descriptor[*ApplyUserinfoResponseContext] {
	return []events.Descriptor[*ApplyUserinfoResponseContext]{{
		Name:     "attach-response-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ApplyUserinfoResponseContext] {
			return events.HandlerFunc[*ApplyUserinfoResponseContext](
				func(_ context.Context, _ *ApplyUserinfoResponseContext) error {
					return nil
				})
		},
	}}
}

// copyClaimsToResponse renders the userinfo claims into the response
// message, preserving nested JSON shapes like the address claim.
func copyClaimsToResponse(response *message.Response, claims map[string]any) error {
	for name, value := range claims {
		switch v := value.(type) {
		case string:
			response.Set(name, message.StringParameter(v))
		case bool:
			response.Set(name, message.BoolParameter(v))
		case int64:
			response.Set(name, message.IntParameter(v))
		case int:
			response.Set(name, message.IntParameter(int64(v)))
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			response.Set(name, message.JSONParameter(raw))
		}
	}
	return nil
}
