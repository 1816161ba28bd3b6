// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
)

// processLogoutRequest drives the logout endpoint.
func (s *Server) processLogoutRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	ext := &ExtractLogoutRequestContext{}
	ext.Transaction = t
	if err := s.extractLogout.Dispatch(ctx, ext); err != nil {
		return err
	}
	if done := propagate(evt, &ext.BaseValidatingContext); done {
		return nil
	}

	val := &ValidateLogoutRequestContext{}
	val.Transaction = t
	if err := s.validateLogout.Dispatch(ctx, val); err != nil {
		return err
	}
	if done := propagate(evt, &val.BaseValidatingContext); done {
		return nil
	}
	t.SetProperty(PropertyValidatedPostLogoutRedirectURI, val.PostLogoutRedirectURI)

	handle := &HandleLogoutRequestContext{}
	handle.Transaction = t
	if err := s.handleLogout.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}
	if !handle.LogoutAllowed {
		evt.Reject(message.ErrorInvalidRequest, "The logout request was not accepted.", "")
		return nil
	}

	apply := &ApplyLogoutResponseContext{}
	apply.Transaction = t
	if err := s.applyLogout.Dispatch(ctx, apply); err != nil {
		return err
	}

	evt.HandleRequest()
	return nil
}

func (s *Server) defaultLogoutExtractHandlers() []events.Descriptor[*ExtractLogoutRequestContext] {
	return []events.Descriptor[*ExtractLogoutRequestContext]{{
		Name:     "require-request-message",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ExtractLogoutRequestContext] {
			return events.HandlerFunc[*ExtractLogoutRequestContext](
				func(_ context.Context, evt *ExtractLogoutRequestContext) error {
					if evt.Transaction.Request == nil {
						evt.Reject(message.ErrorInvalidRequest,
							"The logout request cannot be extracted.", "")
					}
					return nil
				})
		},
	}}
}

func (s *Server) defaultLogoutValidateHandlers() []events.Descriptor[*ValidateLogoutRequestContext] {
	return []events.Descriptor[*ValidateLogoutRequestContext]{{
		Name:     "validate-post-logout-redirect-uri",
		Order:    orderStep,
		Required: true,
		Filters: []events.Predicate[*ValidateLogoutRequestContext]{
			requireDegradedModeDisabled[*ValidateLogoutRequestContext](),
		},
		Factory: func() events.Handler[*ValidateLogoutRequestContext] {
			return events.HandlerFunc[*ValidateLogoutRequestContext](
				func(ctx context.Context, evt *ValidateLogoutRequestContext) error {
					redirectURI := evt.Request().PostLogoutRedirectURI()
					if redirectURI == "" {
						return nil
					}

					// The target must be registered by some client. Every
					// application is searched.
					registered := false
					for app, err := range s.managers.Applications.List(ctx, -1, 0) {
						if err != nil {
							return err
						}
						if s.managers.Applications.HasPostLogoutRedirectURI(app, redirectURI) {
							registered = true
							break
						}
					}
					if !registered {
						evt.Reject(message.ErrorInvalidRequest,
							"The specified post_logout_redirect_uri is not registered.", "")
						return nil
					}
					evt.PostLogoutRedirectURI = redirectURI
					return nil
				})
		},
	}}
}

// defaultLogoutHandleHandlers allows the logout by default. Hosts that need
// to terminate a local session or veto the logout register an earlier
// descriptor through Config.LogoutHandlers.
func (s *Server) defaultLogoutHandleHandlers() []events.Descriptor[*HandleLogoutRequestContext] {
	return []events.Descriptor[*HandleLogoutRequestContext]{{
		Name:     "allow-logout",
		Order:    100 * orderStep,
		Required: true,
		Factory: func() events.Handler[*HandleLogoutRequestContext] {
			return events.HandlerFunc[*HandleLogoutRequestContext](
				func(_ context.Context, evt *HandleLogoutRequestContext) error {
					evt.LogoutAllowed = true
					return nil
				})
		},
	}}
}

func (s *Server) defaultLogoutApplyHandlers() []events.Descriptor[*ApplyLogoutResponseContext] {
	return []events.Descriptor[*ApplyLogoutResponseContext]{{
		Name:     "attach-response-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ApplyLogoutResponseContext] {
			return events.HandlerFunc[*ApplyLogoutResponseContext](
				func(_ context.Context, evt *ApplyLogoutResponseContext) error {
					t := evt.Transaction
					evt.RedirectURI = t.StringProperty(PropertyValidatedPostLogoutRedirectURI)
					if evt.RedirectURI == "" {
						return nil
					}
					if state := t.Request.State(); state != "" {
						t.Response.Set(message.ParamState, message.StringParameter(state))
					}
					t.SetProperty(PropertyResponseMode, message.ResponseModeQuery)
					return nil
				})
		},
	}}
}
