// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// processAuthorizationRequest drives the authorization endpoint through its
// extract -> validate -> handle -> sign-in -> apply stages.
func (s *Server) processAuthorizationRequest(ctx context.Context, evt *ProcessRequestContext) error {
	t := evt.Transaction

	ext := &ExtractAuthorizationRequestContext{}
	ext.Transaction = t
	if err := s.extractAuthorization.Dispatch(ctx, ext); err != nil {
		return err
	}
	if done := propagate(evt, &ext.BaseValidatingContext); done {
		return nil
	}

	val := &ValidateAuthorizationRequestContext{}
	val.Transaction = t
	val.ClientID = t.Request.ClientID()
	if err := s.validateAuthorization.Dispatch(ctx, val); err != nil {
		return err
	}
	if val.IsRejected() {
		// When the client and its redirect_uri can still be resolved, the
		// error is returned via redirect instead of rendered locally.
		s.attachErrorRedirect(ctx, t)
	}
	if done := propagate(evt, &val.BaseValidatingContext); done {
		return nil
	}
	t.SetProperty(PropertyValidatedRedirectURI, val.RedirectURI)
	if val.Application != nil {
		t.SetProperty(PropertyApplication, val.Application)
	}

	handle := &HandleAuthorizationRequestContext{}
	handle.Transaction = t
	if err := s.handleAuthorization.Dispatch(ctx, handle); err != nil {
		return err
	}
	if done := propagate(evt, &handle.BaseValidatingContext); done {
		return nil
	}
	if handle.Principal == nil {
		// The host must attach a handler that produces a principal
		// (interactive consent UI, passthrough or programmatic grant).
		return fmt.Errorf("no handler attached a principal to the authorization request")
	}

	signin := &ProcessSigninContext{Principal: handle.Principal}
	signin.Transaction = t
	if err := s.signin.Dispatch(ctx, signin); err != nil {
		return err
	}
	if done := propagate(evt, &signin.BaseValidatingContext); done {
		return nil
	}

	apply := &ApplyAuthorizationResponseContext{}
	apply.Transaction = t
	if err := s.applyAuthorization.Dispatch(ctx, apply); err != nil {
		return err
	}

	evt.HandleRequest()
	return nil
}

// attachErrorRedirect marks the request's redirect_uri as the error
// delivery target when it is well-formed and exactly registered for the
// requesting client.
func (s *Server) attachErrorRedirect(ctx context.Context, t *Transaction) {
	if t.Options.EnableDegradedMode || s.managers == nil || t.Request == nil {
		return
	}
	clientID := t.Request.ClientID()
	redirectURI := t.Request.RedirectURI()
	if clientID == "" || redirectURI == "" || validateRedirectURI(redirectURI) != nil {
		return
	}
	app, err := s.managers.Applications.FindByClientID(ctx, clientID)
	if err != nil {
		return
	}
	if s.managers.Applications.HasRedirectURI(app, redirectURI) {
		t.SetProperty(PropertyValidatedRedirectURI, redirectURI)
	}
}

// propagate copies a sub-event's decision onto the outer event. It reports
// whether the outer pipeline is done with this request.
func propagate(outer *ProcessRequestContext, inner *BaseValidatingContext) bool {
	switch {
	case inner.IsRequestHandled():
		outer.HandleRequest()
		return true
	case inner.IsRequestSkipped():
		outer.SkipRequest()
		return true
	case inner.IsRejected():
		outer.Reject(inner.Error(), inner.ErrorDescription(), inner.ErrorURI())
		return true
	default:
		return false
	}
}

// defaultAuthorizationExtractHandlers verifies the transport attached a
// request message. The HTTP adapter populates it from the query string
// (GET) or the form body (POST) before dispatch.
func (s *Server) defaultAuthorizationExtractHandlers() []events.Descriptor[*ExtractAuthorizationRequestContext] {
	return []events.Descriptor[*ExtractAuthorizationRequestContext]{{
		Name:     "require-request-message",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ExtractAuthorizationRequestContext] {
			return events.HandlerFunc[*ExtractAuthorizationRequestContext](
				func(_ context.Context, evt *ExtractAuthorizationRequestContext) error {
					if evt.Transaction.Request == nil {
						evt.Reject(message.ErrorInvalidRequest,
							"The authorization request cannot be extracted.", "")
					}
					return nil
				})
		},
	}}
}

// authorizationGate wraps a validation step as a descriptor.
func authorizationGate(
	name string, order int64,
	filters []events.Predicate[*ValidateAuthorizationRequestContext],
	gate func(ctx context.Context, evt *ValidateAuthorizationRequestContext) error,
) events.Descriptor[*ValidateAuthorizationRequestContext] {
	return events.Descriptor[*ValidateAuthorizationRequestContext]{
		Name:     name,
		Order:    order,
		Filters:  filters,
		Required: true,
		Factory: func() events.Handler[*ValidateAuthorizationRequestContext] {
			return events.HandlerFunc[*ValidateAuthorizationRequestContext](gate)
		},
	}
}

// defaultAuthorizationValidateHandlers is the ordered gate table encoding
// the RFC 6749 / OIDC Core authorization request rules. Gates fail fast:
// the first rejection stops the table.
//
//nolint:gocyclo // The table is long but each gate is a few lines.
func (s *Server) defaultAuthorizationValidateHandlers() []events.Descriptor[*ValidateAuthorizationRequestContext] {
	degraded := requireDegradedModeDisabled[*ValidateAuthorizationRequestContext]()
	scopeValidation := requireScopeValidationEnabled[*ValidateAuthorizationRequestContext]()

	return []events.Descriptor[*ValidateAuthorizationRequestContext]{
		// The request and request_uri JAR parameters are deliberately
		// distinct gates registered under distinct names.
		authorizationGate("validate-request-parameter", 1*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				if evt.Request().Has(message.ParamRequest) {
					evt.Reject(message.ErrorRequestNotSupported,
						"The request parameter is not supported.", "")
				}
				return nil
			}),

		authorizationGate("validate-request-uri-parameter", 2*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				if evt.Request().Has(message.ParamRequestURI) {
					evt.Reject(message.ErrorRequestURINotSupported,
						"The request_uri parameter is not supported.", "")
				}
				return nil
			}),

		authorizationGate("validate-client-id-parameter", 3*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				if evt.ClientID == "" {
					evt.Reject(message.ErrorInvalidRequest,
						"The mandatory client_id parameter is missing.", "")
				}
				return nil
			}),

		authorizationGate("validate-redirect-uri-parameter", 4*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				redirectURI := evt.Request().RedirectURI()
				if redirectURI == "" {
					// redirect_uri is mandatory for OpenID Connect requests
					// but optional for pure OAuth 2.0 requests.
					if evt.Request().HasScope(message.ScopeOpenID) {
						evt.Reject(message.ErrorInvalidRequest,
							"The mandatory redirect_uri parameter is missing.", "")
					}
					return nil
				}
				if err := validateRedirectURI(redirectURI); err != nil {
					evt.Reject(message.ErrorInvalidRequest,
						"The redirect_uri parameter is malformed.", "")
				}
				return nil
			}),

		authorizationGate("validate-response-type-parameter", 5*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				request := evt.Request()
				opts := evt.Options()

				if request.ResponseType() == "" {
					evt.Reject(message.ErrorInvalidRequest,
						"The mandatory response_type parameter is missing.", "")
					return nil
				}
				if request.HasResponseType(message.ResponseTypeIDToken) &&
					!request.HasScope(message.ScopeOpenID) {
					evt.Reject(message.ErrorInvalidRequest,
						"The openid scope is mandatory when requesting an id_token.", "")
					return nil
				}
				if request.HasResponseType(message.ResponseTypeCode) && !opts.EnableTokenEndpoint {
					evt.Reject(message.ErrorUnsupportedResponseType,
						"The authorization code flow requires the token endpoint.", "")
					return nil
				}

				switch {
				case request.IsAuthorizationCodeFlow():
					if !opts.EnableAuthorizationCodeFlow {
						evt.Reject(message.ErrorUnsupportedResponseType,
							"The authorization code flow is not enabled.", "")
						return nil
					}
				case request.IsImplicitFlow():
					if !opts.EnableImplicitFlow {
						evt.Reject(message.ErrorUnsupportedResponseType,
							"The implicit flow is not enabled.", "")
						return nil
					}
				case request.IsHybridFlow():
					if !opts.EnableHybridFlow {
						evt.Reject(message.ErrorUnsupportedResponseType,
							"The hybrid flow is not enabled.", "")
						return nil
					}
				default:
					evt.Reject(message.ErrorUnsupportedResponseType,
						"The specified response_type parameter is not supported.", "")
					return nil
				}

				if request.HasScope(message.ScopeOfflineAccess) && !opts.EnableRefreshTokenGrant {
					evt.Reject(message.ErrorInvalidRequest,
						"The offline_access scope requires the refresh_token grant.", "")
				}
				return nil
			}),

		authorizationGate("validate-response-mode-parameter", 6*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				request := evt.Request()
				mode := request.ResponseMode()
				if mode == "" {
					return nil
				}

				// The query response mode cannot carry tokens: they would
				// leak through logs and referrers.
				if mode == message.ResponseModeQuery &&
					(request.HasResponseType(message.ResponseTypeIDToken) ||
						request.HasResponseType(message.ResponseTypeToken)) {
					evt.Reject(message.ErrorInvalidRequest,
						"The query response mode cannot be used with token response types.", "")
					return nil
				}

				switch mode {
				case message.ResponseModeQuery, message.ResponseModeFragment, message.ResponseModeFormPost:
				default:
					evt.Reject(message.ErrorInvalidRequest,
						"The specified response_mode parameter is not supported.", "")
				}
				return nil
			}),

		authorizationGate("validate-nonce-parameter", 7*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				request := evt.Request()
				if request.Nonce() != "" || !request.HasScope(message.ScopeOpenID) {
					return nil
				}
				if request.IsImplicitFlow() || request.IsHybridFlow() {
					evt.Reject(message.ErrorInvalidRequest,
						"The mandatory nonce parameter is missing.", "")
				}
				return nil
			}),

		authorizationGate("validate-prompt-parameter", 8*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				request := evt.Request()
				if request.HasPromptValue(message.PromptNone) &&
					(request.HasPromptValue(message.PromptLogin) ||
						request.HasPromptValue(message.PromptConsent) ||
						request.HasPromptValue(message.PromptSelectAccount)) {
					evt.Reject(message.ErrorInvalidRequest,
						"The prompt=none value cannot be combined with other prompt values.", "")
				}
				return nil
			}),

		authorizationGate("validate-pkce-parameters", 9*orderStep, nil,
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				request := evt.Request()
				method := request.CodeChallengeMethod()
				challenge := request.CodeChallenge()

				if method != "" && challenge == "" {
					evt.Reject(message.ErrorInvalidRequest,
						"The code_challenge parameter is mandatory when code_challenge_method is used.", "")
					return nil
				}
				if challenge != "" {
					if !request.HasResponseType(message.ResponseTypeCode) {
						evt.Reject(message.ErrorInvalidRequest,
							"The code_challenge parameter requires a response_type containing code.", "")
						return nil
					}
					if request.HasResponseType(message.ResponseTypeToken) {
						evt.Reject(message.ErrorInvalidRequest,
							"The code_challenge parameter cannot be used with the token response type.", "")
						return nil
					}
					switch method {
					case "", message.CodeChallengeMethodPlain, message.CodeChallengeMethodS256:
					default:
						evt.Reject(message.ErrorInvalidRequest,
							"The specified code_challenge_method parameter is not supported.", "")
						return nil
					}
				}
				if challenge == "" && evt.Options().RequireProofKeyForCodeExchange &&
					request.HasResponseType(message.ResponseTypeCode) {
					evt.Reject(message.ErrorInvalidRequest,
						"The mandatory code_challenge parameter is missing.", "")
				}
				return nil
			}),

		authorizationGate("validate-scopes", 10*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{scopeValidation, degraded},
			func(ctx context.Context, evt *ValidateAuthorizationRequestContext) error {
				scopes := evt.Request().GetScopes()
				unknown := make(map[string]struct{}, len(scopes))
				for _, scope := range scopes {
					// openid and offline_access are protocol scopes and are
					// not expected in the registry.
					if scope == message.ScopeOpenID || scope == message.ScopeOfflineAccess {
						continue
					}
					unknown[scope] = struct{}{}
				}
				if len(unknown) == 0 {
					return nil
				}

				names := make([]string, 0, len(unknown))
				for name := range unknown {
					names = append(names, name)
				}
				for scope, err := range s.managers.Scopes.FindByNames(ctx, names) {
					if err != nil {
						return err
					}
					delete(unknown, scope.Name)
				}
				if len(unknown) > 0 {
					evt.Reject(message.ErrorInvalidScope,
						"The specified scope parameter is not valid.", "")
				}
				return nil
			}),

		authorizationGate("validate-client-identity", 11*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded},
			func(ctx context.Context, evt *ValidateAuthorizationRequestContext) error {
				app, err := s.managers.Applications.FindByClientID(ctx, evt.ClientID)
				if err != nil {
					if store.IsNotFound(err) {
						logger.Debugw("authorization request from unknown client", "client_id", evt.ClientID)
						evt.Reject(message.ErrorInvalidClient,
							"The specified client identifier is invalid.", "")
						return nil
					}
					return err
				}
				evt.Application = app
				return nil
			}),

		authorizationGate("validate-client-type", 12*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded},
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				// Confidential clients must not receive access tokens from
				// the authorization endpoint: it would downgrade them to
				// unauthenticated issuance.
				if evt.Application.ClientType == store.ClientTypeConfidential &&
					evt.Request().HasResponseType(message.ResponseTypeToken) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"The token response type is not allowed for confidential clients.", "")
				}
				return nil
			}),

		authorizationGate("validate-redirect-uri-registration", 13*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded},
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				redirectURI := evt.Request().RedirectURI()
				if redirectURI == "" {
					// Pure OAuth 2.0 request: fall back to the single
					// registered URI when unambiguous.
					if len(evt.Application.RedirectURIs) == 1 {
						evt.RedirectURI = evt.Application.RedirectURIs[0]
						return nil
					}
					evt.Reject(message.ErrorInvalidRequest,
						"The mandatory redirect_uri parameter is missing.", "")
					return nil
				}
				if !s.managers.Applications.HasRedirectURI(evt.Application, redirectURI) {
					evt.Reject(message.ErrorInvalidRequest,
						"The specified redirect_uri parameter is not valid for this client.", "")
					return nil
				}
				evt.RedirectURI = redirectURI
				return nil
			}),

		authorizationGate("validate-endpoint-permissions", 14*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded,
				func(evt *ValidateAuthorizationRequestContext) bool {
					return !evt.Options().IgnoreEndpointPermissions
				}},
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				if !s.managers.Applications.HasPermission(evt.Application, store.PermissionEndpointAuthorization) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the authorization endpoint.", "")
				}
				return nil
			}),

		authorizationGate("validate-grant-type-permissions", 15*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded,
				func(evt *ValidateAuthorizationRequestContext) bool {
					return !evt.Options().IgnoreGrantTypePermissions
				}},
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				request := evt.Request()
				apps := s.managers.Applications

				if request.HasResponseType(message.ResponseTypeCode) &&
					!apps.HasPermission(evt.Application, store.PermissionGrantTypeAuthorizationCode) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the authorization code flow.", "")
					return nil
				}
				if request.IsImplicitFlow() &&
					!apps.HasPermission(evt.Application, store.PermissionGrantTypeImplicit) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to use the implicit flow.", "")
					return nil
				}
				if request.HasScope(message.ScopeOfflineAccess) &&
					!apps.HasPermission(evt.Application, store.PermissionGrantTypeRefreshToken) {
					evt.Reject(message.ErrorUnauthorizedClient,
						"This client is not allowed to request offline access.", "")
				}
				return nil
			}),

		authorizationGate("validate-response-type-permissions", 16*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded,
				func(evt *ValidateAuthorizationRequestContext) bool {
					return !evt.Options().IgnoreResponseTypePermissions
				}},
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				for _, responseType := range strings.Fields(evt.Request().ResponseType()) {
					permission := store.PermissionPrefixResponseType + responseType
					if !s.managers.Applications.HasPermission(evt.Application, permission) {
						evt.Reject(message.ErrorUnauthorizedClient,
							"This client is not allowed to use the specified response_type.", "")
						return nil
					}
				}
				return nil
			}),

		authorizationGate("validate-scope-permissions", 17*orderStep,
			[]events.Predicate[*ValidateAuthorizationRequestContext]{degraded,
				func(evt *ValidateAuthorizationRequestContext) bool {
					return !evt.Options().IgnoreScopePermissions
				}},
			func(_ context.Context, evt *ValidateAuthorizationRequestContext) error {
				for _, scope := range evt.Request().GetScopes() {
					if scope == message.ScopeOpenID || scope == message.ScopeOfflineAccess {
						continue
					}
					if !s.managers.Applications.HasPermission(evt.Application, store.PermissionPrefixScope+scope) {
						evt.Reject(message.ErrorInvalidRequest,
							"This client is not allowed to request the specified scopes.", "")
						return nil
					}
				}
				return nil
			}),
	}
}

// validateRedirectURI rejects relative, fragment-carrying or otherwise
// malformed redirect targets. The scheme check also rejects "/path"-style
// inputs that POSIX file-URL parsers would accept.
func validateRedirectURI(redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("parse redirect_uri: %w", err)
	}
	// "/path"-style inputs parse with an empty scheme and fail IsAbs.
	if !u.IsAbs() {
		return fmt.Errorf("redirect_uri must be an absolute URL")
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect_uri cannot contain a fragment")
	}
	return nil
}

// defaultAuthorizationApplyHandlers finalizes the authorization response:
// target, response mode and state echo.
func (s *Server) defaultAuthorizationApplyHandlers() []events.Descriptor[*ApplyAuthorizationResponseContext] {
	return []events.Descriptor[*ApplyAuthorizationResponseContext]{{
		Name:     "attach-response-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ApplyAuthorizationResponseContext] {
			return events.HandlerFunc[*ApplyAuthorizationResponseContext](
				func(_ context.Context, evt *ApplyAuthorizationResponseContext) error {
					t := evt.Transaction
					request := t.Request

					evt.RedirectURI = t.StringProperty(PropertyValidatedRedirectURI)

					// Resolve the response mode: an explicit request value
					// wins; otherwise fragment when the response carries
					// tokens, query for code-only responses.
					switch {
					case request.ResponseMode() != "":
						evt.ResponseMode = request.ResponseMode()
					case request.HasResponseType(message.ResponseTypeToken) ||
						request.HasResponseType(message.ResponseTypeIDToken):
						evt.ResponseMode = message.ResponseModeFragment
					default:
						evt.ResponseMode = message.ResponseModeQuery
					}
					t.SetProperty(PropertyResponseMode, evt.ResponseMode)

					if state := request.State(); state != "" {
						t.Response.Set(message.ParamState, message.StringParameter(state))
					}
					return nil
				})
		},
	}}
}
