// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/managers"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
)

// Managers bundles the entity managers the built-in handlers call. All
// fields are nil in degraded mode.
type Managers struct {
	Applications   *managers.ApplicationManager
	Authorizations *managers.AuthorizationManager
	Tokens         *managers.TokenManager
	Scopes         *managers.ScopeManager
}

// Config assembles a Server. Host attach points are expressed as extra
// descriptors merged into the built-in tables, so the whole pipeline stays a
// sorted table of (order, filters, factory) rows.
type Config struct {
	Options    *Options
	Managers   *Managers
	Serializer TokenSerializer

	// JWKS exposes the active signing keys for the cryptography endpoint
	// and the discovery document.
	JWKS JWKSProvider

	// AuthorizationHandlers are merged into the HandleAuthorizationRequest
	// stage. The host MUST attach one that produces a principal, unless
	// every request is expected to fail.
	AuthorizationHandlers []events.Descriptor[*HandleAuthorizationRequestContext]

	// TokenHandlers are merged into the HandleTokenRequest stage, e.g. to
	// resolve subjects for the password grant.
	TokenHandlers []events.Descriptor[*HandleTokenRequestContext]

	// LogoutHandlers are merged into the HandleLogoutRequest stage to
	// terminate the local session and allow the logout.
	LogoutHandlers []events.Descriptor[*HandleLogoutRequestContext]

	// SerializeHandlers and DeserializeHandlers are merged before the
	// serializer-backed defaults.
	SerializeHandlers   []events.Descriptor[*SerializeTokenContext]
	DeserializeHandlers []events.Descriptor[*DeserializeTokenContext]
}

// Server dispatches protocol transactions through the endpoint state
// machines. It is HTTP-host-agnostic: adapters build a Transaction, call
// ProcessRequest and render the resulting response message.
type Server struct {
	opts     *Options
	managers *Managers
	jwks     JWKSProvider

	process      *events.Dispatcher[*ProcessRequestContext]
	processError *events.Dispatcher[*ProcessErrorContext]
	signin       *events.Dispatcher[*ProcessSigninContext]

	extractAuthorization  *events.Dispatcher[*ExtractAuthorizationRequestContext]
	validateAuthorization *events.Dispatcher[*ValidateAuthorizationRequestContext]
	handleAuthorization   *events.Dispatcher[*HandleAuthorizationRequestContext]
	applyAuthorization    *events.Dispatcher[*ApplyAuthorizationResponseContext]

	extractToken  *events.Dispatcher[*ExtractTokenRequestContext]
	validateToken *events.Dispatcher[*ValidateTokenRequestContext]
	handleToken   *events.Dispatcher[*HandleTokenRequestContext]
	applyToken    *events.Dispatcher[*ApplyTokenResponseContext]

	extractIntrospection  *events.Dispatcher[*ExtractIntrospectionRequestContext]
	validateIntrospection *events.Dispatcher[*ValidateIntrospectionRequestContext]
	handleIntrospection   *events.Dispatcher[*HandleIntrospectionRequestContext]
	applyIntrospection    *events.Dispatcher[*ApplyIntrospectionResponseContext]

	extractRevocation  *events.Dispatcher[*ExtractRevocationRequestContext]
	validateRevocation *events.Dispatcher[*ValidateRevocationRequestContext]
	handleRevocation   *events.Dispatcher[*HandleRevocationRequestContext]
	applyRevocation    *events.Dispatcher[*ApplyRevocationResponseContext]

	extractUserinfo  *events.Dispatcher[*ExtractUserinfoRequestContext]
	validateUserinfo *events.Dispatcher[*ValidateUserinfoRequestContext]
	handleUserinfo   *events.Dispatcher[*HandleUserinfoRequestContext]
	applyUserinfo    *events.Dispatcher[*ApplyUserinfoResponseContext]

	extractLogout  *events.Dispatcher[*ExtractLogoutRequestContext]
	validateLogout *events.Dispatcher[*ValidateLogoutRequestContext]
	handleLogout   *events.Dispatcher[*HandleLogoutRequestContext]
	applyLogout    *events.Dispatcher[*ApplyLogoutResponseContext]

	handleConfiguration *events.Dispatcher[*HandleConfigurationRequestContext]
	handleCryptography  *events.Dispatcher[*HandleCryptographyRequestContext]

	serialize   *events.Dispatcher[*SerializeTokenContext]
	deserialize *events.Dispatcher[*DeserializeTokenContext]
}

// New builds a Server from the configuration, assembling the built-in
// handler tables and merging the host's descriptors. Missing core services
// fail here, not mid-request.
func New(cfg Config) (*Server, error) {
	if cfg.Options == nil {
		return nil, fmt.Errorf("options are required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if !cfg.Options.EnableDegradedMode {
		if cfg.Managers == nil || cfg.Managers.Applications == nil ||
			cfg.Managers.Authorizations == nil || cfg.Managers.Tokens == nil ||
			cfg.Managers.Scopes == nil {
			return nil, fmt.Errorf("entity managers are required unless degraded mode is enabled")
		}
	}
	if cfg.Serializer == nil && len(cfg.SerializeHandlers) == 0 {
		return nil, fmt.Errorf("a token serializer is required")
	}

	s := &Server{opts: cfg.Options, managers: cfg.Managers, jwks: cfg.JWKS}

	var err error
	build := func(fn func() error) {
		if err == nil {
			err = fn()
		}
	}

	build(func() error {
		s.process, err = events.NewDispatcher(s.defaultProcessHandlers()...)
		return err
	})
	build(func() error {
		s.processError, err = events.NewDispatcher(s.defaultProcessErrorHandlers()...)
		return err
	})
	build(func() error {
		s.signin, err = events.NewDispatcher(s.defaultSigninHandlers()...)
		return err
	})

	build(func() error {
		s.extractAuthorization, err = events.NewDispatcher(s.defaultAuthorizationExtractHandlers()...)
		return err
	})
	build(func() error {
		s.validateAuthorization, err = events.NewDispatcher(s.defaultAuthorizationValidateHandlers()...)
		return err
	})
	build(func() error {
		s.handleAuthorization, err = events.NewDispatcher(cfg.AuthorizationHandlers...)
		return err
	})
	build(func() error {
		s.applyAuthorization, err = events.NewDispatcher(s.defaultAuthorizationApplyHandlers()...)
		return err
	})

	build(func() error {
		s.extractToken, err = events.NewDispatcher(s.defaultTokenExtractHandlers()...)
		return err
	})
	build(func() error {
		s.validateToken, err = events.NewDispatcher(s.defaultTokenValidateHandlers()...)
		return err
	})
	build(func() error {
		s.handleToken, err = events.NewDispatcher(append(s.defaultTokenHandleHandlers(), cfg.TokenHandlers...)...)
		return err
	})
	build(func() error {
		s.applyToken, err = events.NewDispatcher(s.defaultTokenApplyHandlers()...)
		return err
	})

	build(func() error {
		s.extractIntrospection, err = events.NewDispatcher(s.defaultIntrospectionExtractHandlers()...)
		return err
	})
	build(func() error {
		s.validateIntrospection, err = events.NewDispatcher(s.defaultIntrospectionValidateHandlers()...)
		return err
	})
	build(func() error {
		s.handleIntrospection, err = events.NewDispatcher(s.defaultIntrospectionHandleHandlers()...)
		return err
	})
	build(func() error {
		s.applyIntrospection, err = events.NewDispatcher(s.defaultIntrospectionApplyHandlers()...)
		return err
	})

	build(func() error {
		s.extractRevocation, err = events.NewDispatcher(s.defaultRevocationExtractHandlers()...)
		return err
	})
	build(func() error {
		s.validateRevocation, err = events.NewDispatcher(s.defaultRevocationValidateHandlers()...)
		return err
	})
	build(func() error {
		s.handleRevocation, err = events.NewDispatcher(s.defaultRevocationHandleHandlers()...)
		return err
	})
	build(func() error {
		s.applyRevocation, err = events.NewDispatcher(s.defaultRevocationApplyHandlers()...)
		return err
	})

	build(func() error {
		s.extractUserinfo, err = events.NewDispatcher(s.defaultUserinfoExtractHandlers()...)
		return err
	})
	build(func() error {
		s.validateUserinfo, err = events.NewDispatcher(s.defaultUserinfoValidateHandlers()...)
		return err
	})
	build(func() error {
		s.handleUserinfo, err = events.NewDispatcher(s.defaultUserinfoHandleHandlers()...)
		return err
	})
	build(func() error {
		s.applyUserinfo, err = events.NewDispatcher(s.defaultUserinfoApplyHandlers()...)
		return err
	})

	build(func() error {
		s.extractLogout, err = events.NewDispatcher(s.defaultLogoutExtractHandlers()...)
		return err
	})
	build(func() error {
		s.validateLogout, err = events.NewDispatcher(s.defaultLogoutValidateHandlers()...)
		return err
	})
	build(func() error {
		s.handleLogout, err = events.NewDispatcher(append(s.defaultLogoutHandleHandlers(), cfg.LogoutHandlers...)...)
		return err
	})
	build(func() error {
		s.applyLogout, err = events.NewDispatcher(s.defaultLogoutApplyHandlers()...)
		return err
	})

	build(func() error {
		s.handleConfiguration, err = events.NewDispatcher(s.defaultConfigurationHandlers()...)
		return err
	})
	build(func() error {
		s.handleCryptography, err = events.NewDispatcher(s.defaultCryptographyHandlers()...)
		return err
	})

	build(func() error {
		s.serialize, err = events.NewDispatcher(
			append(cfg.SerializeHandlers, defaultSerializeHandlers(cfg.Serializer)...)...)
		return err
	})
	build(func() error {
		s.deserialize, err = events.NewDispatcher(
			append(cfg.DeserializeHandlers, defaultDeserializeHandlers(cfg.Serializer)...)...)
		return err
	})

	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options returns the server options snapshot.
func (s *Server) Options() *Options {
	return s.opts
}

// NewTransaction creates a transaction bound to this server's options.
func (s *Server) NewTransaction(endpoint EndpointType) *Transaction {
	return NewTransaction(endpoint, s.opts)
}

// ProcessRequest dispatches the transaction through the outer pipeline. On
// return the transaction's response message holds either the protocol
// result or an error document; infrastructure failures are logged and
// collapsed into server_error.
func (s *Server) ProcessRequest(ctx context.Context, t *Transaction) error {
	evt := &ProcessRequestContext{}
	evt.Transaction = t

	if err := s.process.Dispatch(ctx, evt); err != nil {
		if ctx.Err() != nil {
			// Cancellation propagates uninterpreted.
			return ctx.Err()
		}
		logger.Errorw("request pipeline failed",
			"endpoint", t.EndpointType.String(),
			"error", err,
		)
		return s.dispatchError(ctx, t, message.ErrorServerError,
			"The authorization server encountered an unexpected error.", "")
	}

	if evt.IsRejected() {
		return s.dispatchError(ctx, t, evt.Error(), evt.ErrorDescription(), evt.ErrorURI())
	}
	return nil
}

// dispatchError runs the ProcessError stage with the accumulated error
// fields.
func (s *Server) dispatchError(ctx context.Context, t *Transaction, code, description, uri string) error {
	evt := &ProcessErrorContext{
		ErrorCode:        code,
		ErrorDescription: description,
		ErrorURI:         uri,
	}
	evt.Transaction = t
	return s.processError.Dispatch(ctx, evt)
}

// defaultProcessHandlers builds the outer ProcessRequest table: one
// processor per endpoint, gated on the transaction's endpoint type.
func (s *Server) defaultProcessHandlers() []events.Descriptor[*ProcessRequestContext] {
	processor := func(name string, endpoint EndpointType,
		run func(context.Context, *ProcessRequestContext) error,
	) events.Descriptor[*ProcessRequestContext] {
		return events.Descriptor[*ProcessRequestContext]{
			Name:     name,
			Order:    orderStep,
			Required: true,
			Filters: []events.Predicate[*ProcessRequestContext]{
				func(evt *ProcessRequestContext) bool {
					return evt.Transaction.EndpointType == endpoint
				},
			},
			Factory: func() events.Handler[*ProcessRequestContext] {
				return events.HandlerFunc[*ProcessRequestContext](run)
			},
		}
	}

	return []events.Descriptor[*ProcessRequestContext]{
		processor("process-authorization-request", EndpointAuthorization, s.processAuthorizationRequest),
		processor("process-token-request", EndpointToken, s.processTokenRequest),
		processor("process-introspection-request", EndpointIntrospection, s.processIntrospectionRequest),
		processor("process-revocation-request", EndpointRevocation, s.processRevocationRequest),
		processor("process-userinfo-request", EndpointUserinfo, s.processUserinfoRequest),
		processor("process-logout-request", EndpointLogout, s.processLogoutRequest),
		processor("process-configuration-request", EndpointConfiguration, s.processConfigurationRequest),
		processor("process-cryptography-request", EndpointCryptography, s.processCryptographyRequest),
	}
}

// defaultProcessErrorHandlers renders the error fields into the response
// message.
func (s *Server) defaultProcessErrorHandlers() []events.Descriptor[*ProcessErrorContext] {
	return []events.Descriptor[*ProcessErrorContext]{{
		Name:     "attach-error-parameters",
		Order:    orderStep,
		Required: true,
		Factory: func() events.Handler[*ProcessErrorContext] {
			return events.HandlerFunc[*ProcessErrorContext](func(_ context.Context, evt *ProcessErrorContext) error {
				code := evt.ErrorCode
				if code == "" {
					code = message.ErrorServerError
				}
				evt.Transaction.Response.SetError(code, evt.ErrorDescription, evt.ErrorURI)

				// Authorization errors occurring after redirect_uri
				// validation travel back to the client; echo the state so
				// it can correlate the response.
				if evt.Transaction.EndpointType == EndpointAuthorization &&
					evt.Transaction.Request != nil {
					if state := evt.Transaction.Request.State(); state != "" {
						evt.Transaction.Response.Set(message.ParamState, message.StringParameter(state))
					}
				}
				evt.HandleRequest()
				return nil
			})
		},
	}}
}

// ---- shared filters ----

// optionsAware is satisfied by every pipeline context.
type optionsAware interface {
	events.Event
	Options() *Options
}

// requireDegradedModeDisabled omits a handler when the persistence layer is
// absent.
func requireDegradedModeDisabled[T optionsAware]() events.Predicate[T] {
	return func(evt T) bool { return !evt.Options().EnableDegradedMode }
}

// requireScopeValidationEnabled omits a handler when scope validation is
// turned off.
func requireScopeValidationEnabled[T optionsAware]() events.Predicate[T] {
	return func(evt T) bool { return !evt.Options().DisableScopeValidation }
}
