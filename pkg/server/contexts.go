// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// BaseContext is the root of every pipeline context: it owns the
// transaction.
type BaseContext struct {
	Transaction *Transaction
}

// Request returns the transaction's request message.
func (c *BaseContext) Request() *message.Request {
	return c.Transaction.Request
}

// Response returns the transaction's response message.
func (c *BaseContext) Response() *message.Response {
	return c.Transaction.Response
}

// Options returns the transaction's options snapshot.
func (c *BaseContext) Options() *Options {
	return c.Transaction.Options
}

// BaseRequestContext adds the handled/skipped decision flags shared by the
// request-processing events.
type BaseRequestContext struct {
	BaseContext

	handled bool
	skipped bool
}

// HandleRequest marks the request fully handled: no later handler runs and
// the host must not process the request further.
func (c *BaseRequestContext) HandleRequest() { c.handled = true }

// SkipRequest marks the request skipped: the pipeline stops and the host's
// own application pipeline takes over (pass-through mode).
func (c *BaseRequestContext) SkipRequest() { c.skipped = true }

// IsRequestHandled reports whether a handler called HandleRequest.
func (c *BaseRequestContext) IsRequestHandled() bool { return c.handled }

// IsRequestSkipped reports whether a handler called SkipRequest.
func (c *BaseRequestContext) IsRequestSkipped() bool { return c.skipped }

// Done implements events.Event.
func (c *BaseRequestContext) Done() bool { return c.handled || c.skipped }

// BaseValidatingContext adds the rejection decision used by the extract,
// validate and handle events.
type BaseValidatingContext struct {
	BaseRequestContext

	rejected         bool
	errorCode        string
	errorDescription string
	errorURI         string
}

// Reject fails the event with a protocol error. The first rejection wins;
// later calls are ignored.
func (c *BaseValidatingContext) Reject(code, description, uri string) {
	if c.rejected {
		return
	}
	c.rejected = true
	c.errorCode = code
	c.errorDescription = description
	c.errorURI = uri
}

// IsRejected reports whether a handler rejected the event.
func (c *BaseValidatingContext) IsRejected() bool { return c.rejected }

// Error returns the rejection error code.
func (c *BaseValidatingContext) Error() string { return c.errorCode }

// ErrorDescription returns the rejection description.
func (c *BaseValidatingContext) ErrorDescription() string { return c.errorDescription }

// ErrorURI returns the rejection error URI.
func (c *BaseValidatingContext) ErrorURI() string { return c.errorURI }

// Done implements events.Event.
func (c *BaseValidatingContext) Done() bool {
	return c.rejected || c.IsRequestHandled() || c.IsRequestSkipped()
}

// BaseValidatingClientContext adds the client identity being validated.
type BaseValidatingClientContext struct {
	BaseValidatingContext

	// ClientID is the client identifier extracted from the request.
	ClientID string

	// Application is the resolved client, populated by the client identity
	// gate. Nil in degraded mode.
	Application *store.Application
}

// BaseExternalContext is the root of the serialization events that compute
// a principal: a handler marks the event handled when it produced or
// consumed the token.
type BaseExternalContext struct {
	BaseContext

	handled bool

	// Principal carries the identity attached to the token.
	Principal *Principal
}

// MarkHandled records that a handler produced the event's result.
func (c *BaseExternalContext) MarkHandled() { c.handled = true }

// IsHandled reports whether a handler produced the event's result.
func (c *BaseExternalContext) IsHandled() bool { return c.handled }

// Done implements events.Event.
func (c *BaseExternalContext) Done() bool { return c.handled }

// ---- top-level events ----

// ProcessRequestContext is the outer event dispatched for every incoming
// request.
type ProcessRequestContext struct {
	BaseValidatingContext
}

// ProcessErrorContext is dispatched when a stage rejected the request; it
// renders the accumulated error fields into the response.
type ProcessErrorContext struct {
	BaseRequestContext

	ErrorCode        string
	ErrorDescription string
	ErrorURI         string
}

// ProcessSigninContext is dispatched when the authorization endpoint has a
// principal to materialize into grants (codes, tokens).
type ProcessSigninContext struct {
	BaseValidatingContext

	Principal *Principal
}

// ---- authorization endpoint ----

// ExtractAuthorizationRequestContext is dispatched to populate the
// transaction's request from the transport.
type ExtractAuthorizationRequestContext struct {
	BaseValidatingContext
}

// ValidateAuthorizationRequestContext runs the authorization request gates.
type ValidateAuthorizationRequestContext struct {
	BaseValidatingClientContext

	// RedirectURI is the redirect target accepted by validation, copied to
	// the transaction properties on success.
	RedirectURI string
}

// HandleAuthorizationRequestContext produces the principal for a validated
// authorization request. The host must attach a handler that sets
// Principal (interactive consent UI, passthrough or programmatic grant).
type HandleAuthorizationRequestContext struct {
	BaseValidatingContext

	Principal *Principal
}

// ApplyAuthorizationResponseContext finalizes the authorization response:
// redirect URI, response mode and state echo.
type ApplyAuthorizationResponseContext struct {
	BaseRequestContext

	// RedirectURI is the target the response is returned to.
	RedirectURI string

	// ResponseMode is the resolved response mode (query, fragment,
	// form_post).
	ResponseMode string
}

// ---- token endpoint ----

// ExtractTokenRequestContext populates the request from the form body.
type ExtractTokenRequestContext struct {
	BaseValidatingContext
}

// ValidateTokenRequestContext runs the token request gates.
type ValidateTokenRequestContext struct {
	BaseValidatingClientContext

	// Principal is the identity bound to the presented grant
	// (authorization code or refresh token), populated by validation.
	Principal *Principal

	// Token is the persisted entity backing the presented grant. Nil in
	// degraded mode and for grants that present no prior token.
	Token *store.Token
}

// HandleTokenRequestContext issues the new grants for a validated token
// request.
type HandleTokenRequestContext struct {
	BaseValidatingContext

	Application *store.Application
	Principal   *Principal
}

// ApplyTokenResponseContext finalizes the token response.
type ApplyTokenResponseContext struct {
	BaseRequestContext
}

// ---- introspection endpoint ----

// ExtractIntrospectionRequestContext populates the request from the form
// body.
type ExtractIntrospectionRequestContext struct {
	BaseValidatingContext
}

// ValidateIntrospectionRequestContext authenticates the caller and resolves
// the presented token.
type ValidateIntrospectionRequestContext struct {
	BaseValidatingClientContext

	// Token is the resolved token entity; nil when unknown.
	Token *store.Token

	// Principal is the identity deserialized from the token payload.
	Principal *Principal
}

// HandleIntrospectionRequestContext assembles the introspection claims.
type HandleIntrospectionRequestContext struct {
	BaseValidatingContext

	Application *store.Application
	Token       *store.Token
	Principal   *Principal

	// Active is the introspection verdict. Claims beyond active are only
	// emitted when Active is true.
	Active bool
}

// ApplyIntrospectionResponseContext finalizes the introspection response.
type ApplyIntrospectionResponseContext struct {
	BaseRequestContext
}

// ---- revocation endpoint ----

// ExtractRevocationRequestContext populates the request from the form body.
type ExtractRevocationRequestContext struct {
	BaseValidatingContext
}

// ValidateRevocationRequestContext authenticates the caller and resolves
// the presented token.
type ValidateRevocationRequestContext struct {
	BaseValidatingClientContext

	Token *store.Token
}

// HandleRevocationRequestContext marks the token revoked.
type HandleRevocationRequestContext struct {
	BaseValidatingContext

	Application *store.Application
	Token       *store.Token
}

// ApplyRevocationResponseContext finalizes the revocation response.
type ApplyRevocationResponseContext struct {
	BaseRequestContext
}

// ---- userinfo endpoint ----

// ExtractUserinfoRequestContext extracts the bearer access token.
type ExtractUserinfoRequestContext struct {
	BaseValidatingContext

	// AccessToken is the bearer token presented by the caller.
	AccessToken string
}

// ValidateUserinfoRequestContext validates the access token and resolves
// its principal.
type ValidateUserinfoRequestContext struct {
	BaseValidatingContext

	AccessToken string
	Principal   *Principal
}

// HandleUserinfoRequestContext assembles the claims released to the caller.
type HandleUserinfoRequestContext struct {
	BaseValidatingContext

	Principal *Principal

	// Claims is the userinfo document under construction. The sub claim is
	// mandatory; the rest follows the granted scopes.
	Claims map[string]any
}

// ApplyUserinfoResponseContext finalizes the userinfo response.
type ApplyUserinfoResponseContext struct {
	BaseRequestContext
}

// ---- logout endpoint ----

// ExtractLogoutRequestContext populates the request from the transport.
type ExtractLogoutRequestContext struct {
	BaseValidatingContext
}

// ValidateLogoutRequestContext validates the post-logout redirect target.
type ValidateLogoutRequestContext struct {
	BaseValidatingContext

	// PostLogoutRedirectURI is the accepted redirect target, empty when
	// none was requested.
	PostLogoutRedirectURI string
}

// HandleLogoutRequestContext decides whether the logout may proceed. Hosts
// attach a handler that terminates the local session and sets
// LogoutAllowed.
type HandleLogoutRequestContext struct {
	BaseValidatingContext

	LogoutAllowed bool
}

// ApplyLogoutResponseContext finalizes the logout response.
type ApplyLogoutResponseContext struct {
	BaseRequestContext

	RedirectURI string
}

// ---- configuration + cryptography endpoints ----

// HandleConfigurationRequestContext assembles the discovery metadata.
type HandleConfigurationRequestContext struct {
	BaseValidatingContext

	// Metadata is the discovery document under construction, serialized
	// verbatim.
	Metadata map[string]any
}

// HandleCryptographyRequestContext assembles the JWKS document.
type HandleCryptographyRequestContext struct {
	BaseValidatingContext

	// Keys is the JWKS document under construction.
	Keys []map[string]any
}
