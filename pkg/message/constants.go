// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package message

// Standard OAuth 2.0 / OpenID Connect parameter names.
const (
	ParamAccessToken         = "access_token"
	ParamActive              = "active"
	ParamAssertion           = "assertion"
	ParamAudience            = "audience"
	ParamClientAssertion     = "client_assertion"
	ParamClientAssertionType = "client_assertion_type"
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamCode                = "code"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamCodeVerifier        = "code_verifier"
	ParamError               = "error"
	ParamErrorDescription    = "error_description"
	ParamErrorURI            = "error_uri"
	ParamExpiresIn           = "expires_in"
	ParamGrantType           = "grant_type"
	ParamIDToken             = "id_token"
	ParamIDTokenHint         = "id_token_hint"
	ParamNonce               = "nonce"
	ParamPassword            = "password"
	ParamPostLogoutRedirect  = "post_logout_redirect_uri"
	ParamPrompt              = "prompt"
	ParamRedirectURI         = "redirect_uri"
	ParamRefreshToken        = "refresh_token"
	ParamRequest             = "request"
	ParamRequestURI          = "request_uri"
	ParamResource            = "resource"
	ParamResponseMode        = "response_mode"
	ParamResponseType        = "response_type"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamToken               = "token"
	ParamTokenType           = "token_type"
	ParamTokenTypeHint       = "token_type_hint"
	ParamUsername            = "username"
)

// Error codes from RFC 6749 section 5.2 and section 4.1.2.1.
const (
	ErrorAccessDenied            = "access_denied"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidScope            = "invalid_scope"
	ErrorServerError             = "server_error"
	ErrorTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
)

// Error codes added by OpenID Connect Core and related specifications.
const (
	ErrorConsentRequired          = "consent_required"
	ErrorInteractionRequired      = "interaction_required"
	ErrorLoginRequired            = "login_required"
	ErrorRegistrationNotSupported = "registration_not_supported"
	ErrorRequestNotSupported      = "request_not_supported"
	ErrorRequestURINotSupported   = "request_uri_not_supported"
)

// Grant types.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
)

// Response types. Composite response types ("code id_token", "code token",
// "code id_token token", "id_token token") are space-separated combinations
// of these values.
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
	ResponseTypeToken   = "token"
)

// Response modes.
const (
	ResponseModeFormPost = "form_post"
	ResponseModeFragment = "fragment"
	ResponseModeQuery    = "query"
)

// Prompt values from OpenID Connect Core section 3.1.2.1.
const (
	PromptConsent       = "consent"
	PromptLogin         = "login"
	PromptNone          = "none"
	PromptSelectAccount = "select_account"
)

// Code challenge methods from RFC 7636.
const (
	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// Standard scopes.
const (
	ScopeAddress       = "address"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
	ScopeOpenID        = "openid"
	ScopePhone         = "phone"
	ScopeProfile       = "profile"
)

// Token type hints from RFC 7009 / RFC 7662, plus the internal token kinds.
const (
	TokenTypeHintAccessToken       = "access_token"
	TokenTypeHintAuthorizationCode = "authorization_code"
	TokenTypeHintDeviceCode        = "device_code"
	TokenTypeHintIDToken           = "id_token"
	TokenTypeHintRefreshToken      = "refresh_token"
	TokenTypeHintUserCode          = "user_code"
)

// TokenTypeBearer is the token_type value for bearer tokens (RFC 6750).
const TokenTypeBearer = "Bearer"
