// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"net/url"
	"slices"
	"strings"
)

// Request is a protocol request message with typed accessors for the
// standard OAuth 2.0 / OpenID Connect request parameters.
type Request struct {
	Message
}

// NewRequest returns an empty request.
func NewRequest() *Request {
	return &Request{Message: *NewMessage()}
}

// RequestFromValues builds a request from a parsed query string or form body.
func RequestFromValues(values url.Values) *Request {
	return &Request{Message: *FromValues(values)}
}

// AccessToken returns the access_token parameter.
func (r *Request) AccessToken() string { return r.GetString(ParamAccessToken) }

// ClientID returns the client_id parameter.
func (r *Request) ClientID() string { return r.GetString(ParamClientID) }

// ClientSecret returns the client_secret parameter.
func (r *Request) ClientSecret() string { return r.GetString(ParamClientSecret) }

// Code returns the code parameter.
func (r *Request) Code() string { return r.GetString(ParamCode) }

// CodeChallenge returns the code_challenge parameter.
func (r *Request) CodeChallenge() string { return r.GetString(ParamCodeChallenge) }

// CodeChallengeMethod returns the code_challenge_method parameter.
func (r *Request) CodeChallengeMethod() string { return r.GetString(ParamCodeChallengeMethod) }

// CodeVerifier returns the code_verifier parameter.
func (r *Request) CodeVerifier() string { return r.GetString(ParamCodeVerifier) }

// GrantType returns the grant_type parameter.
func (r *Request) GrantType() string { return r.GetString(ParamGrantType) }

// IDTokenHint returns the id_token_hint parameter.
func (r *Request) IDTokenHint() string { return r.GetString(ParamIDTokenHint) }

// Nonce returns the nonce parameter.
func (r *Request) Nonce() string { return r.GetString(ParamNonce) }

// Password returns the password parameter.
func (r *Request) Password() string { return r.GetString(ParamPassword) }

// PostLogoutRedirectURI returns the post_logout_redirect_uri parameter.
func (r *Request) PostLogoutRedirectURI() string { return r.GetString(ParamPostLogoutRedirect) }

// Prompt returns the prompt parameter.
func (r *Request) Prompt() string { return r.GetString(ParamPrompt) }

// RedirectURI returns the redirect_uri parameter.
func (r *Request) RedirectURI() string { return r.GetString(ParamRedirectURI) }

// RefreshToken returns the refresh_token parameter.
func (r *Request) RefreshToken() string { return r.GetString(ParamRefreshToken) }

// Resources returns all resource parameters (RFC 8707 allows several).
func (r *Request) Resources() []string {
	p, ok := r.Get(ParamResource)
	if !ok {
		return nil
	}
	return p.Strings()
}

// Audiences returns all audience parameters.
func (r *Request) Audiences() []string {
	p, ok := r.Get(ParamAudience)
	if !ok {
		return nil
	}
	return p.Strings()
}

// ResponseMode returns the response_mode parameter.
func (r *Request) ResponseMode() string { return r.GetString(ParamResponseMode) }

// ResponseType returns the response_type parameter.
func (r *Request) ResponseType() string { return r.GetString(ParamResponseType) }

// Scope returns the raw scope parameter.
func (r *Request) Scope() string { return r.GetString(ParamScope) }

// State returns the state parameter.
func (r *Request) State() string { return r.GetString(ParamState) }

// Token returns the token parameter.
func (r *Request) Token() string { return r.GetString(ParamToken) }

// TokenTypeHint returns the token_type_hint parameter.
func (r *Request) TokenTypeHint() string { return r.GetString(ParamTokenTypeHint) }

// Username returns the username parameter.
func (r *Request) Username() string { return r.GetString(ParamUsername) }

// GetScopes splits the scope parameter on spaces and returns the individual
// scope values, empty entries removed.
func (r *Request) GetScopes() []string {
	return splitSpaceSet(r.Scope())
}

// HasScope reports whether the requested scope set contains scope,
// byte-for-byte.
func (r *Request) HasScope(scope string) bool {
	return slices.Contains(r.GetScopes(), scope)
}

// HasPromptValue reports whether the prompt parameter contains value.
func (r *Request) HasPromptValue(value string) bool {
	return slices.Contains(splitSpaceSet(r.Prompt()), value)
}

// HasResponseType reports whether the response_type parameter contains value.
func (r *Request) HasResponseType(value string) bool {
	return slices.Contains(splitSpaceSet(r.ResponseType()), value)
}

// responseTypeSet returns the response_type values as a sorted set for exact
// flow comparison.
func (r *Request) responseTypeSet() []string {
	set := splitSpaceSet(r.ResponseType())
	slices.Sort(set)
	return slices.Compact(set)
}

// IsAuthorizationCodeFlow reports whether the request uses the authorization
// code flow (response_type is exactly "code").
func (r *Request) IsAuthorizationCodeFlow() bool {
	return slices.Equal(r.responseTypeSet(), []string{ResponseTypeCode})
}

// IsImplicitFlow reports whether the request uses the implicit flow
// (response_type is "id_token", "token", or "id_token token", per OIDC Core
// and the OAuth 2.0 multiple response types specification).
func (r *Request) IsImplicitFlow() bool {
	set := r.responseTypeSet()
	switch {
	case slices.Equal(set, []string{ResponseTypeIDToken}):
		return true
	case slices.Equal(set, []string{ResponseTypeToken}):
		return true
	case slices.Equal(set, []string{ResponseTypeIDToken, ResponseTypeToken}):
		return true
	default:
		return false
	}
}

// IsHybridFlow reports whether the request uses the hybrid flow
// (response_type contains "code" plus "id_token" and/or "token").
func (r *Request) IsHybridFlow() bool {
	set := r.responseTypeSet()
	switch {
	case slices.Equal(set, []string{ResponseTypeCode, ResponseTypeIDToken}):
		return true
	case slices.Equal(set, []string{ResponseTypeCode, ResponseTypeToken}):
		return true
	case slices.Equal(set, []string{ResponseTypeCode, ResponseTypeIDToken, ResponseTypeToken}):
		return true
	default:
		return false
	}
}

// IsAuthorizationCodeGrantType reports whether grant_type is
// authorization_code.
func (r *Request) IsAuthorizationCodeGrantType() bool {
	return r.GrantType() == GrantTypeAuthorizationCode
}

// IsClientCredentialsGrantType reports whether grant_type is
// client_credentials.
func (r *Request) IsClientCredentialsGrantType() bool {
	return r.GrantType() == GrantTypeClientCredentials
}

// IsDeviceCodeGrantType reports whether grant_type is the device code grant.
func (r *Request) IsDeviceCodeGrantType() bool {
	return r.GrantType() == GrantTypeDeviceCode
}

// IsPasswordGrantType reports whether grant_type is password.
func (r *Request) IsPasswordGrantType() bool {
	return r.GrantType() == GrantTypePassword
}

// IsRefreshTokenGrantType reports whether grant_type is refresh_token.
func (r *Request) IsRefreshTokenGrantType() bool {
	return r.GrantType() == GrantTypeRefreshToken
}

// IsQueryResponseMode reports whether response_mode is query.
func (r *Request) IsQueryResponseMode() bool {
	return r.ResponseMode() == ResponseModeQuery
}

// IsFragmentResponseMode reports whether response_mode is fragment.
func (r *Request) IsFragmentResponseMode() bool {
	return r.ResponseMode() == ResponseModeFragment
}

// IsFormPostResponseMode reports whether response_mode is form_post.
func (r *Request) IsFormPostResponseMode() bool {
	return r.ResponseMode() == ResponseModeFormPost
}

// splitSpaceSet splits a space-separated parameter into its values,
// discarding empty entries produced by repeated separators.
func splitSpaceSet(value string) []string {
	if value == "" {
		return nil
	}
	fields := strings.Split(value, " ")
	return slices.DeleteFunc(fields, func(s string) bool { return s == "" })
}
