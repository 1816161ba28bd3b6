// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package message

// Response is a protocol response message with typed accessors for the
// standard OAuth 2.0 / OpenID Connect response parameters.
type Response struct {
	Message
}

// NewResponse returns an empty response.
func NewResponse() *Response {
	return &Response{Message: *NewMessage()}
}

// Error returns the error parameter.
func (r *Response) Error() string { return r.GetString(ParamError) }

// ErrorDescription returns the error_description parameter.
func (r *Response) ErrorDescription() string { return r.GetString(ParamErrorDescription) }

// ErrorURI returns the error_uri parameter.
func (r *Response) ErrorURI() string { return r.GetString(ParamErrorURI) }

// AccessToken returns the access_token parameter.
func (r *Response) AccessToken() string { return r.GetString(ParamAccessToken) }

// TokenType returns the token_type parameter.
func (r *Response) TokenType() string { return r.GetString(ParamTokenType) }

// ExpiresIn returns the expires_in parameter.
func (r *Response) ExpiresIn() int64 {
	p, ok := r.Get(ParamExpiresIn)
	if !ok {
		return 0
	}
	return p.Int64()
}

// RefreshToken returns the refresh_token parameter.
func (r *Response) RefreshToken() string { return r.GetString(ParamRefreshToken) }

// IDToken returns the id_token parameter.
func (r *Response) IDToken() string { return r.GetString(ParamIDToken) }

// Code returns the code parameter.
func (r *Response) Code() string { return r.GetString(ParamCode) }

// State returns the state parameter.
func (r *Response) State() string { return r.GetString(ParamState) }

// Scope returns the scope parameter.
func (r *Response) Scope() string { return r.GetString(ParamScope) }

// Active returns the active parameter (introspection responses).
func (r *Response) Active() bool {
	p, ok := r.Get(ParamActive)
	return ok && p.Bool()
}

// SetError populates the error, error_description and error_uri parameters.
// Empty description and uri values are omitted from the response.
func (r *Response) SetError(code, description, uri string) {
	r.Set(ParamError, StringParameter(code))
	r.Set(ParamErrorDescription, StringParameter(description))
	r.Set(ParamErrorURI, StringParameter(uri))
}
