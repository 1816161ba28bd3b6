// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the HTTP-host-agnostic protocol core of the
// authorization server: the per-request transaction, the event pipeline and
// the built-in endpoint state machines.
package server

// EndpointType identifies which protocol endpoint a transaction targets.
type EndpointType int

// Endpoint types.
const (
	EndpointUnknown EndpointType = iota
	EndpointAuthorization
	EndpointToken
	EndpointIntrospection
	EndpointRevocation
	EndpointUserinfo
	EndpointLogout
	EndpointConfiguration
	EndpointCryptography
)

// String returns the endpoint name for logs.
func (e EndpointType) String() string {
	switch e {
	case EndpointAuthorization:
		return "authorization"
	case EndpointToken:
		return "token"
	case EndpointIntrospection:
		return "introspection"
	case EndpointRevocation:
		return "revocation"
	case EndpointUserinfo:
		return "userinfo"
	case EndpointLogout:
		return "logout"
	case EndpointConfiguration:
		return "configuration"
	case EndpointCryptography:
		return "cryptography"
	default:
		return "unknown"
	}
}

// Transaction property keys used to convey cross-handler state.
const (
	// PropertyValidatedRedirectURI holds the redirect_uri accepted by the
	// authorization validation pipeline.
	PropertyValidatedRedirectURI = "validated_redirect_uri"

	// PropertyValidatedPostLogoutRedirectURI holds the post-logout redirect
	// target accepted by the logout validation pipeline.
	PropertyValidatedPostLogoutRedirectURI = "validated_post_logout_redirect_uri"

	// PropertyApplication caches the resolved client application for later
	// handlers of the same transaction.
	PropertyApplication = "application"

	// PropertyResponseMode holds the response mode resolved by the
	// apply-response stage (query, fragment, form_post) so the HTTP
	// adapter can render the redirect.
	PropertyResponseMode = "response_mode"

	// PropertySignedUserinfo holds the signed JWT form of the userinfo
	// document for clients registered for signed responses. The adapter
	// serves it verbatim as application/jwt.
	PropertySignedUserinfo = "signed_userinfo"
)

// ApplicationPropertySignedUserinfoAlg is the application property that,
// when set, switches the client's userinfo responses to signed JWTs.
const ApplicationPropertySignedUserinfoAlg = "userinfo_signed_response_alg"

// Built-in handler orders are spaced by 1000 so hosts can insert their own
// handlers between any two defaults.
const orderStep int64 = 1000
