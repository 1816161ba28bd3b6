// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/khandakerakash/openiddict-core/pkg/keys"
	"github.com/khandakerakash/openiddict-core/pkg/managers"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
	"github.com/khandakerakash/openiddict-core/pkg/token"
)

// testEnv bundles a fully wired server over a memory store.
type testEnv struct {
	srv  *server.Server
	mgrs *server.Managers
}

// subjectClaims are the OIDC claims the test consent handler attaches.
var subjectClaims = map[string]any{
	"name":         "Alice Cooper",
	"email":        "alice@example.com",
	"phone_number": "+15550100",
}

func defaultOptions() *server.Options {
	return &server.Options{
		Issuer:                       "https://auth.test",
		EnableAuthorizationCodeFlow:  true,
		EnableImplicitFlow:           true,
		EnableHybridFlow:             true,
		EnableRefreshTokenGrant:      true,
		EnableClientCredentialsGrant: true,
		EnableTokenEndpoint:          true,
		EnableIntrospectionEndpoint:  true,
		EnableRevocationEndpoint:     true,
		EnableUserinfoEndpoint:       true,
		EnableLogoutEndpoint:         true,
	}
}

// approveHandler stands in for the host's consent pipeline: it grants every
// validated request for the subject "alice".
func approveHandler() events.Descriptor[*server.HandleAuthorizationRequestContext] {
	return events.Descriptor[*server.HandleAuthorizationRequestContext]{
		Name:  "test-approve",
		Order: 1000,
		Factory: func() events.Handler[*server.HandleAuthorizationRequestContext] {
			return events.HandlerFunc[*server.HandleAuthorizationRequestContext](
				func(_ context.Context, evt *server.HandleAuthorizationRequestContext) error {
					evt.Principal = &server.Principal{
						Subject: "alice",
						Scopes:  evt.Request().GetScopes(),
						Claims:  subjectClaims,
					}
					return nil
				})
		},
	}
}

func newEnv(t *testing.T, mutate func(*server.Options)) *testEnv {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore(store.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	mgrOpts := managers.Options{}
	mgrs := &server.Managers{
		Applications:   managers.NewApplicationManager(st.Applications(), mgrOpts),
		Authorizations: managers.NewAuthorizationManager(st.Authorizations(), st.Tokens(), mgrOpts),
		Tokens:         managers.NewTokenManager(st.Tokens(), mgrOpts),
		Scopes:         managers.NewScopeManager(st.Scopes(), mgrOpts),
	}

	fullPermissions := []string{
		store.PermissionEndpointAuthorization,
		store.PermissionEndpointToken,
		store.PermissionEndpointIntrospection,
		store.PermissionEndpointRevocation,
		store.PermissionEndpointLogout,
		store.PermissionGrantTypeAuthorizationCode,
		store.PermissionGrantTypeRefreshToken,
		store.PermissionGrantTypeClientCredentials,
		store.PermissionGrantTypeImplicit,
		store.PermissionResponseTypeCode,
		store.PermissionResponseTypeIDToken,
		store.PermissionResponseTypeToken,
		store.PermissionPrefixScope + "profile",
		store.PermissionPrefixScope + "email",
	}

	_, err := mgrs.Applications.Create(ctx, &managers.ApplicationDescriptor{
		ClientID:               "c1",
		ClientSecret:           "s3cret",
		ClientType:             store.ClientTypeConfidential,
		ConsentType:            store.ConsentTypeExplicit,
		RedirectURIs:           []string{"https://app/cb"},
		PostLogoutRedirectURIs: []string{"https://app/signed-out"},
		Permissions:            fullPermissions,
	})
	require.NoError(t, err)

	_, err = mgrs.Applications.Create(ctx, &managers.ApplicationDescriptor{
		ClientID:     "spa",
		ClientType:   store.ClientTypePublic,
		ConsentType:  store.ConsentTypeImplicit,
		RedirectURIs: []string{"https://spa/cb"},
		Permissions:  fullPermissions,
	})
	require.NoError(t, err)

	for _, name := range []string{"profile", "email"} {
		_, err := mgrs.Scopes.Create(ctx, &managers.ScopeDescriptor{Name: name})
		require.NoError(t, err)
	}

	opts := defaultOptions()
	if mutate != nil {
		mutate(opts)
	}

	keyProvider, err := keys.NewGeneratedProvider()
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		Options:               opts,
		Managers:              mgrs,
		Serializer:            token.NewSerializer(keyProvider),
		JWKS:                  keys.NewJWKS(keyProvider),
		AuthorizationHandlers: []events.Descriptor[*server.HandleAuthorizationRequestContext]{approveHandler()},
	})
	require.NoError(t, err)

	return &testEnv{srv: srv, mgrs: mgrs}
}

// run dispatches a request through the pipeline for the given endpoint.
func (e *testEnv) run(t *testing.T, endpoint server.EndpointType, values url.Values) *server.Transaction {
	t.Helper()
	tx := e.srv.NewTransaction(endpoint)
	tx.Request = message.RequestFromValues(values)
	require.NoError(t, e.srv.ProcessRequest(context.Background(), tx))
	return tx
}

// authorizeValues is a well-formed authorization code flow request with
// PKCE.
func authorizeValues(verifier string) url.Values {
	return url.Values{
		"client_id":             {"c1"},
		"response_type":         {"code"},
		"redirect_uri":          {"https://app/cb"},
		"scope":                 {"openid profile"},
		"state":                 {"xyz"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	}
}

func TestAuthorizationCodeFlowHappyPath(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	tx := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))

	require.Empty(t, tx.Response.Error(), tx.Response.ErrorDescription())
	assert.Equal(t, "https://app/cb", tx.StringProperty(server.PropertyValidatedRedirectURI))
	assert.Equal(t, message.ResponseModeQuery, tx.StringProperty(server.PropertyResponseMode))
	assert.NotEmpty(t, tx.Response.Code())
	assert.Equal(t, "xyz", tx.Response.State())

	// A permanent authorization was persisted for (alice, c1).
	var authorizations []*store.Authorization
	for authz, err := range env.mgrs.Authorizations.Find(ctx, store.AuthorizationFilter{Subject: "alice"}) {
		require.NoError(t, err)
		authorizations = append(authorizations, authz)
	}
	require.Len(t, authorizations, 1)
	assert.Equal(t, store.AuthorizationStatusValid, authorizations[0].Status)
	assert.True(t, env.mgrs.Authorizations.IsPermanent(authorizations[0]))
	assert.ElementsMatch(t, []string{"openid", "profile"}, authorizations[0].Scopes)

	// The persisted code expires within five minutes.
	code, err := env.mgrs.Tokens.FindByReferenceID(ctx, tx.Response.Code())
	require.NoError(t, err)
	assert.Equal(t, store.TokenTypeAuthorizationCode, code.Type)
	assert.Equal(t, store.TokenStatusValid, code.Status)
	assert.LessOrEqual(t, time.Until(code.ExpirationDate), 5*time.Minute)
}

func TestAuthorizationValidationErrors(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	base := func() url.Values { return authorizeValues(oauth2.GenerateVerifier()) }

	tests := []struct {
		name      string
		mutate    func(url.Values)
		wantError string
	}{
		{
			name:      "request parameter",
			mutate:    func(v url.Values) { v.Set("request", "jwt") },
			wantError: message.ErrorRequestNotSupported,
		},
		{
			name:      "request_uri parameter",
			mutate:    func(v url.Values) { v.Set("request_uri", "https://rp/jar") },
			wantError: message.ErrorRequestURINotSupported,
		},
		{
			name:      "missing client_id",
			mutate:    func(v url.Values) { v.Del("client_id") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "missing redirect_uri with openid scope",
			mutate:    func(v url.Values) { v.Del("redirect_uri") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "relative redirect_uri",
			mutate:    func(v url.Values) { v.Set("redirect_uri", "/callback") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "redirect_uri with fragment",
			mutate:    func(v url.Values) { v.Set("redirect_uri", "https://app/cb#frag") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "missing response_type",
			mutate:    func(v url.Values) { v.Del("response_type") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name: "id_token without openid scope",
			mutate: func(v url.Values) {
				v.Set("response_type", "id_token")
				v.Set("scope", "profile")
				v.Set("nonce", "n-1")
			},
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "unknown response_type",
			mutate:    func(v url.Values) { v.Set("response_type", "proprietary") },
			wantError: message.ErrorUnsupportedResponseType,
		},
		{
			name: "query response mode with tokens",
			mutate: func(v url.Values) {
				v.Set("client_id", "spa")
				v.Set("redirect_uri", "https://spa/cb")
				v.Set("response_type", "id_token token")
				v.Set("response_mode", "query")
				v.Set("nonce", "n-1")
				v.Del("code_challenge")
				v.Del("code_challenge_method")
			},
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "unknown response mode",
			mutate:    func(v url.Values) { v.Set("response_mode", "web_message") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name: "implicit without nonce",
			mutate: func(v url.Values) {
				v.Set("client_id", "spa")
				v.Set("redirect_uri", "https://spa/cb")
				v.Set("response_type", "id_token")
				v.Del("code_challenge")
				v.Del("code_challenge_method")
			},
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "prompt none with login",
			mutate:    func(v url.Values) { v.Set("prompt", "none login") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name: "pkce method without challenge",
			mutate: func(v url.Values) {
				v.Del("code_challenge")
			},
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "pkce with unknown method",
			mutate:    func(v url.Values) { v.Set("code_challenge_method", "S512") },
			wantError: message.ErrorInvalidRequest,
		},
		{
			name:      "unregistered scope",
			mutate:    func(v url.Values) { v.Set("scope", "openid bogus") },
			wantError: message.ErrorInvalidScope,
		},
		{
			name:      "unknown client",
			mutate:    func(v url.Values) { v.Set("client_id", "ghost") },
			wantError: message.ErrorInvalidClient,
		},
		{
			name: "confidential client requesting token response type",
			mutate: func(v url.Values) {
				v.Set("response_type", "code token")
				v.Set("nonce", "n-1")
				v.Del("code_challenge")
				v.Del("code_challenge_method")
			},
			wantError: message.ErrorUnauthorizedClient,
		},
		{
			name:      "unregistered redirect_uri",
			mutate:    func(v url.Values) { v.Set("redirect_uri", "https://evil/cb") },
			wantError: message.ErrorInvalidRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			values := base()
			tc.mutate(values)
			tx := env.run(t, server.EndpointAuthorization, values)
			assert.Equal(t, tc.wantError, tx.Response.Error())
		})
	}
}

func TestAuthorizationScopeDenialRedirects(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	values := authorizeValues(oauth2.GenerateVerifier())
	values.Set("scope", "openid bogus")
	tx := env.run(t, server.EndpointAuthorization, values)

	assert.Equal(t, message.ErrorInvalidScope, tx.Response.Error())
	assert.Equal(t, "https://app/cb", tx.StringProperty(server.PropertyValidatedRedirectURI),
		"scope errors travel back via redirect")
	assert.Equal(t, "xyz", tx.Response.State(), "state is echoed on error responses")
}

func TestAuthorizationDisabledFlow(t *testing.T) {
	t.Parallel()
	env := newEnv(t, func(o *server.Options) {
		o.EnableImplicitFlow = false
	})

	values := url.Values{
		"client_id":     {"spa"},
		"redirect_uri":  {"https://spa/cb"},
		"response_type": {"id_token"},
		"scope":         {"openid"},
		"nonce":         {"n-1"},
	}
	tx := env.run(t, server.EndpointAuthorization, values)
	assert.Equal(t, message.ErrorUnsupportedResponseType, tx.Response.Error())
}

// exchangeCode runs the token endpoint for a previously issued code.
func (e *testEnv) exchangeCode(t *testing.T, code, verifier string) *server.Transaction {
	t.Helper()
	return e.run(t, server.EndpointToken, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
		"code_verifier": {verifier},
	})
}

func TestCodeExchangeHappyPath(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authz := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))
	require.Empty(t, authz.Response.Error())

	tx := env.exchangeCode(t, authz.Response.Code(), verifier)
	require.Empty(t, tx.Response.Error(), tx.Response.ErrorDescription())

	assert.NotEmpty(t, tx.Response.AccessToken())
	assert.Equal(t, "Bearer", tx.Response.TokenType())
	assert.Positive(t, tx.Response.ExpiresIn())
	assert.NotEmpty(t, tx.Response.RefreshToken())
	assert.NotEmpty(t, tx.Response.IDToken())

	// The code transitioned to redeemed.
	code, err := env.mgrs.Tokens.FindByReferenceID(ctx, authz.Response.Code())
	require.NoError(t, err)
	assert.Equal(t, store.TokenStatusRedeemed, code.Status)
}

func TestCodeReplayYieldsInvalidGrant(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	verifier := oauth2.GenerateVerifier()
	authz := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))
	require.Empty(t, authz.Response.Error())
	code := authz.Response.Code()

	first := env.exchangeCode(t, code, verifier)
	require.Empty(t, first.Response.Error())

	second := env.exchangeCode(t, code, verifier)
	assert.Equal(t, message.ErrorInvalidGrant, second.Response.Error(),
		"redeem-twice yields exactly one success and one invalid_grant")
}

func TestCodeExchangeValidation(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	newCode := func(t *testing.T) (string, string) {
		verifier := oauth2.GenerateVerifier()
		authz := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))
		require.Empty(t, authz.Response.Error())
		return authz.Response.Code(), verifier
	}

	t.Run("wrong verifier", func(t *testing.T) {
		t.Parallel()
		code, _ := newCode(t)
		tx := env.exchangeCode(t, code, oauth2.GenerateVerifier())
		assert.Equal(t, message.ErrorInvalidGrant, tx.Response.Error())
	})

	t.Run("missing verifier", func(t *testing.T) {
		t.Parallel()
		code, _ := newCode(t)
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {"https://app/cb"},
			"client_id":     {"c1"},
			"client_secret": {"s3cret"},
		})
		assert.Equal(t, message.ErrorInvalidGrant, tx.Response.Error())
	})

	t.Run("mismatched redirect_uri", func(t *testing.T) {
		t.Parallel()
		code, verifier := newCode(t)
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {"https://other/cb"},
			"client_id":     {"c1"},
			"client_secret": {"s3cret"},
			"code_verifier": {verifier},
		})
		assert.Equal(t, message.ErrorInvalidGrant, tx.Response.Error())
	})

	t.Run("wrong client", func(t *testing.T) {
		t.Parallel()
		code, verifier := newCode(t)
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {"https://app/cb"},
			"client_id":     {"spa"},
			"code_verifier": {verifier},
		})
		assert.Equal(t, message.ErrorInvalidGrant, tx.Response.Error())
	})

	t.Run("unknown code", func(t *testing.T) {
		t.Parallel()
		tx := env.exchangeCode(t, "not-a-code", oauth2.GenerateVerifier())
		assert.Equal(t, message.ErrorInvalidGrant, tx.Response.Error())
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		code, verifier := newCode(t)
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {"https://app/cb"},
			"client_id":     {"c1"},
			"client_secret": {"wrong"},
			"code_verifier": {verifier},
		})
		assert.Equal(t, message.ErrorInvalidClient, tx.Response.Error())
	})

	t.Run("missing secret for confidential client", func(t *testing.T) {
		t.Parallel()
		code, verifier := newCode(t)
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {"https://app/cb"},
			"client_id":     {"c1"},
			"code_verifier": {verifier},
		})
		assert.Equal(t, message.ErrorInvalidClient, tx.Response.Error())
	})
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	verifier := oauth2.GenerateVerifier()
	authz := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))
	exchange := env.exchangeCode(t, authz.Response.Code(), verifier)
	require.Empty(t, exchange.Response.Error())
	refreshToken := exchange.Response.RefreshToken()

	refresh := env.run(t, server.EndpointToken, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})
	require.Empty(t, refresh.Response.Error(), refresh.Response.ErrorDescription())
	assert.NotEmpty(t, refresh.Response.AccessToken())
	assert.NotEmpty(t, refresh.Response.RefreshToken())
	assert.NotEqual(t, refreshToken, refresh.Response.RefreshToken(), "refresh tokens rotate")

	// The old refresh token cannot be replayed.
	replay := env.run(t, server.EndpointToken, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})
	assert.Equal(t, message.ErrorInvalidGrant, replay.Response.Error())
}

func TestRefreshTokenScopeNarrowing(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	verifier := oauth2.GenerateVerifier()
	authz := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))
	exchange := env.exchangeCode(t, authz.Response.Code(), verifier)
	require.Empty(t, exchange.Response.Error())

	widened := env.run(t, server.EndpointToken, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {exchange.Response.RefreshToken()},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
		"scope":         {"openid profile email"},
	})
	assert.Equal(t, message.ErrorInvalidScope, widened.Response.Error(),
		"a refresh may not widen the granted scope")
}

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	tx := env.run(t, server.EndpointToken, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})
	require.Empty(t, tx.Response.Error(), tx.Response.ErrorDescription())
	assert.NotEmpty(t, tx.Response.AccessToken())
	assert.Empty(t, tx.Response.RefreshToken(), "client_credentials gets no refresh token")
}

func TestTokenEndpointGrantGates(t *testing.T) {
	t.Parallel()
	env := newEnv(t, func(o *server.Options) {
		o.EnablePasswordGrant = false
	})

	t.Run("missing grant_type", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointToken, url.Values{"client_id": {"c1"}})
		assert.Equal(t, message.ErrorInvalidRequest, tx.Response.Error())
	})

	t.Run("unknown grant_type", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type": {"urn:custom"}, "client_id": {"c1"},
		})
		assert.Equal(t, message.ErrorUnsupportedGrantType, tx.Response.Error())
	})

	t.Run("disabled grant", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type": {"password"}, "username": {"u"}, "password": {"p"}, "client_id": {"c1"},
		})
		assert.Equal(t, message.ErrorUnsupportedGrantType, tx.Response.Error())
	})

	t.Run("public client sending a secret", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointToken, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"spa"},
			"client_secret": {"should-not-be-here"},
		})
		assert.Equal(t, message.ErrorInvalidRequest, tx.Response.Error())
	})
}

// issueTokens drives a full code flow and returns the exchange response.
func issueTokens(t *testing.T, env *testEnv) *server.Transaction {
	t.Helper()
	verifier := oauth2.GenerateVerifier()
	authz := env.run(t, server.EndpointAuthorization, authorizeValues(verifier))
	require.Empty(t, authz.Response.Error())
	exchange := env.exchangeCode(t, authz.Response.Code(), verifier)
	require.Empty(t, exchange.Response.Error())
	return exchange
}

func TestIntrospection(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	exchange := issueTokens(t, env)

	t.Run("valid access token is active", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointIntrospection, url.Values{
			"token":         {exchange.Response.AccessToken()},
			"client_id":     {"c1"},
			"client_secret": {"s3cret"},
		})
		require.Empty(t, tx.Response.Error())
		assert.True(t, tx.Response.Active())
		assert.Equal(t, "alice", tx.Response.GetString("sub"))
	})

	t.Run("unknown token is inactive", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointIntrospection, url.Values{
			"token":         {"garbage"},
			"client_id":     {"c1"},
			"client_secret": {"s3cret"},
		})
		require.Empty(t, tx.Response.Error())
		assert.False(t, tx.Response.Active())
		assert.False(t, tx.Response.Has("sub"), "inactive responses carry active=false only")
	})

	t.Run("public client is rejected", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointIntrospection, url.Values{
			"token":     {exchange.Response.AccessToken()},
			"client_id": {"spa"},
		})
		assert.Equal(t, message.ErrorUnauthorizedClient, tx.Response.Error())
	})
}

func TestIntrospectionOfRevokedToken(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	exchange := issueTokens(t, env)
	refreshToken := exchange.Response.RefreshToken()

	revoke := env.run(t, server.EndpointRevocation, url.Values{
		"token":         {refreshToken},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})
	require.Empty(t, revoke.Response.Error())

	tx := env.run(t, server.EndpointIntrospection, url.Values{
		"token":         {refreshToken},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})
	require.Empty(t, tx.Response.Error())
	assert.False(t, tx.Response.Active())
	assert.False(t, tx.Response.Has("sub"))
	assert.False(t, tx.Response.Has("scope"))
}

func TestRevocationCascadesAndStaysIdempotent(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	ctx := context.Background()
	exchange := issueTokens(t, env)
	refreshToken := exchange.Response.RefreshToken()

	revoke := func() *server.Transaction {
		return env.run(t, server.EndpointRevocation, url.Values{
			"token":         {refreshToken},
			"client_id":     {"c1"},
			"client_secret": {"s3cret"},
		})
	}

	require.Empty(t, revoke().Response.Error())

	// The cascade reached the access tokens issued under the same
	// authorization.
	entity, err := env.mgrs.Tokens.FindByReferenceID(ctx, refreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, entity.AuthorizationID)
	for token, err := range env.mgrs.Tokens.FindByAuthorizationID(ctx, entity.AuthorizationID) {
		require.NoError(t, err)
		if token.Type == store.TokenTypeAccessToken || token.Type == store.TokenTypeRefreshToken {
			assert.Equal(t, store.TokenStatusRevoked, token.Status)
		}
	}

	// Revoking again succeeds without complaint.
	require.Empty(t, revoke().Response.Error())

	// Revoking a token owned by another client is refused.
	other := env.run(t, server.EndpointRevocation, url.Values{
		"token":     {refreshToken},
		"client_id": {"spa"},
	})
	assert.Equal(t, message.ErrorInvalidGrant, other.Response.Error())
}

func TestUserinfoClaimsFollowScopes(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	exchange := issueTokens(t, env) // scopes: openid profile

	tx := env.run(t, server.EndpointUserinfo, url.Values{
		"access_token": {exchange.Response.AccessToken()},
	})
	require.Empty(t, tx.Response.Error(), tx.Response.ErrorDescription())

	assert.Equal(t, "alice", tx.Response.GetString("sub"))
	assert.Equal(t, "Alice Cooper", tx.Response.GetString("name"), "profile scope releases name")
	assert.False(t, tx.Response.Has("email"), "email scope was not granted")
	assert.False(t, tx.Response.Has("phone_number"), "phone scope was not granted")
}

func TestUserinfoRejectsMissingAndBogusTokens(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	missing := env.run(t, server.EndpointUserinfo, url.Values{})
	assert.Equal(t, message.ErrorInvalidRequest, missing.Response.Error())

	bogus := env.run(t, server.EndpointUserinfo, url.Values{
		"access_token": {"not-a-token"},
	})
	assert.Equal(t, message.ErrorInvalidGrant, bogus.Response.Error())
}

func TestLogout(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	t.Run("unregistered post_logout_redirect_uri", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointLogout, url.Values{
			"post_logout_redirect_uri": {"https://evil/"},
		})
		assert.Equal(t, message.ErrorInvalidRequest, tx.Response.Error())
		assert.Empty(t, tx.StringProperty(server.PropertyValidatedPostLogoutRedirectURI))
	})

	t.Run("registered target with state echo", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointLogout, url.Values{
			"post_logout_redirect_uri": {"https://app/signed-out"},
			"state":                    {"after-logout"},
		})
		require.Empty(t, tx.Response.Error())
		assert.Equal(t, "https://app/signed-out",
			tx.StringProperty(server.PropertyValidatedPostLogoutRedirectURI))
		assert.Equal(t, "after-logout", tx.Response.State())
	})

	t.Run("no redirect requested", func(t *testing.T) {
		t.Parallel()
		tx := env.run(t, server.EndpointLogout, url.Values{})
		assert.Empty(t, tx.Response.Error())
	})
}

func TestDiscoveryDocument(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	tx := env.run(t, server.EndpointConfiguration, url.Values{})
	require.Empty(t, tx.Response.Error())

	assert.Equal(t, "https://auth.test", tx.Response.GetString("issuer"))
	assert.Equal(t, "https://auth.test/connect/authorize", tx.Response.GetString("authorization_endpoint"))
	assert.Equal(t, "https://auth.test/connect/token", tx.Response.GetString("token_endpoint"))
	assert.Equal(t, "https://auth.test/.well-known/jwks", tx.Response.GetString("jwks_uri"))

	modes, ok := tx.Response.Get("response_modes_supported")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"query", "fragment", "form_post"}, modes.Strings())

	grants, ok := tx.Response.Get("grant_types_supported")
	require.True(t, ok)
	assert.Contains(t, grants.Strings(), "authorization_code")

	scopes, ok := tx.Response.Get("scopes_supported")
	require.True(t, ok)
	assert.Contains(t, scopes.Strings(), "profile")
}

func TestJWKSDocument(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	tx := env.run(t, server.EndpointCryptography, url.Values{})
	require.Empty(t, tx.Response.Error())

	keysParam, ok := tx.Response.Get("keys")
	require.True(t, ok)
	raw, err := keysParam.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kty"`)
	assert.Contains(t, string(raw), `"kid"`)
}

func TestUserinfoSignedResponse(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)
	ctx := context.Background()

	// Switch c1 to signed userinfo responses.
	app, err := env.mgrs.Applications.FindByClientID(ctx, "c1")
	require.NoError(t, err)
	if app.Properties == nil {
		app.Properties = make(map[string]string)
	}
	app.Properties[server.ApplicationPropertySignedUserinfoAlg] = "ES256"
	require.NoError(t, env.mgrs.Applications.Update(ctx, app))

	exchange := issueTokens(t, env)
	tx := env.run(t, server.EndpointUserinfo, url.Values{
		"access_token": {exchange.Response.AccessToken()},
	})
	require.Empty(t, tx.Response.Error())

	signed := tx.StringProperty(server.PropertySignedUserinfo)
	require.NotEmpty(t, signed, "registered clients receive a signed userinfo document")
	assert.Equal(t, 2, strings.Count(signed, "."), "the signed form is a compact JWT")
}

func TestImplicitFlowIssuesTokensDirectly(t *testing.T) {
	t.Parallel()
	env := newEnv(t, nil)

	tx := env.run(t, server.EndpointAuthorization, url.Values{
		"client_id":     {"spa"},
		"redirect_uri":  {"https://spa/cb"},
		"response_type": {"id_token token"},
		"scope":         {"openid profile"},
		"nonce":         {"n-1"},
		"state":         {"st"},
	})
	require.Empty(t, tx.Response.Error(), tx.Response.ErrorDescription())

	assert.NotEmpty(t, tx.Response.AccessToken())
	assert.NotEmpty(t, tx.Response.IDToken())
	assert.Empty(t, tx.Response.Code())
	assert.Equal(t, message.ResponseModeFragment, tx.StringProperty(server.PropertyResponseMode),
		"token-bearing responses default to the fragment response mode")
}
