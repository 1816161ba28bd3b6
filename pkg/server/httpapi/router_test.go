// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/khandakerakash/openiddict-core/pkg/keys"
	"github.com/khandakerakash/openiddict-core/pkg/managers"
	"github.com/khandakerakash/openiddict-core/pkg/server"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
	"github.com/khandakerakash/openiddict-core/pkg/token"
)

// newTestServer wires a complete server over a memory store and serves it
// through httptest.
func newTestServer(t *testing.T, issuer string) *httptest.Server {
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

	_, err := mgrs.Applications.Create(ctx, &managers.ApplicationDescriptor{
		ClientID:               "c1",
		ClientSecret:           "s3cret",
		ClientType:             store.ClientTypeConfidential,
		ConsentType:            store.ConsentTypeExplicit,
		RedirectURIs:           []string{"https://app/cb"},
		PostLogoutRedirectURIs: []string{"https://app/signed-out"},
		Permissions: []string{
			store.PermissionEndpointAuthorization,
			store.PermissionEndpointToken,
			store.PermissionEndpointIntrospection,
			store.PermissionEndpointRevocation,
			store.PermissionEndpointLogout,
			store.PermissionGrantTypeAuthorizationCode,
			store.PermissionGrantTypeRefreshToken,
			store.PermissionResponseTypeCode,
			store.PermissionPrefixScope + "profile",
		},
	})
	require.NoError(t, err)

	_, err = mgrs.Scopes.Create(ctx, &managers.ScopeDescriptor{Name: "profile"})
	require.NoError(t, err)

	keyProvider, err := keys.NewGeneratedProvider()
	require.NoError(t, err)

	approve := events.Descriptor[*server.HandleAuthorizationRequestContext]{
		Name:  "test-approve",
		Order: 1000,
		Factory: func() events.Handler[*server.HandleAuthorizationRequestContext] {
			return events.HandlerFunc[*server.HandleAuthorizationRequestContext](
				func(_ context.Context, evt *server.HandleAuthorizationRequestContext) error {
					evt.Principal = &server.Principal{
						Subject: "alice",
						Scopes:  evt.Request().GetScopes(),
						Claims:  map[string]any{"name": "Alice Cooper"},
					}
					return nil
				})
		},
	}

	srv, err := server.New(server.Config{
		Options: &server.Options{
			Issuer:                      issuer,
			EnableAuthorizationCodeFlow: true,
			EnableRefreshTokenGrant:     true,
			EnableTokenEndpoint:         true,
			EnableIntrospectionEndpoint: true,
			EnableRevocationEndpoint:    true,
			EnableUserinfoEndpoint:      true,
			EnableLogoutEndpoint:        true,
		},
		Managers:              mgrs,
		Serializer:            token.NewSerializer(keyProvider),
		JWKS:                  keys.NewJWKS(keyProvider),
		AuthorizationHandlers: []events.Descriptor[*server.HandleAuthorizationRequestContext]{approve},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(NewRouter(srv).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// noRedirectClient returns redirect responses instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestAuthorizationCodeFlowOverHTTP(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "https://auth.test")
	client := noRedirectClient()

	verifier := oauth2.GenerateVerifier()
	authorizeURL := ts.URL + server.PathAuthorization + "?" + url.Values{
		"client_id":             {"c1"},
		"response_type":         {"code"},
		"redirect_uri":          {"https://app/cb"},
		"scope":                 {"openid profile"},
		"state":                 {"xyz"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	}.Encode()

	resp, err := client.Get(authorizeURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app", location.Host)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", location.Query().Get("state"))

	// Exchange the code.
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
		"code_verifier": {verifier},
	}
	resp, err = client.PostForm(ts.URL+server.PathToken, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var tokens struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Positive(t, tokens.ExpiresIn)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEmpty(t, tokens.IDToken)

	// Replaying the code fails with invalid_grant and HTTP 400.
	resp, err = client.PostForm(ts.URL+server.PathToken, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var failure struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	assert.Equal(t, "invalid_grant", failure.Error)

	// The access token answers userinfo.
	req, err := http.NewRequest(http.MethodGet, ts.URL+server.PathUserinfo, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var userinfo map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&userinfo))
	assert.Equal(t, "alice", userinfo["sub"])
	assert.Equal(t, "Alice Cooper", userinfo["name"])

	// Revocation always answers 200 with an empty body.
	resp, err = client.PostForm(ts.URL+server.PathRevocation, url.Values{
		"token":         {tokens.RefreshToken},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthorizationErrorWithoutValidRedirectIsRenderedLocally(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "https://auth.test")
	client := noRedirectClient()

	resp, err := client.Get(ts.URL + server.PathAuthorization + "?" + url.Values{
		"client_id":     {"c1"},
		"response_type": {"code"},
		"redirect_uri":  {"https://evil/cb"},
		"scope":         {"openid"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode,
		"an unregistered redirect_uri must never receive a redirect")

	var failure struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failure))
	assert.Equal(t, "invalid_request", failure.Error)
}

func TestClientAuthenticationViaBasicHeader(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "https://auth.test")
	client := noRedirectClient()

	req, err := http.NewRequest(http.MethodPost, ts.URL+server.PathIntrospection,
		strings.NewReader(url.Values{"token": {"unknown"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("c1", "s3cret")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Active bool `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Active)
}

func TestInvalidClientAnswers401(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "https://auth.test")
	client := noRedirectClient()

	resp, err := client.PostForm(ts.URL+server.PathToken, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"whatever"},
		"redirect_uri":  {"https://app/cb"},
		"client_id":     {"c1"},
		"client_secret": {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
}

func TestDiscoveryAndJWKSEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "https://auth.test")

	resp, err := http.Get(ts.URL + server.PathConfiguration)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")

	var discovery map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&discovery))
	assert.Equal(t, "https://auth.test", discovery["issuer"])
	assert.Equal(t, "https://auth.test/connect/token", discovery["token_endpoint"])

	resp, err = http.Get(ts.URL + server.PathJWKS)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwks))
	require.NotEmpty(t, jwks.Keys)
	assert.Equal(t, "EC", jwks.Keys[0]["kty"])
}

func TestIssuerInferenceFromHost(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + server.PathConfiguration)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var discovery map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&discovery))
	assert.Equal(t, ts.URL, discovery["issuer"], "the issuer is inferred from the Host header")
}

func TestLogoutRedirect(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, "https://auth.test")
	client := noRedirectClient()

	resp, err := client.Get(ts.URL + server.PathLogout + "?" + url.Values{
		"post_logout_redirect_uri": {"https://app/signed-out"},
		"state":                    {"bye"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https://app/signed-out?state=bye", location.String())

	// An unregistered target yields an error and no redirect.
	resp, err = client.Get(ts.URL + server.PathLogout + "?" + url.Values{
		"post_logout_redirect_uri": {"https://evil/"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
