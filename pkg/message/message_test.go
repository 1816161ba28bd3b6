// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterJSONRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
		kind ParameterKind
	}{
		{name: "null", json: `null`, kind: KindNull},
		{name: "bool", json: `true`, kind: KindBool},
		{name: "integer", json: `42`, kind: KindInteger},
		{name: "string", json: `"openid profile"`, kind: KindString},
		{name: "string slice", json: `["https://a","https://b"]`, kind: KindStringSlice},
		{name: "object", json: `{"street_address":"1 Main St","locality":"Springfield"}`, kind: KindJSON},
		{name: "mixed array", json: `[1,"two"]`, kind: KindJSON},
		{name: "float", json: `1.5`, kind: KindJSON},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var p Parameter
			require.NoError(t, json.Unmarshal([]byte(tc.json), &p))
			assert.Equal(t, tc.kind, p.Kind())

			out, err := json.Marshal(p)
			require.NoError(t, err)
			assert.JSONEq(t, tc.json, string(out))
		})
	}
}

func TestParameterAccessors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "true", BoolParameter(true).String())
	assert.Equal(t, int64(7), IntParameter(7).Int64())
	assert.Equal(t, int64(7), StringParameter("7").Int64())
	assert.Equal(t, int64(0), StringParameter("not a number").Int64())
	assert.Equal(t, "a", StringsParameter("a", "b").String())
	assert.Equal(t, []string{"a", "b"}, StringsParameter("a", "b").Strings())
	assert.Equal(t, []string{"x"}, StringParameter("x").Strings())
	assert.Nil(t, NullParameter().Strings())

	assert.True(t, NullParameter().IsEmpty())
	assert.True(t, StringParameter("").IsEmpty())
	assert.True(t, StringsParameter().IsEmpty())
	assert.False(t, BoolParameter(false).IsEmpty())
}

func TestMessageOperations(t *testing.T) {
	t.Parallel()

	m := NewMessage()

	assert.True(t, m.Add("state", StringParameter("xyz")))
	assert.False(t, m.Add("state", StringParameter("other")), "add is a no-op when present")
	assert.Equal(t, "xyz", m.GetString("state"))

	m.Set("scope", StringParameter("openid profile"))
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, []string{"state", "scope"}, m.Names())

	// Setting a null parameter removes the name.
	m.Set("scope", NullParameter())
	assert.False(t, m.Has("scope"))
	assert.Equal(t, 1, m.Count())

	m.Remove("state")
	assert.Zero(t, m.Count())
}

func TestMessageCaseSensitivity(t *testing.T) {
	t.Parallel()

	m := NewMessage()
	m.Set("Scope", StringParameter("upper"))
	m.Set("scope", StringParameter("lower"))

	assert.Equal(t, 2, m.Count())
	assert.Equal(t, "upper", m.GetString("Scope"))
	assert.Equal(t, "lower", m.GetString("scope"))
}

func TestMessageJSONPreservesOrder(t *testing.T) {
	t.Parallel()

	m := NewMessage()
	m.Set("b", StringParameter("2"))
	m.Set("a", StringParameter("1"))
	m.Set("c", StringsParameter("x", "y"))

	data, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"b":"2","a":"1","c":["x","y"]}`, string(data))

	decoded := NewMessage()
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, []string{"b", "a", "c"}, decoded.Names())
}

func TestMessageDebugStringRedactsSensitiveParameters(t *testing.T) {
	t.Parallel()

	m := NewMessage()
	m.Set("access_token", StringParameter("secret-token"))
	m.Set("client_secret", StringParameter("hunter2"))
	m.Set("code", StringParameter("authz-code"))
	m.Set("state", StringParameter("visible"))

	out := m.String()
	assert.NotContains(t, out, "secret-token")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "authz-code")
	assert.Contains(t, out, "[redacted]")
	assert.Contains(t, out, "visible")
}

func TestRequestFromValuesMultiValued(t *testing.T) {
	t.Parallel()

	r := RequestFromValues(url.Values{
		"resource": {"https://api.a", "https://api.b"},
		"scope":    {"openid profile"},
	})

	assert.Equal(t, []string{"https://api.a", "https://api.b"}, r.Resources())
	assert.Equal(t, []string{"openid", "profile"}, r.GetScopes())
}

func TestRequestScopeAccessors(t *testing.T) {
	t.Parallel()

	r := NewRequest()
	r.Set(ParamScope, StringParameter("openid  profile"))

	assert.Equal(t, []string{"openid", "profile"}, r.GetScopes(), "repeated separators are dropped")
	assert.True(t, r.HasScope("openid"))
	assert.False(t, r.HasScope("OpenID"), "scope matching is byte-exact")
}

func TestRequestFlowPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		responseType string
		code         bool
		implicit     bool
		hybrid       bool
	}{
		{responseType: "code", code: true},
		{responseType: "id_token", implicit: true},
		{responseType: "token", implicit: true},
		{responseType: "id_token token", implicit: true},
		{responseType: "token id_token", implicit: true},
		{responseType: "code id_token", hybrid: true},
		{responseType: "code token", hybrid: true},
		{responseType: "code id_token token", hybrid: true},
		{responseType: "none"},
		{responseType: "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.responseType, func(t *testing.T) {
			t.Parallel()

			r := NewRequest()
			r.Set(ParamResponseType, StringParameter(tc.responseType))

			assert.Equal(t, tc.code, r.IsAuthorizationCodeFlow())
			assert.Equal(t, tc.implicit, r.IsImplicitFlow())
			assert.Equal(t, tc.hybrid, r.IsHybridFlow())
		})
	}
}

func TestRequestGrantTypeAndResponseModePredicates(t *testing.T) {
	t.Parallel()

	r := NewRequest()
	r.Set(ParamGrantType, StringParameter(GrantTypeAuthorizationCode))
	r.Set(ParamResponseMode, StringParameter(ResponseModeFormPost))

	assert.True(t, r.IsAuthorizationCodeGrantType())
	assert.False(t, r.IsRefreshTokenGrantType())
	assert.True(t, r.IsFormPostResponseMode())
	assert.False(t, r.IsQueryResponseMode())
}

func TestRequestPromptValues(t *testing.T) {
	t.Parallel()

	r := NewRequest()
	r.Set(ParamPrompt, StringParameter("none login"))

	assert.True(t, r.HasPromptValue(PromptNone))
	assert.True(t, r.HasPromptValue(PromptLogin))
	assert.False(t, r.HasPromptValue(PromptConsent))
}

func TestResponseErrorAccessors(t *testing.T) {
	t.Parallel()

	r := NewResponse()
	r.SetError(ErrorInvalidRequest, "missing parameter", "")

	assert.Equal(t, ErrorInvalidRequest, r.Error())
	assert.Equal(t, "missing parameter", r.ErrorDescription())
	assert.Empty(t, r.ErrorURI())
	assert.False(t, r.Has(ParamErrorURI), "empty error_uri is omitted")
}
