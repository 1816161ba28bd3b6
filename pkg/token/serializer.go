// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package token implements the default token serializer: grants are JWTs
// signed with the server's active signing key. The private token_usage
// claim pins each token to its kind so an access token can never be
// replayed as an authorization code.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/khandakerakash/openiddict-core/pkg/keys"
	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/server"
)

// Private claim names.
const (
	claimAuthorizationID     = "authorization_id"
	claimClientID            = "client_id"
	claimCodeChallenge       = "code_challenge"
	claimCodeChallengeMethod = "code_challenge_method"
	claimNonce               = "nonce"
	claimRedirectURI         = "redirect_uri"
	claimScope               = "scope"
	claimTokenID             = "token_id"
	claimTokenUsage          = "token_usage"
)

// standardClaims are registered or private claims that never flow into
// Principal.Claims on deserialization.
var standardClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "jti": {},
	claimAuthorizationID: {}, claimClientID: {}, claimCodeChallenge: {},
	claimCodeChallengeMethod: {}, claimNonce: {}, claimRedirectURI: {},
	claimScope: {}, claimTokenID: {}, claimTokenUsage: {},
}

// Serializer signs and verifies grant tokens with keys from a provider.
type Serializer struct {
	keys keys.Provider
}

// NewSerializer creates a JWT serializer backed by the key provider.
func NewSerializer(provider keys.Provider) *Serializer {
	return &Serializer{keys: provider}
}

// Serialize renders the principal as a signed JWT of the given kind.
func (s *Serializer) Serialize(ctx context.Context, t *server.Transaction, kind string, principal *server.Principal) (string, error) {
	key, err := s.keys.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve signing key: %w", err)
	}
	method := jwt.GetSigningMethod(key.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", key.Algorithm)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat":           now.Unix(),
		"sub":           principal.Subject,
		claimTokenUsage: kind,
		claimClientID:   principal.ClientID,
	}
	if t.Issuer != "" {
		claims["iss"] = t.Issuer
	}
	if !principal.ExpiresAt.IsZero() {
		claims["exp"] = principal.ExpiresAt.Unix()
	}
	if len(principal.Audiences) > 0 {
		claims["aud"] = principal.Audiences
	}
	if len(principal.Scopes) > 0 {
		claims[claimScope] = strings.Join(principal.Scopes, " ")
	}
	if principal.AuthorizationID != "" {
		claims[claimAuthorizationID] = principal.AuthorizationID
	}
	if principal.TokenID != "" {
		claims[claimTokenID] = principal.TokenID
	}
	if principal.Nonce != "" && (kind == server.SerializedTokenIdentity || kind == server.SerializedTokenAuthorizationCode) {
		claims[claimNonce] = principal.Nonce
	}
	if kind == server.SerializedTokenAuthorizationCode {
		if principal.RedirectURI != "" {
			claims[claimRedirectURI] = principal.RedirectURI
		}
		if principal.CodeChallenge != "" {
			claims[claimCodeChallenge] = principal.CodeChallenge
			claims[claimCodeChallengeMethod] = principal.CodeChallengeMethod
		}
	}
	// The released OIDC claims ride along in every kind: codes and refresh
	// tokens must preserve them so the grants they are exchanged for can
	// still answer userinfo from the token alone.
	for name, value := range principal.Claims {
		if _, reserved := standardClaims[name]; !reserved {
			claims[name] = value
		}
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.Key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", kind, err)
	}
	return signed, nil
}

// Deserialize parses and verifies a JWT, rejecting tokens of another kind.
func (s *Serializer) Deserialize(ctx context.Context, t *server.Transaction, kind string, value string) (*server.Principal, error) {
	publicKeys, err := s.keys.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve verification keys: %w", err)
	}

	var methods []string
	for _, key := range publicKeys {
		methods = append(methods, key.Algorithm)
	}

	keyfunc := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		for _, key := range publicKeys {
			if key.KeyID == kid {
				return key.Key, nil
			}
		}
		return nil, fmt.Errorf("no key matches kid %q", kid)
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if t.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(t.Issuer))
	}

	parsed, err := jwt.Parse(value, keyfunc, parserOptions...)
	if err != nil {
		logger.Debugw("token verification failed", "kind", kind, "error", err)
		return nil, fmt.Errorf("verify %s: %w", kind, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	if usage, _ := claims[claimTokenUsage].(string); usage != kind {
		logger.Debugw("token usage mismatch", "expected", kind, "actual", claims[claimTokenUsage])
		return nil, fmt.Errorf("token is not a %s", kind)
	}

	return principalFromClaims(claims), nil
}

// principalFromClaims rebuilds the principal from verified claims.
func principalFromClaims(claims jwt.MapClaims) *server.Principal {
	principal := &server.Principal{
		Claims: make(map[string]any),
	}
	principal.Subject, _ = claims["sub"].(string)
	principal.ClientID, _ = claims[claimClientID].(string)
	principal.AuthorizationID, _ = claims[claimAuthorizationID].(string)
	principal.TokenID, _ = claims[claimTokenID].(string)
	principal.Nonce, _ = claims[claimNonce].(string)
	principal.RedirectURI, _ = claims[claimRedirectURI].(string)
	principal.CodeChallenge, _ = claims[claimCodeChallenge].(string)
	principal.CodeChallengeMethod, _ = claims[claimCodeChallengeMethod].(string)

	if scope, _ := claims[claimScope].(string); scope != "" {
		principal.Scopes = strings.Fields(scope)
	}
	if audiences, err := claims.GetAudience(); err == nil {
		principal.Audiences = []string(audiences)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		principal.ExpiresAt = exp.Time
	}

	for name, value := range claims {
		if _, reserved := standardClaims[name]; !reserved {
			principal.Claims[name] = value
		}
	}
	return principal
}

// Compile-time interface compliance check
var _ server.TokenSerializer = (*Serializer)(nil)
