// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/managers"
	"github.com/khandakerakash/openiddict-core/pkg/message"
	"github.com/khandakerakash/openiddict-core/pkg/server/events"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// newReferenceID generates the opaque server-issued handle used for
// authorization codes and reference tokens: 256 bits of entropy,
// base64url-encoded without padding.
func newReferenceID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand read failure is unrecoverable.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// signinGate wraps a sign-in step as a descriptor.
func signinGate(
	name string, order int64,
	filters []events.Predicate[*ProcessSigninContext],
	run func(ctx context.Context, evt *ProcessSigninContext) error,
) events.Descriptor[*ProcessSigninContext] {
	return events.Descriptor[*ProcessSigninContext]{
		Name:     name,
		Order:    order,
		Filters:  filters,
		Required: true,
		Factory: func() events.Handler[*ProcessSigninContext] {
			return events.HandlerFunc[*ProcessSigninContext](run)
		},
	}
}

// defaultSigninHandlers materializes a principal into grants at the
// authorization endpoint: the consent record, the authorization code and
// the implicit/hybrid tokens.
func (s *Server) defaultSigninHandlers() []events.Descriptor[*ProcessSigninContext] {
	degraded := requireDegradedModeDisabled[*ProcessSigninContext]()

	return []events.Descriptor[*ProcessSigninContext]{
		signinGate("prepare-principal", 1*orderStep, nil,
			func(_ context.Context, evt *ProcessSigninContext) error {
				principal := evt.Principal
				request := evt.Request()

				if principal.ClientID == "" {
					principal.ClientID = request.ClientID()
				}
				if len(principal.Scopes) == 0 {
					principal.Scopes = request.GetScopes()
				}
				principal.Nonce = request.Nonce()
				principal.RedirectURI = evt.Transaction.StringProperty(PropertyValidatedRedirectURI)
				principal.CodeChallenge = request.CodeChallenge()
				principal.CodeChallengeMethod = request.CodeChallengeMethod()
				if principal.CodeChallenge != "" && principal.CodeChallengeMethod == "" {
					principal.CodeChallengeMethod = message.CodeChallengeMethodPlain
				}
				return nil
			}),

		signinGate("attach-resources", 2*orderStep, []events.Predicate[*ProcessSigninContext]{degraded},
			func(ctx context.Context, evt *ProcessSigninContext) error {
				if len(evt.Principal.Audiences) > 0 {
					return nil
				}
				resources, err := s.managers.Scopes.ListResources(ctx, evt.Principal.Scopes)
				if err != nil {
					return err
				}
				evt.Principal.Audiences = resources
				return nil
			}),

		signinGate("attach-authorization", 3*orderStep, []events.Predicate[*ProcessSigninContext]{degraded},
			func(ctx context.Context, evt *ProcessSigninContext) error {
				if evt.Principal.AuthorizationID != "" {
					return nil
				}

				app, _ := evt.Transaction.Property(PropertyApplication).(*store.Application)
				if app == nil {
					return nil
				}

				// Implicit and external consent back a single grant; the
				// resulting authorization is eligible for pruning once its
				// tokens die. Explicit and systematic consent is durable.
				authzType := store.AuthorizationTypePermanent
				switch app.ConsentType {
				case store.ConsentTypeImplicit, store.ConsentTypeExternal:
					authzType = store.AuthorizationTypeAdHoc
				}

				authz, err := s.managers.Authorizations.Create(ctx, &managers.AuthorizationDescriptor{
					ApplicationID: app.ID,
					Subject:       evt.Principal.Subject,
					Status:        store.AuthorizationStatusValid,
					Type:          authzType,
					Scopes:        evt.Principal.Scopes,
				})
				if err != nil {
					return err
				}
				evt.Principal.AuthorizationID = authz.ID
				return nil
			}),

		signinGate("attach-authorization-code", 4*orderStep,
			[]events.Predicate[*ProcessSigninContext]{
				func(evt *ProcessSigninContext) bool {
					return evt.Request().HasResponseType(message.ResponseTypeCode)
				}},
			func(ctx context.Context, evt *ProcessSigninContext) error {
				code, err := s.issueAuthorizationCode(ctx, evt.Transaction, evt.Principal)
				if err != nil {
					return err
				}
				evt.Response().Set(message.ParamCode, message.StringParameter(code))
				return nil
			}),

		signinGate("attach-access-token", 5*orderStep,
			[]events.Predicate[*ProcessSigninContext]{
				func(evt *ProcessSigninContext) bool {
					return evt.Request().HasResponseType(message.ResponseTypeToken)
				}},
			func(ctx context.Context, evt *ProcessSigninContext) error {
				return s.attachAccessToken(ctx, evt.Transaction, evt.Principal)
			}),

		signinGate("attach-identity-token", 6*orderStep,
			[]events.Predicate[*ProcessSigninContext]{
				func(evt *ProcessSigninContext) bool {
					return evt.Request().HasResponseType(message.ResponseTypeIDToken)
				}},
			func(ctx context.Context, evt *ProcessSigninContext) error {
				principal := evt.Principal.Clone()
				principal.ExpiresAt = time.Now().Add(evt.Options().identityTokenLifetime())
				idToken, err := s.serializeToken(ctx, evt.Transaction, SerializedTokenIdentity, principal)
				if err != nil {
					return err
				}
				evt.Response().Set(message.ParamIDToken, message.StringParameter(idToken))
				return nil
			}),
	}
}

// issueAuthorizationCode creates the single-use code for a principal. With
// a persistence layer, the wire code is an opaque reference to a persisted
// token entity carrying the serialized payload; in degraded mode the code
// is the self-contained serialized form.
func (s *Server) issueAuthorizationCode(ctx context.Context, t *Transaction, principal *Principal) (string, error) {
	expiresAt := time.Now().Add(t.Options.authorizationCodeLifetime())
	principal = principal.Clone()
	principal.ExpiresAt = expiresAt

	payload, err := s.serializeToken(ctx, t, SerializedTokenAuthorizationCode, principal)
	if err != nil {
		return "", err
	}

	if t.Options.EnableDegradedMode {
		return payload, nil
	}

	app, _ := t.Property(PropertyApplication).(*store.Application)
	descriptor := &managers.TokenDescriptor{
		ReferenceID:     newReferenceID(),
		AuthorizationID: principal.AuthorizationID,
		Subject:         principal.Subject,
		Type:            store.TokenTypeAuthorizationCode,
		Status:          store.TokenStatusValid,
		Payload:         payload,
		ExpirationDate:  expiresAt,
		Properties: map[string]string{
			"redirect_uri":          principal.RedirectURI,
			"code_challenge":        principal.CodeChallenge,
			"code_challenge_method": principal.CodeChallengeMethod,
		},
	}
	if app != nil {
		descriptor.ApplicationID = app.ID
	}

	token, err := s.managers.Tokens.Create(ctx, descriptor)
	if err != nil {
		return "", err
	}
	logger.Debugw("authorization code issued",
		"token_id", token.ID,
		"client_id", principal.ClientID,
	)
	return token.ReferenceID, nil
}

// attachAccessToken issues an access token for the principal and populates
// the standard access_token/token_type/expires_in/scope response
// parameters.
func (s *Server) attachAccessToken(ctx context.Context, t *Transaction, principal *Principal) error {
	lifetime := t.Options.accessTokenLifetime()
	expiresAt := time.Now().Add(lifetime)
	principal = principal.Clone()
	principal.ExpiresAt = expiresAt

	var accessToken string
	if t.Options.EnableDegradedMode {
		serialized, err := s.serializeToken(ctx, t, SerializedTokenAccess, principal)
		if err != nil {
			return err
		}
		accessToken = serialized
	} else {
		serialized, entity, err := s.issuePersistedToken(ctx, t, SerializedTokenAccess,
			store.TokenTypeAccessToken, principal, expiresAt, t.Options.UseReferenceTokens)
		if err != nil {
			return err
		}
		if t.Options.UseReferenceTokens {
			accessToken = entity.ReferenceID
		} else {
			accessToken = serialized
		}
	}

	response := t.Response
	response.Set(message.ParamAccessToken, message.StringParameter(accessToken))
	response.Set(message.ParamTokenType, message.StringParameter(message.TokenTypeBearer))
	response.Set(message.ParamExpiresIn, message.IntParameter(int64(lifetime/time.Second)))
	if len(principal.Scopes) > 0 {
		response.Set(message.ParamScope, message.StringParameter(strings.Join(principal.Scopes, " ")))
	}
	return nil
}

// issuePersistedToken creates the token entity first so the serialized form
// can embed the entity identifier: introspection and revocation of
// self-contained tokens resolve back to the entity through it. The payload
// is attached with a follow-up update.
func (s *Server) issuePersistedToken(
	ctx context.Context,
	t *Transaction,
	kind string,
	tokenType string,
	principal *Principal,
	expiresAt time.Time,
	withReference bool,
) (string, *store.Token, error) {
	app, _ := t.Property(PropertyApplication).(*store.Application)
	descriptor := &managers.TokenDescriptor{
		AuthorizationID: principal.AuthorizationID,
		Subject:         principal.Subject,
		Type:            tokenType,
		Status:          store.TokenStatusValid,
		ExpirationDate:  expiresAt,
	}
	if withReference {
		descriptor.ReferenceID = newReferenceID()
	}
	if app != nil {
		descriptor.ApplicationID = app.ID
	}

	entity, err := s.managers.Tokens.Create(ctx, descriptor)
	if err != nil {
		return "", nil, err
	}

	principal.TokenID = entity.ID
	serialized, err := s.serializeToken(ctx, t, kind, principal)
	if err != nil {
		return "", nil, err
	}

	entity.Payload = serialized
	if err := s.managers.Tokens.Update(ctx, entity); err != nil {
		return "", nil, err
	}
	return serialized, entity, nil
}
