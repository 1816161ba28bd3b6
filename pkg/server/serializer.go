// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"

	"github.com/khandakerakash/openiddict-core/pkg/server/events"
)

// Token kinds used by the serialization events.
const (
	SerializedTokenAccess            = "access_token"
	SerializedTokenAuthorizationCode = "authorization_code"
	SerializedTokenIdentity          = "id_token"
	SerializedTokenRefresh           = "refresh_token"
)

// TokenSerializer produces and consumes the wire form of grants. The core
// never touches JWT/JWE primitives itself; implementations live outside the
// core (pkg/token provides the JWT-backed default).
type TokenSerializer interface {
	// Serialize renders the principal as a token of the given kind.
	Serialize(ctx context.Context, t *Transaction, kind string, principal *Principal) (string, error)

	// Deserialize parses a token of the given kind back into a principal.
	// Implementations must verify signatures and reject tokens of another
	// kind.
	Deserialize(ctx context.Context, t *Transaction, kind string, token string) (*Principal, error)
}

// SerializeTokenContext is dispatched to produce the wire form of a grant.
// A handler stores the result in Token and marks the event handled.
type SerializeTokenContext struct {
	BaseExternalContext

	// Kind is one of the SerializedToken constants.
	Kind string

	// Token receives the serialized result.
	Token string
}

// DeserializeTokenContext is dispatched to parse a presented token. A
// handler stores the computed principal and marks the event handled. An
// unhandled deserialize after dispatch is a configuration fault.
type DeserializeTokenContext struct {
	BaseExternalContext

	// Kind is one of the SerializedToken constants.
	Kind string

	// Token is the wire form being consumed.
	Token string
}

// serializeToken dispatches the serialize event and enforces that some
// handler produced a result.
func (s *Server) serializeToken(ctx context.Context, t *Transaction, kind string, principal *Principal) (string, error) {
	evt := &SerializeTokenContext{Kind: kind}
	evt.Transaction = t
	evt.Principal = principal

	if err := s.serialize.Dispatch(ctx, evt); err != nil {
		return "", err
	}
	if !evt.IsHandled() || evt.Token == "" {
		return "", fmt.Errorf("no handler serialized the %s: a token serializer must be registered", kind)
	}
	return evt.Token, nil
}

// deserializeToken dispatches the deserialize event. The second return
// value is false when the token could not be parsed or verified; an
// unhandled event is a configuration fault surfaced as an error.
func (s *Server) deserializeToken(ctx context.Context, t *Transaction, kind, token string) (*Principal, bool, error) {
	evt := &DeserializeTokenContext{Kind: kind, Token: token}
	evt.Transaction = t

	if err := s.deserialize.Dispatch(ctx, evt); err != nil {
		return nil, false, err
	}
	if !evt.IsHandled() {
		return nil, false, fmt.Errorf("no handler deserialized the %s: a token serializer must be registered", kind)
	}
	return evt.Principal, evt.Principal != nil, nil
}

// defaultSerializeHandlers adapts a TokenSerializer into the serialization
// pipeline. Hosts can register earlier descriptors to take over specific
// kinds.
func defaultSerializeHandlers(serializer TokenSerializer) []events.Descriptor[*SerializeTokenContext] {
	if serializer == nil {
		return nil
	}
	return []events.Descriptor[*SerializeTokenContext]{{
		Name:     "serialize-token",
		Order:    100 * orderStep,
		Required: true,
		Factory: func() events.Handler[*SerializeTokenContext] {
			return events.HandlerFunc[*SerializeTokenContext](func(ctx context.Context, evt *SerializeTokenContext) error {
				token, err := serializer.Serialize(ctx, evt.Transaction, evt.Kind, evt.Principal)
				if err != nil {
					return err
				}
				evt.Token = token
				evt.MarkHandled()
				return nil
			})
		},
	}}
}

func defaultDeserializeHandlers(serializer TokenSerializer) []events.Descriptor[*DeserializeTokenContext] {
	if serializer == nil {
		return nil
	}
	return []events.Descriptor[*DeserializeTokenContext]{{
		Name:     "deserialize-token",
		Order:    100 * orderStep,
		Required: true,
		Factory: func() events.Handler[*DeserializeTokenContext] {
			return events.HandlerFunc[*DeserializeTokenContext](func(ctx context.Context, evt *DeserializeTokenContext) error {
				principal, err := serializer.Deserialize(ctx, evt.Transaction, evt.Kind, evt.Token)
				if err != nil {
					// Parse or signature failures are a verdict, not an
					// infrastructure fault: the event is handled with no
					// principal.
					evt.Principal = nil
					evt.MarkHandled()
					return nil
				}
				evt.Principal = principal
				evt.MarkHandled()
				return nil
			})
		},
	}}
}
