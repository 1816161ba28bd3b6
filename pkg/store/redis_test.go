// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "test:oidc:")
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestRedisApplicationsCRUD(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()
	apps := s.Applications()

	app := testApplication()
	require.NoError(t, apps.Create(ctx, app))
	require.NotEmpty(t, app.ID)

	found, err := apps.FindByClientID(ctx, "CONSOLE-app")
	require.NoError(t, err)
	assert.Equal(t, "console-app", found.ClientID)

	count, err := apps.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	found.DisplayName = "Console"
	require.NoError(t, apps.Update(ctx, found))

	updated, err := apps.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "Console", updated.DisplayName)
	assert.NotEqual(t, app.ConcurrencyToken, updated.ConcurrencyToken)

	require.NoError(t, apps.Delete(ctx, updated))
	_, err = apps.FindByID(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisApplicationsDuplicateClientID(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Applications().Create(ctx, testApplication()))
	err := s.Applications().Create(ctx, testApplication())
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRedisConcurrencyConflict(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()
	tokens := s.Tokens()

	token := &Token{
		Subject:        "alice",
		Type:           TokenTypeAuthorizationCode,
		Status:         TokenStatusValid,
		ExpirationDate: time.Now().Add(time.Minute),
	}
	require.NoError(t, tokens.Create(ctx, token))

	stale := *token
	fresh, err := tokens.FindByID(ctx, token.ID)
	require.NoError(t, err)
	fresh.Status = TokenStatusRedeemed
	require.NoError(t, tokens.Update(ctx, fresh))

	stale.Status = TokenStatusRedeemed
	err = tokens.Update(ctx, &stale)
	assert.ErrorIs(t, err, ErrConcurrency)
}

func TestRedisTokenReferenceAndIndexes(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	token := &Token{
		ReferenceID:     "REF-123",
		AuthorizationID: "authz-1",
		ApplicationID:   "app-1",
		Subject:         "alice",
		Type:            TokenTypeRefreshToken,
		Status:          TokenStatusValid,
		ExpirationDate:  time.Now().Add(time.Hour),
	}
	require.NoError(t, s.Tokens().Create(ctx, token))

	found, err := s.Tokens().FindByReferenceID(ctx, "ref-123")
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)

	var byAuthz []*Token
	for tok, err := range s.Tokens().FindByAuthorizationID(ctx, "authz-1") {
		require.NoError(t, err)
		byAuthz = append(byAuthz, tok)
	}
	require.Len(t, byAuthz, 1)

	var bySubject []*Token
	for tok, err := range s.Tokens().FindBySubject(ctx, "ALICE") {
		require.NoError(t, err)
		bySubject = append(bySubject, tok)
	}
	require.Len(t, bySubject, 1, "subject index folds case like a collation")
}

func TestRedisAuthorizationCascadeDelete(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	authz := &Authorization{
		ApplicationID: "app-1",
		Subject:       "alice",
		Status:        AuthorizationStatusValid,
		Type:          AuthorizationTypeAdHoc,
	}
	require.NoError(t, s.Authorizations().Create(ctx, authz))

	for range 2 {
		require.NoError(t, s.Tokens().Create(ctx, &Token{
			AuthorizationID: authz.ID,
			Subject:         "alice",
			Type:            TokenTypeAccessToken,
			Status:          TokenStatusValid,
			ExpirationDate:  time.Now().Add(time.Hour),
		}))
	}

	require.NoError(t, s.Authorizations().Delete(ctx, authz))

	count, err := s.Tokens().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisAuthorizationFindBySubject(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	for _, a := range []*Authorization{
		{ApplicationID: "app-1", Subject: "alice", Status: AuthorizationStatusValid, Type: AuthorizationTypePermanent, Scopes: []string{"openid"}},
		{ApplicationID: "app-2", Subject: "bob", Status: AuthorizationStatusValid, Type: AuthorizationTypePermanent},
	} {
		require.NoError(t, s.Authorizations().Create(ctx, a))
	}

	var matched []*Authorization
	for authz, err := range s.Authorizations().Find(ctx, AuthorizationFilter{Subject: "alice"}) {
		require.NoError(t, err)
		matched = append(matched, authz)
	}
	require.Len(t, matched, 1)
	assert.Equal(t, "alice", matched[0].Subject)
}

func TestRedisScopes(t *testing.T) {
	t.Parallel()
	s := newRedisTestStore(t)
	ctx := context.Background()

	scope := &Scope{Name: "profile", Resources: []string{"https://api.example"}}
	require.NoError(t, s.Scopes().Create(ctx, scope))

	found, err := s.Scopes().FindByName(ctx, "PROFILE")
	require.NoError(t, err)
	assert.Equal(t, "profile", found.Name)

	err = s.Scopes().Create(ctx, &Scope{Name: "Profile"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
