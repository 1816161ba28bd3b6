// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addrs are the server addresses. A single address selects a plain
	// client, several select a failover/cluster-capable universal client.
	Addrs []string

	// Username and Password authenticate with an ACL user when set.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys, e.g. "oidc:{tenant}:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a Redis backend. Entities are stored as
// JSON documents under prefixed keys with secondary-index sets per finder.
// Finder indexes are keyed on lowercased values, so lookups behave like a
// collation-insensitive backend; managers re-filter byte-for-byte.
//
// Redis has no serializable transactions, so the authorization -> token
// cascade delete degrades to a non-atomic sweep. A crash mid-cascade can
// leak tokens until the TTL reaps them; this is the acknowledged trade-off
// of running on an engine without multi-key transactions.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a RedisStore from the given configuration.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("at least one redis address is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests running
// against miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Applications returns the application store.
func (s *RedisStore) Applications() ApplicationStore { return &redisApplications{s} }

// Authorizations returns the authorization store.
func (s *RedisStore) Authorizations() AuthorizationStore { return &redisAuthorizations{s} }

// Tokens returns the token store.
func (s *RedisStore) Tokens() TokenStore { return &redisTokens{s} }

// Scopes returns the scope store.
func (s *RedisStore) Scopes() ScopeStore { return &redisScopes{s} }

// Health pings the backend.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ---- keys ----

func (s *RedisStore) key(parts ...string) string {
	return s.keyPrefix + strings.Join(parts, ":")
}

func fold(v string) string { return strings.ToLower(v) }

// ---- generic document helpers ----

func getDoc[T any](ctx context.Context, s *RedisStore, key string) (*T, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &doc, nil
}

func setDoc(ctx context.Context, pipe redis.Cmdable, key string, doc any, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return pipe.Set(ctx, key, data, ttl).Err()
}

// updateDoc runs an optimistic check-and-set on key: it loads the current
// document, verifies the concurrency token, stamps a fresh one and writes
// the new document inside a WATCH/MULTI transaction. The caller's entity is
// updated with the new token on success.
func updateDoc[T any](
	ctx context.Context,
	s *RedisStore,
	key string,
	expectedToken string,
	currentToken func(*T) string,
	write func(pipe redis.Pipeliner, newToken string) error,
) error {
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		var current T
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if currentToken(&current) != expectedToken {
			return fmt.Errorf("%w: %s", ErrConcurrency, key)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return write(pipe, uuid.NewString())
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer slipped in between read and write.
		return fmt.Errorf("%w: %s", ErrConcurrency, key)
	}
	return err
}

// listDocs streams the documents whose IDs are members of setKey, sorted by
// ID, honoring count/offset and cancellation at every yield.
func listDocs[T any](ctx context.Context, s *RedisStore, setKey, docPrefix string, count, offset int) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		ids, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			yield(nil, fmt.Errorf("redis smembers %s: %w", setKey, err))
			return
		}
		slices.Sort(ids)
		ids = paginate(ids, count, offset)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			doc, err := getDoc[T](ctx, s, docPrefix+id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					// The document expired after the index scan; drop the
					// stale index member and move on.
					_ = s.client.SRem(ctx, setKey, id).Err()
					continue
				}
				yield(nil, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// ---- ApplicationStore ----

type redisApplications struct{ s *RedisStore }

func (r *redisApplications) idsKey() string            { return r.s.key("apps") }
func (r *redisApplications) docKey(id string) string   { return r.s.key("app", id) }
func (r *redisApplications) clientKey(c string) string { return r.s.key("app", "client", fold(c)) }

func (r *redisApplications) Count(ctx context.Context) (int64, error) {
	return r.s.client.SCard(ctx, r.idsKey()).Result()
}

func (r *redisApplications) Create(ctx context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("application cannot be nil")
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	app.ConcurrencyToken = uuid.NewString()

	// Reserve the client_id index first so duplicate registrations lose.
	ok, err := r.s.client.SetNX(ctx, r.clientKey(app.ClientID), app.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: client_id %s", ErrAlreadyExists, app.ClientID)
	}

	_, err = r.s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := setDoc(ctx, pipe, r.docKey(app.ID), app, 0); err != nil {
			return err
		}
		return pipe.SAdd(ctx, r.idsKey(), app.ID).Err()
	})
	return err
}

func (r *redisApplications) Delete(ctx context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("application cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(app.ID), app.ConcurrencyToken,
		func(a *Application) string { return a.ConcurrencyToken },
		func(pipe redis.Pipeliner, _ string) error {
			pipe.Del(ctx, r.docKey(app.ID))
			pipe.Del(ctx, r.clientKey(app.ClientID))
			pipe.SRem(ctx, r.idsKey(), app.ID)
			return nil
		})
}

func (r *redisApplications) FindByID(ctx context.Context, id string) (*Application, error) {
	return getDoc[Application](ctx, r.s, r.docKey(id))
}

func (r *redisApplications) FindByClientID(ctx context.Context, clientID string) (*Application, error) {
	id, err := r.s.client.Get(ctx, r.clientKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *redisApplications) List(ctx context.Context, count, offset int) iter.Seq2[*Application, error] {
	return listDocs[Application](ctx, r.s, r.idsKey(), r.s.key("app")+":", count, offset)
}

func (r *redisApplications) Update(ctx context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("application cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(app.ID), app.ConcurrencyToken,
		func(a *Application) string { return a.ConcurrencyToken },
		func(pipe redis.Pipeliner, newToken string) error {
			app.ConcurrencyToken = newToken
			return setDoc(ctx, pipe, r.docKey(app.ID), app, 0)
		})
}

// ---- AuthorizationStore ----

type redisAuthorizations struct{ s *RedisStore }

func (r *redisAuthorizations) idsKey() string          { return r.s.key("authzs") }
func (r *redisAuthorizations) docKey(id string) string { return r.s.key("authz", id) }
func (r *redisAuthorizations) subjectKey(sub string) string {
	return r.s.key("authz", "subject", fold(sub))
}
func (r *redisAuthorizations) appKey(id string) string { return r.s.key("authz", "app", fold(id)) }

func (r *redisAuthorizations) Count(ctx context.Context) (int64, error) {
	return r.s.client.SCard(ctx, r.idsKey()).Result()
}

func (r *redisAuthorizations) Create(ctx context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("authorization cannot be nil")
	}
	if authz.ID == "" {
		authz.ID = uuid.NewString()
	}
	if authz.CreationDate.IsZero() {
		authz.CreationDate = time.Now()
	}
	authz.ConcurrencyToken = uuid.NewString()

	_, err := r.s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := setDoc(ctx, pipe, r.docKey(authz.ID), authz, 0); err != nil {
			return err
		}
		pipe.SAdd(ctx, r.idsKey(), authz.ID)
		if authz.Subject != "" {
			pipe.SAdd(ctx, r.subjectKey(authz.Subject), authz.ID)
		}
		if authz.ApplicationID != "" {
			pipe.SAdd(ctx, r.appKey(authz.ApplicationID), authz.ID)
		}
		return nil
	})
	return err
}

func (r *redisAuthorizations) Delete(ctx context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("authorization cannot be nil")
	}

	err := updateDoc(ctx, r.s, r.docKey(authz.ID), authz.ConcurrencyToken,
		func(a *Authorization) string { return a.ConcurrencyToken },
		func(pipe redis.Pipeliner, _ string) error {
			pipe.Del(ctx, r.docKey(authz.ID))
			pipe.SRem(ctx, r.idsKey(), authz.ID)
			if authz.Subject != "" {
				pipe.SRem(ctx, r.subjectKey(authz.Subject), authz.ID)
			}
			if authz.ApplicationID != "" {
				pipe.SRem(ctx, r.appKey(authz.ApplicationID), authz.ID)
			}
			return nil
		})
	if err != nil {
		return err
	}

	// Cascade to tokens outside the transaction. Non-atomic on Redis; a
	// failure here leaves orphans for the TTL to reap.
	tokens := &redisTokens{r.s}
	for token, err := range tokens.FindByAuthorizationID(ctx, authz.ID) {
		if err != nil {
			return fmt.Errorf("cascade scan: %w", err)
		}
		if err := tokens.Delete(ctx, token); err != nil && !errors.Is(err, ErrNotFound) {
			logger.Warnw("cascade delete left a token behind",
				"authorization_id", authz.ID,
				"token_id", token.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (r *redisAuthorizations) FindByID(ctx context.Context, id string) (*Authorization, error) {
	return getDoc[Authorization](ctx, r.s, r.docKey(id))
}

func (r *redisAuthorizations) Find(ctx context.Context, filter AuthorizationFilter) iter.Seq2[*Authorization, error] {
	return func(yield func(*Authorization, error) bool) {
		var setKey string
		switch {
		case filter.Subject != "":
			setKey = r.subjectKey(filter.Subject)
		case filter.ApplicationID != "":
			setKey = r.appKey(filter.ApplicationID)
		default:
			setKey = r.idsKey()
		}

		for authz, err := range listDocs[Authorization](ctx, r.s, setKey, r.s.key("authz")+":", -1, 0) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !matchAuthorization(authz, filter) {
				continue
			}
			if !yield(authz, nil) {
				return
			}
		}
	}
}

func (r *redisAuthorizations) List(ctx context.Context, count, offset int) iter.Seq2[*Authorization, error] {
	return listDocs[Authorization](ctx, r.s, r.idsKey(), r.s.key("authz")+":", count, offset)
}

func (r *redisAuthorizations) Update(ctx context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("authorization cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(authz.ID), authz.ConcurrencyToken,
		func(a *Authorization) string { return a.ConcurrencyToken },
		func(pipe redis.Pipeliner, newToken string) error {
			authz.ConcurrencyToken = newToken
			return setDoc(ctx, pipe, r.docKey(authz.ID), authz, 0)
		})
}

// ---- TokenStore ----

type redisTokens struct{ s *RedisStore }

func (r *redisTokens) idsKey() string          { return r.s.key("tokens") }
func (r *redisTokens) docKey(id string) string { return r.s.key("token", id) }
func (r *redisTokens) refKey(ref string) string {
	return r.s.key("token", "ref", fold(ref))
}
func (r *redisTokens) authzKey(id string) string { return r.s.key("token", "authz", fold(id)) }
func (r *redisTokens) subjectKey(sub string) string {
	return r.s.key("token", "subject", fold(sub))
}
func (r *redisTokens) appKey(id string) string { return r.s.key("token", "app", fold(id)) }

// tokenTTL returns the document TTL: expiration plus the retention window,
// so introspection can answer active=false for a while after expiry.
func tokenTTL(token *Token) time.Duration {
	if token.ExpirationDate.IsZero() {
		return 0
	}
	ttl := time.Until(token.ExpirationDate) + DefaultRetentionPeriod
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}

func (r *redisTokens) Count(ctx context.Context) (int64, error) {
	return r.s.client.SCard(ctx, r.idsKey()).Result()
}

func (r *redisTokens) Create(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreationDate.IsZero() {
		token.CreationDate = time.Now()
	}
	token.ConcurrencyToken = uuid.NewString()

	_, err := r.s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := setDoc(ctx, pipe, r.docKey(token.ID), token, tokenTTL(token)); err != nil {
			return err
		}
		pipe.SAdd(ctx, r.idsKey(), token.ID)
		if token.ReferenceID != "" {
			pipe.Set(ctx, r.refKey(token.ReferenceID), token.ID, tokenTTL(token))
		}
		if token.AuthorizationID != "" {
			pipe.SAdd(ctx, r.authzKey(token.AuthorizationID), token.ID)
		}
		if token.Subject != "" {
			pipe.SAdd(ctx, r.subjectKey(token.Subject), token.ID)
		}
		if token.ApplicationID != "" {
			pipe.SAdd(ctx, r.appKey(token.ApplicationID), token.ID)
		}
		return nil
	})
	return err
}

func (r *redisTokens) Delete(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(token.ID), token.ConcurrencyToken,
		func(t *Token) string { return t.ConcurrencyToken },
		func(pipe redis.Pipeliner, _ string) error {
			pipe.Del(ctx, r.docKey(token.ID))
			pipe.SRem(ctx, r.idsKey(), token.ID)
			if token.ReferenceID != "" {
				pipe.Del(ctx, r.refKey(token.ReferenceID))
			}
			if token.AuthorizationID != "" {
				pipe.SRem(ctx, r.authzKey(token.AuthorizationID), token.ID)
			}
			if token.Subject != "" {
				pipe.SRem(ctx, r.subjectKey(token.Subject), token.ID)
			}
			if token.ApplicationID != "" {
				pipe.SRem(ctx, r.appKey(token.ApplicationID), token.ID)
			}
			return nil
		})
}

func (r *redisTokens) FindByID(ctx context.Context, id string) (*Token, error) {
	return getDoc[Token](ctx, r.s, r.docKey(id))
}

func (r *redisTokens) FindByReferenceID(ctx context.Context, referenceID string) (*Token, error) {
	id, err := r.s.client.Get(ctx, r.refKey(referenceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: token reference", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *redisTokens) FindByAuthorizationID(ctx context.Context, authorizationID string) iter.Seq2[*Token, error] {
	return listDocs[Token](ctx, r.s, r.authzKey(authorizationID), r.s.key("token")+":", -1, 0)
}

func (r *redisTokens) FindBySubject(ctx context.Context, subject string) iter.Seq2[*Token, error] {
	return listDocs[Token](ctx, r.s, r.subjectKey(subject), r.s.key("token")+":", -1, 0)
}

func (r *redisTokens) FindByApplicationID(ctx context.Context, applicationID string) iter.Seq2[*Token, error] {
	return listDocs[Token](ctx, r.s, r.appKey(applicationID), r.s.key("token")+":", -1, 0)
}

func (r *redisTokens) List(ctx context.Context, count, offset int) iter.Seq2[*Token, error] {
	return listDocs[Token](ctx, r.s, r.idsKey(), r.s.key("token")+":", count, offset)
}

func (r *redisTokens) Update(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(token.ID), token.ConcurrencyToken,
		func(t *Token) string { return t.ConcurrencyToken },
		func(pipe redis.Pipeliner, newToken string) error {
			token.ConcurrencyToken = newToken
			return setDoc(ctx, pipe, r.docKey(token.ID), token, tokenTTL(token))
		})
}

// ---- ScopeStore ----

type redisScopes struct{ s *RedisStore }

func (r *redisScopes) idsKey() string             { return r.s.key("scopes") }
func (r *redisScopes) docKey(id string) string    { return r.s.key("scope", id) }
func (r *redisScopes) nameKey(name string) string { return r.s.key("scope", "name", fold(name)) }

func (r *redisScopes) Count(ctx context.Context) (int64, error) {
	return r.s.client.SCard(ctx, r.idsKey()).Result()
}

func (r *redisScopes) Create(ctx context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("scope cannot be nil")
	}
	if scope.ID == "" {
		scope.ID = uuid.NewString()
	}
	scope.ConcurrencyToken = uuid.NewString()

	ok, err := r.s.client.SetNX(ctx, r.nameKey(scope.Name), scope.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: scope name %s", ErrAlreadyExists, scope.Name)
	}

	_, err = r.s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := setDoc(ctx, pipe, r.docKey(scope.ID), scope, 0); err != nil {
			return err
		}
		return pipe.SAdd(ctx, r.idsKey(), scope.ID).Err()
	})
	return err
}

func (r *redisScopes) Delete(ctx context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("scope cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(scope.ID), scope.ConcurrencyToken,
		func(sc *Scope) string { return sc.ConcurrencyToken },
		func(pipe redis.Pipeliner, _ string) error {
			pipe.Del(ctx, r.docKey(scope.ID))
			pipe.Del(ctx, r.nameKey(scope.Name))
			pipe.SRem(ctx, r.idsKey(), scope.ID)
			return nil
		})
}

func (r *redisScopes) FindByID(ctx context.Context, id string) (*Scope, error) {
	return getDoc[Scope](ctx, r.s, r.docKey(id))
}

func (r *redisScopes) FindByName(ctx context.Context, name string) (*Scope, error) {
	id, err := r.s.client.Get(ctx, r.nameKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: scope name %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return r.FindByID(ctx, id)
}

func (r *redisScopes) FindByNames(ctx context.Context, names []string) iter.Seq2[*Scope, error] {
	return func(yield func(*Scope, error) bool) {
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			scope, err := r.FindByName(ctx, name)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				yield(nil, err)
				return
			}
			if !yield(scope, nil) {
				return
			}
		}
	}
}

func (r *redisScopes) List(ctx context.Context, count, offset int) iter.Seq2[*Scope, error] {
	return listDocs[Scope](ctx, r.s, r.idsKey(), r.s.key("scope")+":", count, offset)
}

func (r *redisScopes) Update(ctx context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("scope cannot be nil")
	}
	return updateDoc(ctx, r.s, r.docKey(scope.ID), scope.ConcurrencyToken,
		func(sc *Scope) string { return sc.ConcurrencyToken },
		func(pipe redis.Pipeliner, newToken string) error {
			scope.ConcurrencyToken = newToken
			return setDoc(ctx, pipe, r.docKey(scope.ID), scope, 0)
		})
}

// Compile-time interface compliance checks
var (
	_ Store              = (*RedisStore)(nil)
	_ ApplicationStore   = (*redisApplications)(nil)
	_ AuthorizationStore = (*redisAuthorizations)(nil)
	_ TokenStore         = (*redisTokens)(nil)
	_ ScopeStore         = (*redisScopes)(nil)
)
