// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
)

// DefaultCleanupInterval is how often the background cleanup scans for
// tokens whose retention window has elapsed.
const DefaultCleanupInterval = 5 * time.Minute

// DefaultRetentionPeriod is how long expired tokens are kept around so
// introspection can still answer active=false before they vanish.
const DefaultRetentionPeriod = 24 * time.Hour

// MemoryStore implements Store with in-memory maps. It is thread-safe and
// suitable for development and testing; production deployments should use a
// persistent backend.
//
// Finder string matching is deliberately case-insensitive, mirroring the
// default collation of the relational backends this store stands in for.
// Managers layer an exact-match post-filter on top.
type MemoryStore struct {
	mu sync.RWMutex

	// applications maps primary ID -> Application.
	applications map[string]*Application

	// authorizations maps primary ID -> Authorization.
	authorizations map[string]*Authorization

	// tokens maps primary ID -> Token.
	tokens map[string]*Token

	// scopes maps primary ID -> Scope.
	scopes map[string]*Scope

	cleanupInterval time.Duration
	retention       time.Duration

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// WithRetentionPeriod sets how long expired tokens are retained before the
// background cleanup removes them.
func WithRetentionPeriod(retention time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.retention = retention
	}
}

// NewMemoryStore creates a MemoryStore with initialized maps and starts the
// background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		applications:    make(map[string]*Application),
		authorizations:  make(map[string]*Authorization),
		tokens:          make(map[string]*Token),
		scopes:          make(map[string]*Scope),
		cleanupInterval: DefaultCleanupInterval,
		retention:       DefaultRetentionPeriod,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Applications returns the application store.
func (s *MemoryStore) Applications() ApplicationStore { return (*memoryApplications)(s) }

// Authorizations returns the authorization store.
func (s *MemoryStore) Authorizations() AuthorizationStore { return (*memoryAuthorizations)(s) }

// Tokens returns the token store.
func (s *MemoryStore) Tokens() TokenStore { return (*memoryTokens)(s) }

// Scopes returns the scope store.
func (s *MemoryStore) Scopes() ScopeStore { return (*memoryScopes)(s) }

// Health is a no-op for the in-memory store since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanupLoop runs periodic cleanup of tokens past their retention window.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes tokens whose expiration passed longer than the
// retention period ago. Collects keys under read lock, deletes under write
// lock to minimize write lock hold time.
func (s *MemoryStore) cleanupExpired() {
	cutoff := time.Now().Add(-s.retention)

	s.mu.RLock()
	var expired []string
	for id, token := range s.tokens {
		if !token.ExpirationDate.IsZero() && token.ExpirationDate.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range expired {
		delete(s.tokens, id)
	}
	logger.Debugw("removed tokens past retention", "count", len(expired))
}

// Stats contains statistics about the store contents. Useful for testing
// and monitoring.
type Stats struct {
	Applications   int
	Authorizations int
	Tokens         int
	Scopes         int
}

// Stats returns current statistics about store contents.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Applications:   len(s.applications),
		Authorizations: len(s.authorizations),
		Tokens:         len(s.tokens),
		Scopes:         len(s.scopes),
	}
}

// ---- clone helpers ----
//
// Entities are copied on the way in and out so callers never alias the
// store's internal state.

func cloneApplication(a *Application) *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.RedirectURIs = slices.Clone(a.RedirectURIs)
	c.PostLogoutRedirectURIs = slices.Clone(a.PostLogoutRedirectURIs)
	c.Permissions = slices.Clone(a.Permissions)
	c.Properties = maps.Clone(a.Properties)
	return &c
}

func cloneAuthorization(a *Authorization) *Authorization {
	if a == nil {
		return nil
	}
	c := *a
	c.Scopes = slices.Clone(a.Scopes)
	c.Properties = maps.Clone(a.Properties)
	return &c
}

func cloneToken(t *Token) *Token {
	if t == nil {
		return nil
	}
	c := *t
	c.Properties = maps.Clone(t.Properties)
	return &c
}

func cloneScope(sc *Scope) *Scope {
	if sc == nil {
		return nil
	}
	c := *sc
	c.Resources = slices.Clone(sc.Resources)
	c.Properties = maps.Clone(sc.Properties)
	return &c
}

// yieldPage streams a pre-collected page, observing cancellation at every
// yield point.
func yieldPage[T any](ctx context.Context, page []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range page {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// paginate applies offset/count to a sorted snapshot. A negative count keeps
// everything from offset on.
func paginate[T any](items []T, count, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if count >= 0 && count < len(items) {
		items = items[:count]
	}
	return items
}

// ---- ApplicationStore ----

type memoryApplications MemoryStore

func (s *memoryApplications) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.applications)), nil
}

func (s *memoryApplications) Create(_ context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("application cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if _, ok := s.applications[app.ID]; ok {
		return fmt.Errorf("%w: application %s", ErrAlreadyExists, app.ID)
	}
	for _, existing := range s.applications {
		if strings.EqualFold(existing.ClientID, app.ClientID) {
			return fmt.Errorf("%w: client_id %s", ErrAlreadyExists, app.ClientID)
		}
	}

	app.ConcurrencyToken = uuid.NewString()
	s.applications[app.ID] = cloneApplication(app)
	return nil
}

func (s *memoryApplications) Delete(_ context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("application cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.applications[app.ID]
	if !ok {
		return fmt.Errorf("%w: application %s", ErrNotFound, app.ID)
	}
	if existing.ConcurrencyToken != app.ConcurrencyToken {
		return fmt.Errorf("%w: application %s", ErrConcurrency, app.ID)
	}
	delete(s.applications, app.ID)
	return nil
}

func (s *memoryApplications) FindByID(_ context.Context, id string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, fmt.Errorf("%w: application %s", ErrNotFound, id)
	}
	return cloneApplication(app), nil
}

func (s *memoryApplications) FindByClientID(_ context.Context, clientID string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// EqualFold mirrors a collation-insensitive backend; the manager's
	// post-filter restores byte-exact semantics.
	for _, app := range s.applications {
		if strings.EqualFold(app.ClientID, clientID) {
			return cloneApplication(app), nil
		}
	}
	return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
}

func (s *memoryApplications) List(ctx context.Context, count, offset int) iter.Seq2[*Application, error] {
	s.mu.RLock()
	page := make([]*Application, 0, len(s.applications))
	for _, app := range s.applications {
		page = append(page, cloneApplication(app))
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Application) int { return strings.Compare(a.ID, b.ID) })
	return yieldPage(ctx, paginate(page, count, offset))
}

func (s *memoryApplications) Update(_ context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("application cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.applications[app.ID]
	if !ok {
		return fmt.Errorf("%w: application %s", ErrNotFound, app.ID)
	}
	if existing.ConcurrencyToken != app.ConcurrencyToken {
		return fmt.Errorf("%w: application %s", ErrConcurrency, app.ID)
	}

	app.ConcurrencyToken = uuid.NewString()
	s.applications[app.ID] = cloneApplication(app)
	return nil
}

// ---- AuthorizationStore ----

type memoryAuthorizations MemoryStore

func (s *memoryAuthorizations) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.authorizations)), nil
}

func (s *memoryAuthorizations) Create(_ context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("authorization cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if authz.ID == "" {
		authz.ID = uuid.NewString()
	}
	if _, ok := s.authorizations[authz.ID]; ok {
		return fmt.Errorf("%w: authorization %s", ErrAlreadyExists, authz.ID)
	}
	if authz.CreationDate.IsZero() {
		authz.CreationDate = time.Now()
	}

	authz.ConcurrencyToken = uuid.NewString()
	s.authorizations[authz.ID] = cloneAuthorization(authz)
	return nil
}

// Delete removes the authorization and cascades to its tokens. The single
// write lock makes the cascade effectively serializable.
func (s *memoryAuthorizations) Delete(_ context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("authorization cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.authorizations[authz.ID]
	if !ok {
		return fmt.Errorf("%w: authorization %s", ErrNotFound, authz.ID)
	}
	if existing.ConcurrencyToken != authz.ConcurrencyToken {
		return fmt.Errorf("%w: authorization %s", ErrConcurrency, authz.ID)
	}

	for id, token := range s.tokens {
		if token.AuthorizationID == authz.ID {
			delete(s.tokens, id)
		}
	}
	delete(s.authorizations, authz.ID)
	return nil
}

func (s *memoryAuthorizations) FindByID(_ context.Context, id string) (*Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authz, ok := s.authorizations[id]
	if !ok {
		return nil, fmt.Errorf("%w: authorization %s", ErrNotFound, id)
	}
	return cloneAuthorization(authz), nil
}

func matchAuthorization(authz *Authorization, filter AuthorizationFilter) bool {
	if filter.Subject != "" && !strings.EqualFold(authz.Subject, filter.Subject) {
		return false
	}
	if filter.ApplicationID != "" && !strings.EqualFold(authz.ApplicationID, filter.ApplicationID) {
		return false
	}
	if filter.Status != "" && !strings.EqualFold(authz.Status, filter.Status) {
		return false
	}
	if filter.Type != "" && !strings.EqualFold(authz.Type, filter.Type) {
		return false
	}
	for _, scope := range filter.Scopes {
		if !slices.Contains(authz.Scopes, scope) {
			return false
		}
	}
	return true
}

func (s *memoryAuthorizations) Find(ctx context.Context, filter AuthorizationFilter) iter.Seq2[*Authorization, error] {
	s.mu.RLock()
	var page []*Authorization
	for _, authz := range s.authorizations {
		if matchAuthorization(authz, filter) {
			page = append(page, cloneAuthorization(authz))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Authorization) int { return strings.Compare(a.ID, b.ID) })
	return yieldPage(ctx, page)
}

func (s *memoryAuthorizations) List(ctx context.Context, count, offset int) iter.Seq2[*Authorization, error] {
	s.mu.RLock()
	page := make([]*Authorization, 0, len(s.authorizations))
	for _, authz := range s.authorizations {
		page = append(page, cloneAuthorization(authz))
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Authorization) int { return strings.Compare(a.ID, b.ID) })
	return yieldPage(ctx, paginate(page, count, offset))
}

func (s *memoryAuthorizations) Update(_ context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("authorization cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.authorizations[authz.ID]
	if !ok {
		return fmt.Errorf("%w: authorization %s", ErrNotFound, authz.ID)
	}
	if existing.ConcurrencyToken != authz.ConcurrencyToken {
		return fmt.Errorf("%w: authorization %s", ErrConcurrency, authz.ID)
	}

	authz.ConcurrencyToken = uuid.NewString()
	s.authorizations[authz.ID] = cloneAuthorization(authz)
	return nil
}

// ---- TokenStore ----

type memoryTokens MemoryStore

func (s *memoryTokens) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.tokens)), nil
}

func (s *memoryTokens) Create(_ context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if _, ok := s.tokens[token.ID]; ok {
		return fmt.Errorf("%w: token %s", ErrAlreadyExists, token.ID)
	}
	if token.CreationDate.IsZero() {
		token.CreationDate = time.Now()
	}

	token.ConcurrencyToken = uuid.NewString()
	s.tokens[token.ID] = cloneToken(token)
	return nil
}

func (s *memoryTokens) Delete(_ context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tokens[token.ID]
	if !ok {
		return fmt.Errorf("%w: token %s", ErrNotFound, token.ID)
	}
	if existing.ConcurrencyToken != token.ConcurrencyToken {
		return fmt.Errorf("%w: token %s", ErrConcurrency, token.ID)
	}
	delete(s.tokens, token.ID)
	return nil
}

func (s *memoryTokens) FindByID(_ context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token %s", ErrNotFound, id)
	}
	return cloneToken(token), nil
}

func (s *memoryTokens) FindByReferenceID(_ context.Context, referenceID string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, token := range s.tokens {
		if token.ReferenceID != "" && strings.EqualFold(token.ReferenceID, referenceID) {
			return cloneToken(token), nil
		}
	}
	return nil, fmt.Errorf("%w: token reference %s", ErrNotFound, referenceID)
}

func (s *memoryTokens) findWhere(ctx context.Context, match func(*Token) bool) iter.Seq2[*Token, error] {
	s.mu.RLock()
	var page []*Token
	for _, token := range s.tokens {
		if match(token) {
			page = append(page, cloneToken(token))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Token) int { return strings.Compare(a.ID, b.ID) })
	return yieldPage(ctx, page)
}

func (s *memoryTokens) FindByAuthorizationID(ctx context.Context, authorizationID string) iter.Seq2[*Token, error] {
	return s.findWhere(ctx, func(t *Token) bool {
		return strings.EqualFold(t.AuthorizationID, authorizationID)
	})
}

func (s *memoryTokens) FindBySubject(ctx context.Context, subject string) iter.Seq2[*Token, error] {
	return s.findWhere(ctx, func(t *Token) bool {
		return strings.EqualFold(t.Subject, subject)
	})
}

func (s *memoryTokens) FindByApplicationID(ctx context.Context, applicationID string) iter.Seq2[*Token, error] {
	return s.findWhere(ctx, func(t *Token) bool {
		return strings.EqualFold(t.ApplicationID, applicationID)
	})
}

func (s *memoryTokens) List(ctx context.Context, count, offset int) iter.Seq2[*Token, error] {
	s.mu.RLock()
	page := make([]*Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		page = append(page, cloneToken(token))
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Token) int { return strings.Compare(a.ID, b.ID) })
	return yieldPage(ctx, paginate(page, count, offset))
}

func (s *memoryTokens) Update(_ context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tokens[token.ID]
	if !ok {
		return fmt.Errorf("%w: token %s", ErrNotFound, token.ID)
	}
	if existing.ConcurrencyToken != token.ConcurrencyToken {
		return fmt.Errorf("%w: token %s", ErrConcurrency, token.ID)
	}

	token.ConcurrencyToken = uuid.NewString()
	s.tokens[token.ID] = cloneToken(token)
	return nil
}

// ---- ScopeStore ----

type memoryScopes MemoryStore

func (s *memoryScopes) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.scopes)), nil
}

func (s *memoryScopes) Create(_ context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("scope cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if scope.ID == "" {
		scope.ID = uuid.NewString()
	}
	if _, ok := s.scopes[scope.ID]; ok {
		return fmt.Errorf("%w: scope %s", ErrAlreadyExists, scope.ID)
	}
	for _, existing := range s.scopes {
		if strings.EqualFold(existing.Name, scope.Name) {
			return fmt.Errorf("%w: scope name %s", ErrAlreadyExists, scope.Name)
		}
	}

	scope.ConcurrencyToken = uuid.NewString()
	s.scopes[scope.ID] = cloneScope(scope)
	return nil
}

func (s *memoryScopes) Delete(_ context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("scope cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.scopes[scope.ID]
	if !ok {
		return fmt.Errorf("%w: scope %s", ErrNotFound, scope.ID)
	}
	if existing.ConcurrencyToken != scope.ConcurrencyToken {
		return fmt.Errorf("%w: scope %s", ErrConcurrency, scope.ID)
	}
	delete(s.scopes, scope.ID)
	return nil
}

func (s *memoryScopes) FindByID(_ context.Context, id string) (*Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.scopes[id]
	if !ok {
		return nil, fmt.Errorf("%w: scope %s", ErrNotFound, id)
	}
	return cloneScope(scope), nil
}

func (s *memoryScopes) FindByName(_ context.Context, name string) (*Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, scope := range s.scopes {
		if strings.EqualFold(scope.Name, name) {
			return cloneScope(scope), nil
		}
	}
	return nil, fmt.Errorf("%w: scope name %s", ErrNotFound, name)
}

func (s *memoryScopes) FindByNames(ctx context.Context, names []string) iter.Seq2[*Scope, error] {
	s.mu.RLock()
	var page []*Scope
	for _, scope := range s.scopes {
		for _, name := range names {
			if strings.EqualFold(scope.Name, name) {
				page = append(page, cloneScope(scope))
				break
			}
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Scope) int { return strings.Compare(a.Name, b.Name) })
	return yieldPage(ctx, page)
}

func (s *memoryScopes) List(ctx context.Context, count, offset int) iter.Seq2[*Scope, error] {
	s.mu.RLock()
	page := make([]*Scope, 0, len(s.scopes))
	for _, scope := range s.scopes {
		page = append(page, cloneScope(scope))
	}
	s.mu.RUnlock()

	slices.SortFunc(page, func(a, b *Scope) int { return strings.Compare(a.Name, b.Name) })
	return yieldPage(ctx, paginate(page, count, offset))
}

func (s *memoryScopes) Update(_ context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("scope cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.scopes[scope.ID]
	if !ok {
		return fmt.Errorf("%w: scope %s", ErrNotFound, scope.ID)
	}
	if existing.ConcurrencyToken != scope.ConcurrencyToken {
		return fmt.Errorf("%w: scope %s", ErrConcurrency, scope.ID)
	}

	scope.ConcurrencyToken = uuid.NewString()
	s.scopes[scope.ID] = cloneScope(scope)
	return nil
}

// Compile-time interface compliance checks
var (
	_ Store              = (*MemoryStore)(nil)
	_ ApplicationStore   = (*memoryApplications)(nil)
	_ AuthorizationStore = (*memoryAuthorizations)(nil)
	_ TokenStore         = (*memoryTokens)(nil)
	_ ScopeStore         = (*memoryScopes)(nil)
)
