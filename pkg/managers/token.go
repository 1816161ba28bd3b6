// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package managers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// tokenTypes enumerates the supported token kinds for validation.
var tokenTypes = []string{
	store.TokenTypeAccessToken,
	store.TokenTypeAuthorizationCode,
	store.TokenTypeDeviceCode,
	store.TokenTypeIDToken,
	store.TokenTypeRefreshToken,
	store.TokenTypeUserCode,
}

// TokenDescriptor is the transport shape used to create or update a token.
type TokenDescriptor struct {
	ReferenceID     string
	ApplicationID   string
	AuthorizationID string
	Subject         string
	Type            string
	Status          string
	Payload         string
	Properties      map[string]string
	CreationDate    time.Time
	ExpirationDate  time.Time
}

// TokenManager manages issued grants.
type TokenManager struct {
	store store.TokenStore
	cache *entityCache
	opts  Options
}

// NewTokenManager creates a token manager on top of the given store.
func NewTokenManager(s store.TokenStore, opts Options) *TokenManager {
	return &TokenManager{store: s, cache: newEntityCache(), opts: opts}
}

// Count returns the number of tokens.
func (m *TokenManager) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

// Create persists a new token built from the descriptor.
func (m *TokenManager) Create(ctx context.Context, descriptor *TokenDescriptor) (*store.Token, error) {
	token := &store.Token{}
	m.PopulateToken(token, descriptor)
	if token.Status == "" {
		token.Status = store.TokenStatusValid
	}

	if err := m.Validate(token); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, token); err != nil {
		return nil, err
	}

	m.cache.invalidate(token.ID, tokenReferenceKey(token.ReferenceID))
	logger.Debugw("token created",
		"token_id", token.ID,
		"type", token.Type,
		"application_id", token.ApplicationID,
	)
	return token, nil
}

// Update persists changes conditional on the concurrency token.
func (m *TokenManager) Update(ctx context.Context, token *store.Token) error {
	if err := m.Validate(token); err != nil {
		return err
	}
	if err := m.store.Update(ctx, token); err != nil {
		return err
	}
	m.cache.invalidate(token.ID, tokenReferenceKey(token.ReferenceID))
	return nil
}

// Delete removes a token.
func (m *TokenManager) Delete(ctx context.Context, token *store.Token) error {
	if err := m.store.Delete(ctx, token); err != nil {
		return err
	}
	m.cache.invalidate(token.ID, tokenReferenceKey(token.ReferenceID))
	return nil
}

// FindByID returns the token with the given identifier.
func (m *TokenManager) FindByID(ctx context.Context, id string) (*store.Token, error) {
	key := "token:id:" + id
	if !m.opts.DisableEntityCaching {
		if v, ok := m.cache.get(key); ok {
			return v.(*store.Token), nil
		}
	}

	token, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && token.ID != id {
		return nil, fmt.Errorf("%w: token %s", store.ErrNotFound, id)
	}

	if !m.opts.DisableEntityCaching {
		m.cache.put(key, token.ID, token)
	}
	return token, nil
}

func tokenReferenceKey(referenceID string) string { return "token:ref:" + referenceID }

// FindByReferenceID returns the token carrying the opaque server-issued
// handle, byte-exact.
func (m *TokenManager) FindByReferenceID(ctx context.Context, referenceID string) (*store.Token, error) {
	key := tokenReferenceKey(referenceID)
	if !m.opts.DisableEntityCaching {
		if v, ok := m.cache.get(key); ok {
			return v.(*store.Token), nil
		}
	}

	token, err := m.store.FindByReferenceID(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && token.ReferenceID != referenceID {
		return nil, fmt.Errorf("%w: token reference", store.ErrNotFound)
	}

	if !m.opts.DisableEntityCaching {
		m.cache.put(key, token.ID, token)
	}
	return token, nil
}

// FindByAuthorizationID streams the tokens issued under an authorization.
func (m *TokenManager) FindByAuthorizationID(ctx context.Context, authorizationID string) iter.Seq2[*store.Token, error] {
	return m.filterExact(m.store.FindByAuthorizationID(ctx, authorizationID), func(t *store.Token) bool {
		return t.AuthorizationID == authorizationID
	})
}

// FindBySubject streams the tokens bound to a subject, byte-exact.
func (m *TokenManager) FindBySubject(ctx context.Context, subject string) iter.Seq2[*store.Token, error] {
	return m.filterExact(m.store.FindBySubject(ctx, subject), func(t *store.Token) bool {
		return t.Subject == subject
	})
}

// FindByApplicationID streams the tokens issued to an application.
func (m *TokenManager) FindByApplicationID(ctx context.Context, applicationID string) iter.Seq2[*store.Token, error] {
	return m.filterExact(m.store.FindByApplicationID(ctx, applicationID), func(t *store.Token) bool {
		return t.ApplicationID == applicationID
	})
}

// filterExact threads the case-sensitive post-filter through a store
// iterator, preserving cancellation semantics.
func (m *TokenManager) filterExact(seq iter.Seq2[*store.Token, error], match func(*store.Token) bool) iter.Seq2[*store.Token, error] {
	return func(yield func(*store.Token, error) bool) {
		for token, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			if !m.opts.DisableAdditionalFiltering && !match(token) {
				continue
			}
			if !yield(token, nil) {
				return
			}
		}
	}
}

// List streams tokens.
func (m *TokenManager) List(ctx context.Context, count, offset int) iter.Seq2[*store.Token, error] {
	return m.store.List(ctx, count, offset)
}

// PopulateToken copies the descriptor attributes onto the entity.
func (*TokenManager) PopulateToken(token *store.Token, descriptor *TokenDescriptor) {
	token.ReferenceID = descriptor.ReferenceID
	token.ApplicationID = descriptor.ApplicationID
	token.AuthorizationID = descriptor.AuthorizationID
	token.Subject = descriptor.Subject
	token.Type = descriptor.Type
	token.Status = descriptor.Status
	token.Payload = descriptor.Payload
	token.CreationDate = descriptor.CreationDate
	token.ExpirationDate = descriptor.ExpirationDate
	if descriptor.Properties != nil {
		token.Properties = make(map[string]string, len(descriptor.Properties))
		for k, v := range descriptor.Properties {
			token.Properties[k] = v
		}
	}
}

// PopulateDescriptor copies the entity attributes onto the descriptor.
func (*TokenManager) PopulateDescriptor(descriptor *TokenDescriptor, token *store.Token) {
	descriptor.ReferenceID = token.ReferenceID
	descriptor.ApplicationID = token.ApplicationID
	descriptor.AuthorizationID = token.AuthorizationID
	descriptor.Subject = token.Subject
	descriptor.Type = token.Type
	descriptor.Status = token.Status
	descriptor.Payload = token.Payload
	descriptor.CreationDate = token.CreationDate
	descriptor.ExpirationDate = token.ExpirationDate
	if token.Properties != nil {
		descriptor.Properties = make(map[string]string, len(token.Properties))
		for k, v := range token.Properties {
			descriptor.Properties[k] = v
		}
	}
}

// Validate checks the token invariants.
func (*TokenManager) Validate(token *store.Token) error {
	var messages []string

	switch {
	case token.Type == "":
		messages = append(messages, "type cannot be empty")
	case !slices.Contains(tokenTypes, token.Type):
		messages = append(messages, fmt.Sprintf("type %q is not supported", token.Type))
	}
	if token.Status == "" {
		messages = append(messages, "status cannot be empty")
	}

	return validationError(messages)
}

// IsRevoked reports whether the token has been revoked. It reads the Status
// field directly, so the predicate and the raw status always agree.
func (*TokenManager) IsRevoked(token *store.Token) bool {
	return strings.EqualFold(token.Status, store.TokenStatusRevoked)
}

// IsRedeemed reports whether the token has already been exchanged.
func (*TokenManager) IsRedeemed(token *store.Token) bool {
	return strings.EqualFold(token.Status, store.TokenStatusRedeemed)
}

// IsExpired reports whether the token's expiration date has passed.
func (*TokenManager) IsExpired(token *store.Token) bool {
	return !token.ExpirationDate.IsZero() && !token.ExpirationDate.After(time.Now())
}

// IsValid reports whether the token is usable: valid status and unexpired.
func (m *TokenManager) IsValid(token *store.Token) bool {
	return strings.EqualFold(token.Status, store.TokenStatusValid) && !m.IsExpired(token)
}

// TryRedeem transitions the token from valid to redeemed. The write is
// conditional on the concurrency token, so concurrent redemptions resolve
// first-wins: the loser observes ErrConcurrency (or a non-valid status on
// reload) and must treat the grant as already used.
func (m *TokenManager) TryRedeem(ctx context.Context, token *store.Token) error {
	if !strings.EqualFold(token.Status, store.TokenStatusValid) {
		return fmt.Errorf("%w: token %s is not redeemable", store.ErrConcurrency, token.ID)
	}
	token.Status = store.TokenStatusRedeemed
	if err := m.store.Update(ctx, token); err != nil {
		return err
	}
	m.cache.invalidate(token.ID, tokenReferenceKey(token.ReferenceID))
	return nil
}

// TryRevoke marks the token revoked. Revocation is terminal and idempotent.
func (m *TokenManager) TryRevoke(ctx context.Context, token *store.Token) error {
	if m.IsRevoked(token) {
		return nil
	}
	token.Status = store.TokenStatusRevoked
	if err := m.store.Update(ctx, token); err != nil {
		return err
	}
	m.cache.invalidate(token.ID, tokenReferenceKey(token.ReferenceID))
	return nil
}

// RevokeByAuthorizationID revokes every token issued under an authorization.
// Used when refresh-token revocation cascades.
func (m *TokenManager) RevokeByAuthorizationID(ctx context.Context, authorizationID string) (int64, error) {
	var revoked int64
	var errs []error

	for token, err := range m.FindByAuthorizationID(ctx, authorizationID) {
		if err != nil {
			errs = append(errs, err)
			break
		}
		if m.IsRevoked(token) {
			continue
		}
		if err := m.TryRevoke(ctx, token); err != nil {
			if errors.Is(err, store.ErrConcurrency) {
				continue
			}
			errs = append(errs, fmt.Errorf("revoke token %s: %w", token.ID, err))
			continue
		}
		revoked++
	}
	return revoked, errors.Join(errs...)
}

// Prune removes tokens that can no longer be used: revoked, redeemed,
// inactive, or expired ones. Page failures accumulate; the sweep continues.
func (m *TokenManager) Prune(ctx context.Context) (int64, error) {
	var removed int64
	var pageErrs []error

	// Offsets advance by the number of retained entities so deletions never
	// shift entries past the scan.
	for offset := 0; ; {
		var page []*store.Token
		var pageErr error
		for token, err := range m.store.List(ctx, pruneBatchSize, offset) {
			if err != nil {
				pageErr = err
				break
			}
			page = append(page, token)
		}
		if pageErr != nil {
			pageErrs = append(pageErrs, fmt.Errorf("page at offset %d: %w", offset, pageErr))
		}
		if len(page) == 0 {
			break
		}

		retained := 0
		for _, token := range page {
			if m.IsValid(token) {
				retained++
				continue
			}
			if err := m.Delete(ctx, token); err != nil {
				if errors.Is(err, store.ErrConcurrency) || errors.Is(err, store.ErrNotFound) {
					continue
				}
				pageErrs = append(pageErrs, fmt.Errorf("delete token %s: %w", token.ID, err))
				retained++
				continue
			}
			removed++
		}
		offset += retained

		if len(page) < pruneBatchSize {
			break
		}
	}

	logger.Infow("token prune completed", "removed", removed, "errors", len(pageErrs))
	return removed, errors.Join(pageErrs...)
}
