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

// AuthorizationDescriptor is the transport shape used to create or update an
// authorization.
type AuthorizationDescriptor struct {
	ApplicationID string
	Subject       string
	Status        string
	Type          string
	Scopes        []string
	Properties    map[string]string
}

// AuthorizationManager manages consent records.
type AuthorizationManager struct {
	store  store.AuthorizationStore
	tokens store.TokenStore
	cache  *entityCache
	opts   Options
}

// NewAuthorizationManager creates an authorization manager. The token store
// is needed to decide whether ad-hoc authorizations are prunable.
func NewAuthorizationManager(s store.AuthorizationStore, tokens store.TokenStore, opts Options) *AuthorizationManager {
	return &AuthorizationManager{store: s, tokens: tokens, cache: newEntityCache(), opts: opts}
}

// Count returns the number of authorizations.
func (m *AuthorizationManager) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

// Create persists a new authorization built from the descriptor.
func (m *AuthorizationManager) Create(ctx context.Context, descriptor *AuthorizationDescriptor) (*store.Authorization, error) {
	authz := &store.Authorization{}
	m.PopulateAuthorization(authz, descriptor)
	if authz.Status == "" {
		authz.Status = store.AuthorizationStatusValid
	}

	if err := m.Validate(authz); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, authz); err != nil {
		return nil, err
	}

	m.cache.invalidate(authz.ID)
	logger.Debugw("authorization created",
		"authorization_id", authz.ID,
		"application_id", authz.ApplicationID,
		"type", authz.Type,
	)
	return authz, nil
}

// Update persists changes conditional on the concurrency token.
func (m *AuthorizationManager) Update(ctx context.Context, authz *store.Authorization) error {
	if err := m.Validate(authz); err != nil {
		return err
	}
	if err := m.store.Update(ctx, authz); err != nil {
		return err
	}
	m.cache.invalidate(authz.ID)
	return nil
}

// Delete removes an authorization; the store cascades to its tokens.
func (m *AuthorizationManager) Delete(ctx context.Context, authz *store.Authorization) error {
	if err := m.store.Delete(ctx, authz); err != nil {
		return err
	}
	m.cache.invalidate(authz.ID)
	return nil
}

// FindByID returns the authorization with the given identifier.
func (m *AuthorizationManager) FindByID(ctx context.Context, id string) (*store.Authorization, error) {
	key := "authz:id:" + id
	if !m.opts.DisableEntityCaching {
		if v, ok := m.cache.get(key); ok {
			return v.(*store.Authorization), nil
		}
	}

	authz, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && authz.ID != id {
		return nil, fmt.Errorf("%w: authorization %s", store.ErrNotFound, id)
	}

	if !m.opts.DisableEntityCaching {
		m.cache.put(key, authz.ID, authz)
	}
	return authz, nil
}

// Find streams the authorizations matching the filter. Subject and
// application matching is byte-exact unless additional filtering is
// disabled; type matching stays case-insensitive by design.
func (m *AuthorizationManager) Find(ctx context.Context, filter store.AuthorizationFilter) iter.Seq2[*store.Authorization, error] {
	return func(yield func(*store.Authorization, error) bool) {
		for authz, err := range m.store.Find(ctx, filter) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !m.opts.DisableAdditionalFiltering {
				if filter.Subject != "" && authz.Subject != filter.Subject {
					continue
				}
				if filter.ApplicationID != "" && authz.ApplicationID != filter.ApplicationID {
					continue
				}
			}
			if !yield(authz, nil) {
				return
			}
		}
	}
}

// List streams authorizations.
func (m *AuthorizationManager) List(ctx context.Context, count, offset int) iter.Seq2[*store.Authorization, error] {
	return m.store.List(ctx, count, offset)
}

// PopulateAuthorization copies the descriptor attributes onto the entity.
func (*AuthorizationManager) PopulateAuthorization(authz *store.Authorization, descriptor *AuthorizationDescriptor) {
	authz.ApplicationID = descriptor.ApplicationID
	authz.Subject = descriptor.Subject
	authz.Status = descriptor.Status
	authz.Type = descriptor.Type
	authz.Scopes = slices.Clone(descriptor.Scopes)
	if descriptor.Properties != nil {
		authz.Properties = make(map[string]string, len(descriptor.Properties))
		for k, v := range descriptor.Properties {
			authz.Properties[k] = v
		}
	}
}

// PopulateDescriptor copies the entity attributes onto the descriptor.
func (*AuthorizationManager) PopulateDescriptor(descriptor *AuthorizationDescriptor, authz *store.Authorization) {
	descriptor.ApplicationID = authz.ApplicationID
	descriptor.Subject = authz.Subject
	descriptor.Status = authz.Status
	descriptor.Type = authz.Type
	descriptor.Scopes = slices.Clone(authz.Scopes)
	if authz.Properties != nil {
		descriptor.Properties = make(map[string]string, len(authz.Properties))
		for k, v := range authz.Properties {
			descriptor.Properties[k] = v
		}
	}
}

// Validate checks the authorization invariants.
func (*AuthorizationManager) Validate(authz *store.Authorization) error {
	var messages []string

	switch {
	case authz.Type == "":
		messages = append(messages, "type cannot be empty")
	case !strings.EqualFold(authz.Type, store.AuthorizationTypeAdHoc) &&
		!strings.EqualFold(authz.Type, store.AuthorizationTypePermanent):
		messages = append(messages, fmt.Sprintf("type %q is not supported", authz.Type))
	}
	if authz.Status == "" {
		messages = append(messages, "status cannot be empty")
	}
	if authz.Subject == "" {
		messages = append(messages, "subject cannot be empty")
	}
	for _, scope := range authz.Scopes {
		if scope == "" {
			messages = append(messages, "scopes cannot contain empty entries")
		} else if strings.Contains(scope, " ") {
			messages = append(messages, fmt.Sprintf("scope %q cannot contain spaces", scope))
		}
	}

	return validationError(messages)
}

// IsAdHoc reports whether the authorization backs a single grant. The
// comparison is case-insensitive.
func (*AuthorizationManager) IsAdHoc(authz *store.Authorization) bool {
	return strings.EqualFold(authz.Type, store.AuthorizationTypeAdHoc)
}

// IsPermanent reports whether the authorization is a durable consent record.
func (*AuthorizationManager) IsPermanent(authz *store.Authorization) bool {
	return strings.EqualFold(authz.Type, store.AuthorizationTypePermanent)
}

// IsRevoked reports whether the authorization has been revoked.
func (*AuthorizationManager) IsRevoked(authz *store.Authorization) bool {
	return strings.EqualFold(authz.Status, store.AuthorizationStatusRevoked)
}

// IsValid reports whether the authorization is still usable.
func (*AuthorizationManager) IsValid(authz *store.Authorization) bool {
	return strings.EqualFold(authz.Status, store.AuthorizationStatusValid)
}

// HasScopes reports whether every scope in scopes was granted, byte-exact.
func (*AuthorizationManager) HasScopes(authz *store.Authorization, scopes []string) bool {
	for _, scope := range scopes {
		if !slices.Contains(authz.Scopes, scope) {
			return false
		}
	}
	return true
}

// TryRevoke marks the authorization revoked. Revocation is idempotent: an
// already-revoked authorization reports success without a write.
func (m *AuthorizationManager) TryRevoke(ctx context.Context, authz *store.Authorization) error {
	if m.IsRevoked(authz) {
		return nil
	}
	authz.Status = store.AuthorizationStatusRevoked
	if err := m.store.Update(ctx, authz); err != nil {
		return err
	}
	m.cache.invalidate(authz.ID)
	return nil
}

// Prune removes authorizations that are no longer usable: invalid ones, and
// ad-hoc ones none of whose tokens are still valid and unexpired. The scan
// walks pages of a fixed size; page failures are accumulated and surfaced as
// a joined error at completion rather than aborting the sweep.
func (m *AuthorizationManager) Prune(ctx context.Context) (int64, error) {
	var removed int64
	var pageErrs []error

	// Offsets advance by the number of retained entities so deletions never
	// shift entries past the scan.
	for offset := 0; ; {
		page, err := m.collectPage(ctx, offset)
		if err != nil {
			pageErrs = append(pageErrs, fmt.Errorf("page at offset %d: %w", offset, err))
			if len(page) == 0 {
				break
			}
		}
		if len(page) == 0 {
			break
		}

		retained := 0
		for _, authz := range page {
			prunable, err := m.isPrunable(ctx, authz)
			if err != nil {
				pageErrs = append(pageErrs, fmt.Errorf("authorization %s: %w", authz.ID, err))
				retained++
				continue
			}
			if !prunable {
				retained++
				continue
			}
			if err := m.Delete(ctx, authz); err != nil {
				// A concurrency conflict means another node got here first;
				// treat it like a lock failure and skip.
				if errors.Is(err, store.ErrConcurrency) || errors.Is(err, store.ErrNotFound) {
					continue
				}
				pageErrs = append(pageErrs, fmt.Errorf("delete authorization %s: %w", authz.ID, err))
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

	logger.Infow("authorization prune completed", "removed", removed, "errors", len(pageErrs))
	return removed, errors.Join(pageErrs...)
}

// collectPage materializes one page of the authorization listing.
func (m *AuthorizationManager) collectPage(ctx context.Context, offset int) ([]*store.Authorization, error) {
	var page []*store.Authorization
	for authz, err := range m.store.List(ctx, pruneBatchSize, offset) {
		if err != nil {
			return page, err
		}
		page = append(page, authz)
	}
	return page, nil
}

// isPrunable decides whether an authorization should be removed: invalid
// status always, ad-hoc ones when no token of theirs is still live.
func (m *AuthorizationManager) isPrunable(ctx context.Context, authz *store.Authorization) (bool, error) {
	if !m.IsValid(authz) {
		return true, nil
	}
	if !m.IsAdHoc(authz) {
		return false, nil
	}

	now := time.Now()
	for token, err := range m.tokens.FindByAuthorizationID(ctx, authz.ID) {
		if err != nil {
			return false, err
		}
		if token.Status == store.TokenStatusValid &&
			(token.ExpirationDate.IsZero() || token.ExpirationDate.After(now)) {
			return false, nil
		}
	}
	return true, nil
}
