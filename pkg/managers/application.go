// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package managers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"golang.org/x/crypto/bcrypt"

	"github.com/khandakerakash/openiddict-core/pkg/logger"
	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// ApplicationDescriptor is the transport shape used to create or update an
// application. Unlike the entity, its ClientSecret carries plain text; the
// manager hashes it before it reaches the store.
type ApplicationDescriptor struct {
	ClientID               string
	ClientSecret           string
	ClientType             string
	ConsentType            string
	DisplayName            string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	Permissions            []string
	Properties             map[string]string
}

// ApplicationManager manages registered OAuth clients.
type ApplicationManager struct {
	store store.ApplicationStore
	cache *entityCache
	opts  Options
}

// NewApplicationManager creates an application manager on top of the given
// store.
func NewApplicationManager(s store.ApplicationStore, opts Options) *ApplicationManager {
	return &ApplicationManager{store: s, cache: newEntityCache(), opts: opts}
}

// Count returns the number of registered applications.
func (m *ApplicationManager) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

// Create registers a new application from a descriptor. The plain-text
// secret, when present, is hashed before persistence.
func (m *ApplicationManager) Create(ctx context.Context, descriptor *ApplicationDescriptor) (*store.Application, error) {
	app := &store.Application{}
	m.PopulateApplication(app, descriptor)

	if descriptor.ClientSecret != "" {
		hash, err := HashClientSecret(descriptor.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("hash client secret: %w", err)
		}
		app.ClientSecret = hash
	}

	if err := m.Validate(app); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, app); err != nil {
		return nil, err
	}

	m.cache.invalidate(app.ID, applicationClientKey(app.ClientID))
	logger.Infow("application created", "client_id", app.ClientID, "client_type", app.ClientType)
	return app, nil
}

// Update persists changes to an existing application after re-validating its
// invariants. The write is conditional on the entity's concurrency token.
func (m *ApplicationManager) Update(ctx context.Context, app *store.Application) error {
	if err := m.Validate(app); err != nil {
		return err
	}
	if err := m.store.Update(ctx, app); err != nil {
		return err
	}
	m.cache.invalidate(app.ID, applicationClientKey(app.ClientID))
	return nil
}

// Delete removes an application.
func (m *ApplicationManager) Delete(ctx context.Context, app *store.Application) error {
	if err := m.store.Delete(ctx, app); err != nil {
		return err
	}
	m.cache.invalidate(app.ID, applicationClientKey(app.ClientID))
	return nil
}

// FindByID returns the application with the given primary identifier,
// byte-exact.
func (m *ApplicationManager) FindByID(ctx context.Context, id string) (*store.Application, error) {
	key := "app:id:" + id
	if !m.opts.DisableEntityCaching {
		if v, ok := m.cache.get(key); ok {
			return v.(*store.Application), nil
		}
	}

	app, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && app.ID != id {
		return nil, fmt.Errorf("%w: application %s", store.ErrNotFound, id)
	}

	if !m.opts.DisableEntityCaching {
		m.cache.put(key, app.ID, app)
	}
	return app, nil
}

func applicationClientKey(clientID string) string { return "app:client:" + clientID }

// FindByClientID returns the application registered under clientID. The
// lookup is case-sensitive regardless of backend collation.
func (m *ApplicationManager) FindByClientID(ctx context.Context, clientID string) (*store.Application, error) {
	key := applicationClientKey(clientID)
	if !m.opts.DisableEntityCaching {
		if v, ok := m.cache.get(key); ok {
			return v.(*store.Application), nil
		}
	}

	app, err := m.store.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && app.ClientID != clientID {
		return nil, fmt.Errorf("%w: client %s", store.ErrNotFound, clientID)
	}

	if !m.opts.DisableEntityCaching {
		m.cache.put(key, app.ID, app)
	}
	return app, nil
}

// List streams registered applications.
func (m *ApplicationManager) List(ctx context.Context, count, offset int) iter.Seq2[*store.Application, error] {
	return m.store.List(ctx, count, offset)
}

// PopulateApplication copies the observable descriptor attributes onto the
// entity. The secret is copied verbatim: hashing is Create's concern.
func (*ApplicationManager) PopulateApplication(app *store.Application, descriptor *ApplicationDescriptor) {
	app.ClientID = descriptor.ClientID
	app.ClientSecret = descriptor.ClientSecret
	app.ClientType = descriptor.ClientType
	app.ConsentType = descriptor.ConsentType
	app.DisplayName = descriptor.DisplayName
	app.RedirectURIs = slices.Clone(descriptor.RedirectURIs)
	app.PostLogoutRedirectURIs = slices.Clone(descriptor.PostLogoutRedirectURIs)
	app.Permissions = slices.Clone(descriptor.Permissions)
	if descriptor.Properties != nil {
		app.Properties = make(map[string]string, len(descriptor.Properties))
		for k, v := range descriptor.Properties {
			app.Properties[k] = v
		}
	}
}

// PopulateDescriptor copies the observable entity attributes onto the
// descriptor.
func (*ApplicationManager) PopulateDescriptor(descriptor *ApplicationDescriptor, app *store.Application) {
	descriptor.ClientID = app.ClientID
	descriptor.ClientSecret = app.ClientSecret
	descriptor.ClientType = app.ClientType
	descriptor.ConsentType = app.ConsentType
	descriptor.DisplayName = app.DisplayName
	descriptor.RedirectURIs = slices.Clone(app.RedirectURIs)
	descriptor.PostLogoutRedirectURIs = slices.Clone(app.PostLogoutRedirectURIs)
	descriptor.Permissions = slices.Clone(app.Permissions)
	if app.Properties != nil {
		descriptor.Properties = make(map[string]string, len(app.Properties))
		for k, v := range app.Properties {
			descriptor.Properties[k] = v
		}
	}
}

// Validate checks the application invariants and returns a ValidationError
// listing every violation.
func (*ApplicationManager) Validate(app *store.Application) error {
	var messages []string

	if app.ClientID == "" {
		messages = append(messages, "client_id cannot be empty")
	}
	switch app.ClientType {
	case store.ClientTypePublic, store.ClientTypeConfidential:
	case "":
		messages = append(messages, "client_type cannot be empty")
	default:
		messages = append(messages, fmt.Sprintf("client_type %q is not supported", app.ClientType))
	}
	if app.ClientType == store.ClientTypeConfidential && app.ClientSecret == "" {
		messages = append(messages, "confidential applications require a client secret")
	}
	if app.ClientType == store.ClientTypePublic && app.ClientSecret != "" {
		messages = append(messages, "public applications cannot have a client secret")
	}
	for _, uri := range app.RedirectURIs {
		if uri == "" {
			messages = append(messages, "redirect URIs cannot contain empty entries")
		}
	}

	return validationError(messages)
}

// IsPublic reports whether the application is a public client.
func (*ApplicationManager) IsPublic(app *store.Application) bool {
	return app.ClientType == store.ClientTypePublic
}

// IsConfidential reports whether the application is a confidential client.
func (*ApplicationManager) IsConfidential(app *store.Application) bool {
	return app.ClientType == store.ClientTypeConfidential
}

// HasPermission reports whether the application carries the permission,
// byte-exact.
func (*ApplicationManager) HasPermission(app *store.Application, permission string) bool {
	return slices.Contains(app.Permissions, permission)
}

// HasRedirectURI reports whether uri is registered for the application.
// Matching is exact string equality per RFC 6749 section 3.1.2.3.
func (*ApplicationManager) HasRedirectURI(app *store.Application, uri string) bool {
	return slices.Contains(app.RedirectURIs, uri)
}

// HasPostLogoutRedirectURI reports whether uri is registered as a
// post-logout redirect target.
func (*ApplicationManager) HasPostLogoutRedirectURI(app *store.Application, uri string) bool {
	return slices.Contains(app.PostLogoutRedirectURIs, uri)
}

// ValidateClientSecret compares a presented plain-text secret against the
// application's stored hash.
func (*ApplicationManager) ValidateClientSecret(app *store.Application, secret string) bool {
	if app.ClientSecret == "" || secret == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(app.ClientSecret), []byte(secret))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		logger.Warnw("client secret comparison failed", "client_id", app.ClientID, "error", err)
	}
	return err == nil
}

// HashClientSecret hashes a plain-text client secret for storage.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
