// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package managers

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/khandakerakash/openiddict-core/pkg/store"
)

// ScopeDescriptor is the transport shape used to create or update a scope.
type ScopeDescriptor struct {
	Name        string
	DisplayName string
	Description string
	Resources   []string
	Properties  map[string]string
}

// ScopeManager manages registered scopes.
type ScopeManager struct {
	store store.ScopeStore
	cache *entityCache
	opts  Options
}

// NewScopeManager creates a scope manager on top of the given store.
func NewScopeManager(s store.ScopeStore, opts Options) *ScopeManager {
	return &ScopeManager{store: s, cache: newEntityCache(), opts: opts}
}

// Count returns the number of registered scopes.
func (m *ScopeManager) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

// Create registers a new scope from a descriptor.
func (m *ScopeManager) Create(ctx context.Context, descriptor *ScopeDescriptor) (*store.Scope, error) {
	scope := &store.Scope{}
	m.PopulateScope(scope, descriptor)

	if err := m.Validate(scope); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, scope); err != nil {
		return nil, err
	}

	m.cache.invalidate(scope.ID, scopeNameKey(scope.Name))
	return scope, nil
}

// Update persists changes conditional on the concurrency token.
func (m *ScopeManager) Update(ctx context.Context, scope *store.Scope) error {
	if err := m.Validate(scope); err != nil {
		return err
	}
	if err := m.store.Update(ctx, scope); err != nil {
		return err
	}
	m.cache.invalidate(scope.ID, scopeNameKey(scope.Name))
	return nil
}

// Delete removes a scope.
func (m *ScopeManager) Delete(ctx context.Context, scope *store.Scope) error {
	if err := m.store.Delete(ctx, scope); err != nil {
		return err
	}
	m.cache.invalidate(scope.ID, scopeNameKey(scope.Name))
	return nil
}

// FindByID returns the scope with the given identifier.
func (m *ScopeManager) FindByID(ctx context.Context, id string) (*store.Scope, error) {
	scope, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && scope.ID != id {
		return nil, fmt.Errorf("%w: scope %s", store.ErrNotFound, id)
	}
	return scope, nil
}

func scopeNameKey(name string) string { return "scope:name:" + name }

// FindByName returns the scope registered under name, byte-exact.
func (m *ScopeManager) FindByName(ctx context.Context, name string) (*store.Scope, error) {
	key := scopeNameKey(name)
	if !m.opts.DisableEntityCaching {
		if v, ok := m.cache.get(key); ok {
			return v.(*store.Scope), nil
		}
	}

	scope, err := m.store.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !m.opts.DisableAdditionalFiltering && scope.Name != name {
		return nil, fmt.Errorf("%w: scope name %s", store.ErrNotFound, name)
	}

	if !m.opts.DisableEntityCaching {
		m.cache.put(key, scope.ID, scope)
	}
	return scope, nil
}

// FindByNames streams the scopes registered under the given names,
// byte-exact.
func (m *ScopeManager) FindByNames(ctx context.Context, names []string) iter.Seq2[*store.Scope, error] {
	return func(yield func(*store.Scope, error) bool) {
		for scope, err := range m.store.FindByNames(ctx, names) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !m.opts.DisableAdditionalFiltering && !slices.Contains(names, scope.Name) {
				continue
			}
			if !yield(scope, nil) {
				return
			}
		}
	}
}

// List streams registered scopes.
func (m *ScopeManager) List(ctx context.Context, count, offset int) iter.Seq2[*store.Scope, error] {
	return m.store.List(ctx, count, offset)
}

// ListResources resolves the union of the resources (audiences) exposed by
// the named scopes.
func (m *ScopeManager) ListResources(ctx context.Context, names []string) ([]string, error) {
	var resources []string
	for scope, err := range m.FindByNames(ctx, names) {
		if err != nil {
			return nil, err
		}
		for _, resource := range scope.Resources {
			if !slices.Contains(resources, resource) {
				resources = append(resources, resource)
			}
		}
	}
	return resources, nil
}

// PopulateScope copies the descriptor attributes onto the entity.
func (*ScopeManager) PopulateScope(scope *store.Scope, descriptor *ScopeDescriptor) {
	scope.Name = descriptor.Name
	scope.DisplayName = descriptor.DisplayName
	scope.Description = descriptor.Description
	scope.Resources = slices.Clone(descriptor.Resources)
	if descriptor.Properties != nil {
		scope.Properties = make(map[string]string, len(descriptor.Properties))
		for k, v := range descriptor.Properties {
			scope.Properties[k] = v
		}
	}
}

// PopulateDescriptor copies the entity attributes onto the descriptor.
func (*ScopeManager) PopulateDescriptor(descriptor *ScopeDescriptor, scope *store.Scope) {
	descriptor.Name = scope.Name
	descriptor.DisplayName = scope.DisplayName
	descriptor.Description = scope.Description
	descriptor.Resources = slices.Clone(scope.Resources)
	if scope.Properties != nil {
		descriptor.Properties = make(map[string]string, len(scope.Properties))
		for k, v := range scope.Properties {
			descriptor.Properties[k] = v
		}
	}
}

// Validate checks the scope invariants.
func (*ScopeManager) Validate(scope *store.Scope) error {
	var messages []string

	if scope.Name == "" {
		messages = append(messages, "name cannot be empty")
	} else if strings.Contains(scope.Name, " ") {
		messages = append(messages, fmt.Sprintf("name %q cannot contain spaces", scope.Name))
	}
	for _, resource := range scope.Resources {
		if resource == "" {
			messages = append(messages, "resources cannot contain empty entries")
		}
	}

	return validationError(messages)
}
