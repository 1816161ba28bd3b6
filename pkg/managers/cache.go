// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

package managers

import (
	"sync"
	"time"
)

// cacheSlidingExpiration bounds how long a cached entity may be served
// without a fresh read from the store. Each hit slides the window.
const cacheSlidingExpiration = time.Minute

// cacheEntry wraps a cached value with its sliding deadline.
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// entityCache is a content-addressed read-through cache shared across
// transactions. Keys are fingerprint strings derived from the finder name
// and its arguments; a reverse index from entity ID to the finder keys it is
// discoverable under makes invalidation complete: any create/update/delete
// drops every key before the next read can observe stale state.
//
// The cache must be thread-safe: it is the one piece of manager state shared
// by concurrent transactions.
type entityCache struct {
	mu sync.Mutex

	entries map[string]*cacheEntry

	// keysByEntity maps entity ID -> the set of cache keys holding it.
	keysByEntity map[string]map[string]struct{}
}

func newEntityCache() *entityCache {
	return &entityCache{
		entries:      make(map[string]*cacheEntry),
		keysByEntity: make(map[string]map[string]struct{}),
	}
}

// get returns the cached value for key, sliding its expiration. Expired
// entries are dropped on access.
func (c *entityCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.expiresAt = now.Add(cacheSlidingExpiration)
	return entry.value, true
}

// put stores value under key and records the reverse index for entityID.
func (c *entityCache) put(key, entityID string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(cacheSlidingExpiration),
	}
	keys, ok := c.keysByEntity[entityID]
	if !ok {
		keys = make(map[string]struct{})
		c.keysByEntity[entityID] = keys
	}
	keys[key] = struct{}{}
}

// invalidate drops every cache key the entity is discoverable under, plus
// any extra finder keys the caller knows changed (e.g. the old client_id
// after a rename).
func (c *entityCache) invalidate(entityID string, extraKeys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.keysByEntity[entityID] {
		delete(c.entries, key)
	}
	delete(c.keysByEntity, entityID)

	for _, key := range extraKeys {
		delete(c.entries, key)
	}
}
