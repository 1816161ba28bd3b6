// SPDX-FileCopyrightText: Copyright 2025 openiddict-core contributors
// SPDX-License-Identifier: Apache-2.0

// Package managers implements the entity managers sitting between the
// protocol handlers and the store: cache-aware CRUD, invariant validation,
// descriptor population, revocation and pruning.
//
// Managers also restore byte-exact string semantics on top of backends whose
// collation is case-insensitive: every finder result is re-filtered so
// subject, client_id and reference lookups match byte-for-byte. Hosts that
// run on a backend known to be case-sensitive can switch the post-filter off
// through Options.DisableAdditionalFiltering.
package managers

import (
	"fmt"
	"strings"
)

// Options tunes manager behavior shared by all four managers.
type Options struct {
	// DisableEntityCaching turns off the read-through cache in front of the
	// store finders.
	DisableEntityCaching bool

	// DisableAdditionalFiltering turns off the case-sensitive post-filter
	// applied to store finder results. Only enable this when the backend
	// guarantees case-sensitive string comparisons.
	DisableAdditionalFiltering bool
}

// ValidationError aggregates the one-line messages produced by an entity
// validation pass.
type ValidationError struct {
	Messages []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("entity validation failed: %s", strings.Join(e.Messages, "; "))
}

// validationError returns nil when messages is empty, so callers can write
// `return validationError(messages)` directly.
func validationError(messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	return &ValidationError{Messages: messages}
}

// pruneBatchSize is how many authorizations or tokens a prune pass scans per
// page. Failures are accumulated per page rather than aborting the scan.
const pruneBatchSize = 1000
