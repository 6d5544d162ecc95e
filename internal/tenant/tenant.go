// Package tenant provides tenant identifier normalization and collection
// naming. All data in the service is partitioned by tenant.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// collectionPrefix namespaces per-tenant qdrant collections.
const collectionPrefix = "sp_"

// namePattern validates normalized tenant names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var namePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Common errors.
var (
	ErrInvalidTenant = errors.New("invalid tenant name")
)

// Normalize canonicalizes a tenant identifier: lowercased, hyphens replaced
// with underscores. "acme-co" and "ACME-CO" both normalize to "acme_co".
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// Validate checks a normalized tenant name against the naming policy.
func Validate(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidTenant, name)
	}
	return nil
}

// CollectionName returns the qdrant collection name for a tenant.
func CollectionName(name string) string {
	return collectionPrefix + name
}
