package trust

import (
	"context"
)

// RelationshipStore is the persistence collaborator for relationships
// and groups. Implementations own their transaction boundaries and
// concurrency control.
type RelationshipStore interface {
	// FindDirect returns the relationship for the exact ordered pair
	// (sourceOrg, targetOrg), or nil when none is stored. The bilateral
	// flag never triggers a reverse-direction lookup.
	FindDirect(ctx context.Context, sourceOrg, targetOrg string) (*TrustRelationship, error)

	// FindGroupLink returns an active trust group in which both
	// organizations hold an active membership, or nil when they share
	// none.
	FindGroupLink(ctx context.Context, orgA, orgB string) (*TrustGroup, error)

	// Get returns a relationship by id, or nil when unknown.
	Get(ctx context.Context, id string) (*TrustRelationship, error)

	// Save persists a relationship, rejecting a duplicate pending or
	// active relationship for the same ordered pair with
	// InvalidRelationshipError.
	Save(ctx context.Context, rel *TrustRelationship) error
}
