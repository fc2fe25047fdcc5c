package trust

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RelationshipKind distinguishes how a trust relationship was formed.
type RelationshipKind string

const (
	KindBilateral    RelationshipKind = "bilateral"
	KindCommunity    RelationshipKind = "community"
	KindHierarchical RelationshipKind = "hierarchical"
	KindFederation   RelationshipKind = "federation"
)

// RelationshipStatus is the stored lifecycle state of a relationship.
// Expiry is time-relative and never written back: a relationship past
// valid_until stays "active" on disk but IsEffective returns false.
type RelationshipStatus string

const (
	StatusPending   RelationshipStatus = "pending"
	StatusActive    RelationshipStatus = "active"
	StatusSuspended RelationshipStatus = "suspended"
	StatusRevoked   RelationshipStatus = "revoked"
	StatusExpired   RelationshipStatus = "expired"
)

// ApprovalSide identifies which party of the ordered pair is approving.
type ApprovalSide string

const (
	SideSource ApprovalSide = "source"
	SideTarget ApprovalSide = "target"
)

// TrustRelationship is a directional, stateful agreement between two
// organizations governing how much detail of shared intelligence the
// target may see. The ordered pair (source, target) is unique among
// pending/active relationships; the store enforces that on Save.
type TrustRelationship struct {
	mu sync.RWMutex

	ID        string           `json:"id"`
	SourceOrg string           `json:"source_org"`
	TargetOrg string           `json:"target_org"`
	Kind      RelationshipKind `json:"kind"`
	GroupID   string           `json:"group_id,omitempty"` // required iff kind=community

	Level  string             `json:"level"`
	Status RelationshipStatus `json:"status"`

	// Bilateral is descriptive only: it never causes a reverse-direction
	// lookup during resolution.
	Bilateral bool `json:"bilateral"`

	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	ApprovedBySource bool   `json:"approved_by_source"`
	ApprovedByTarget bool   `json:"approved_by_target"`
	SourceApprover   string `json:"source_approver,omitempty"`
	TargetApprover   string `json:"target_approver,omitempty"`

	// AnonymizationOverride may be TierCustom, meaning "defer to the
	// trust level default".
	AnonymizationOverride AnonymizationTier `json:"anonymization_override"`
	AccessOverride        AccessTier        `json:"access_override"`

	Notes []string `json:"notes,omitempty"`

	CreatedBy      string     `json:"created_by"`
	LastModifiedBy string     `json:"last_modified_by,omitempty"`
	RevokedBy      string     `json:"revoked_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// NewRelationship creates a relationship in the pending state. Self
// relationships are rejected here; duplicate ordered pairs are rejected
// by the store when the relationship is saved.
func NewRelationship(
	sourceOrg string,
	targetOrg string,
	level string,
	kind RelationshipKind,
	groupID string,
	validFrom time.Time,
	validUntil *time.Time,
	createdBy string,
) (*TrustRelationship, error) {
	if sourceOrg == "" || targetOrg == "" {
		return nil, &InvalidRelationshipError{Reason: "source and target organizations are required"}
	}
	if sourceOrg == targetOrg {
		return nil, &InvalidRelationshipError{Reason: fmt.Sprintf("organization %s cannot trust itself", sourceOrg)}
	}
	if kind == KindCommunity && groupID == "" {
		return nil, &InvalidRelationshipError{Reason: "community relationships require a trust group"}
	}
	if kind != KindCommunity && groupID != "" {
		return nil, &InvalidRelationshipError{Reason: fmt.Sprintf("%s relationships cannot reference a trust group", kind)}
	}
	if level == "" {
		return nil, &InvalidRelationshipError{Reason: "a trust level is required"}
	}
	if validFrom.IsZero() {
		validFrom = time.Now()
	}
	if validUntil != nil && !validUntil.After(validFrom) {
		return nil, &InvalidRelationshipError{Reason: "valid_until must be after valid_from"}
	}

	rel := &TrustRelationship{
		ID:                    uuid.New().String(),
		SourceOrg:             sourceOrg,
		TargetOrg:             targetOrg,
		Kind:                  kind,
		GroupID:               groupID,
		Level:                 level,
		Status:                StatusPending,
		ValidFrom:             validFrom,
		ValidUntil:            validUntil,
		AnonymizationOverride: TierCustom,
		AccessOverride:        AccessFull,
		CreatedBy:             createdBy,
		CreatedAt:             time.Now(),
	}

	log.Info().
		Str("relationship_id", rel.ID).
		Str("source_org", sourceOrg).
		Str("target_org", targetOrg).
		Str("kind", string(kind)).
		Str("level", level).
		Msg("Created trust relationship")

	return rel, nil
}

// Approve records approval from one side of the relationship. Approval
// flags are independent; activation happens separately.
func (r *TrustRelationship) Approve(actor string, side ApprovalSide) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status == StatusRevoked || r.Status == StatusExpired {
		return &InvalidRelationshipError{Reason: fmt.Sprintf("cannot approve a %s relationship", r.Status)}
	}

	switch side {
	case SideSource:
		r.ApprovedBySource = true
		r.SourceApprover = actor
	case SideTarget:
		r.ApprovedByTarget = true
		r.TargetApprover = actor
	default:
		return &InvalidRelationshipError{Reason: fmt.Sprintf("unknown approval side %q", side)}
	}
	r.LastModifiedBy = actor

	log.Info().
		Str("relationship_id", r.ID).
		Str("side", string(side)).
		Str("actor", actor).
		Msg("Trust relationship approved")

	return nil
}

// FullyApproved reports whether the relationship has every approval it
// needs. Community relationships are governed by the group and need
// only the source side.
func (r *TrustRelationship) FullyApproved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fullyApproved()
}

// fullyApproved is the lock-free variant for callers already holding
// r.mu.
func (r *TrustRelationship) fullyApproved() bool {
	if r.Kind == KindCommunity {
		return r.ApprovedBySource
	}
	return r.ApprovedBySource && r.ApprovedByTarget
}

// Activate transitions pending to active when fully approved. It is a
// no-op returning false otherwise; callers poll or react rather than
// handle an error. A suspended relationship never reactivates here,
// Unsuspend is the only path back.
func (r *TrustRelationship) Activate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != StatusPending {
		return false
	}
	if !r.fullyApproved() {
		return false
	}

	now := time.Now()
	r.Status = StatusActive
	r.ActivatedAt = &now

	log.Info().
		Str("relationship_id", r.ID).
		Str("source_org", r.SourceOrg).
		Str("target_org", r.TargetOrg).
		Msg("Trust relationship activated")

	return true
}

// Suspend halts an active relationship. Allowed from active and (as a
// no-op reason append) from suspended.
func (r *TrustRelationship) Suspend(actor, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != StatusActive && r.Status != StatusSuspended {
		return &InvalidRelationshipError{Reason: fmt.Sprintf("cannot suspend a %s relationship", r.Status)}
	}

	r.Status = StatusSuspended
	r.LastModifiedBy = actor
	if reason != "" {
		r.Notes = append(r.Notes, fmt.Sprintf("suspended by %s: %s", actor, reason))
	}

	log.Warn().
		Str("relationship_id", r.ID).
		Str("actor", actor).
		Str("reason", reason).
		Msg("Trust relationship suspended")

	return nil
}

// Unsuspend is the explicit path from suspended back to active. It
// re-checks full approval inside the critical section.
func (r *TrustRelationship) Unsuspend(actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != StatusSuspended {
		return &InvalidRelationshipError{Reason: fmt.Sprintf("cannot unsuspend a %s relationship", r.Status)}
	}
	if !r.fullyApproved() {
		return &InvalidRelationshipError{Reason: "cannot unsuspend a relationship that is not fully approved"}
	}

	r.Status = StatusActive
	r.LastModifiedBy = actor
	r.Notes = append(r.Notes, fmt.Sprintf("unsuspended by %s", actor))

	log.Info().
		Str("relationship_id", r.ID).
		Str("actor", actor).
		Msg("Trust relationship unsuspended")

	return nil
}

// Revoke is terminal: a revoked relationship can be recreated as a new
// record but never reactivated.
func (r *TrustRelationship) Revoke(actor, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status == StatusRevoked {
		return &InvalidRelationshipError{Reason: "relationship already revoked"}
	}

	now := time.Now()
	r.Status = StatusRevoked
	r.RevokedBy = actor
	r.RevokedAt = &now
	r.LastModifiedBy = actor
	if reason != "" {
		r.Notes = append(r.Notes, fmt.Sprintf("revoked by %s: %s", actor, reason))
	}

	log.Warn().
		Str("relationship_id", r.ID).
		Str("actor", actor).
		Str("reason", reason).
		Msg("Trust relationship revoked")

	return nil
}

// IsEffective is the single source of truth for whether a relationship
// currently governs an exchange: active status, full approval, and now
// inside the validity window. An active row past valid_until is
// ineffective without any status write or background job. It takes the
// read lock because resolution reads race with lifecycle transitions on
// the same record.
func (r *TrustRelationship) IsEffective(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Status != StatusActive {
		return false
	}
	if !r.fullyApproved() {
		return false
	}
	if now.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !now.Before(*r.ValidUntil) {
		return false
	}
	return true
}
