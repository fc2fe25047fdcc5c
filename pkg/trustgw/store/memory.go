// Package store provides the relationship store implementations: an
// in-memory store for tests and single-node deployments, and a
// Postgres-backed store for production.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

// GroupStore extends the relationship store with trust group and
// membership management, used by the operational surface.
type GroupStore interface {
	AddGroup(ctx context.Context, group *trust.TrustGroup) error
	AddMembership(ctx context.Context, membership *trust.GroupMembership) error
	GetGroup(ctx context.Context, id string) (*trust.TrustGroup, error)
}

// Memory is an in-memory relationship store. All operations are guarded
// by a single RWMutex; the duplicate-pair guard runs inside the write
// lock so concurrent saves cannot race.
type Memory struct {
	mu          sync.RWMutex
	byID        map[string]*trust.TrustRelationship
	byPair      map[string]string // "source|target" -> relationship id
	groups      map[string]*trust.TrustGroup
	memberships map[string]map[string]*trust.GroupMembership // group id -> org id
}

var (
	_ trust.RelationshipStore = (*Memory)(nil)
	_ GroupStore              = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:        make(map[string]*trust.TrustRelationship),
		byPair:      make(map[string]string),
		groups:      make(map[string]*trust.TrustGroup),
		memberships: make(map[string]map[string]*trust.GroupMembership),
	}
}

func pairKey(sourceOrg, targetOrg string) string {
	return sourceOrg + "|" + targetOrg
}

// FindDirect returns the relationship for the exact ordered pair, nil
// when none is stored.
func (m *Memory) FindDirect(ctx context.Context, sourceOrg, targetOrg string) (*trust.TrustRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPair[pairKey(sourceOrg, targetOrg)]
	if !ok {
		return nil, nil
	}
	return m.byID[id], nil
}

// FindGroupLink returns an active group both organizations belong to,
// nil when they share none.
func (m *Memory) FindGroupLink(ctx context.Context, orgA, orgB string) (*trust.TrustGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for groupID, members := range m.memberships {
		group, ok := m.groups[groupID]
		if !ok || !group.Active {
			continue
		}
		ma, okA := members[orgA]
		mb, okB := members[orgB]
		if okA && okB && ma.Active && mb.Active {
			return group, nil
		}
	}
	return nil, nil
}

// Get returns a relationship by id, nil when unknown.
func (m *Memory) Get(ctx context.Context, id string) (*trust.TrustRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id], nil
}

// Save persists a relationship, rejecting a second pending or active
// relationship for the same ordered pair.
func (m *Memory) Save(ctx context.Context, rel *trust.TrustRelationship) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("relationship requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(rel.SourceOrg, rel.TargetOrg)
	if existingID, ok := m.byPair[key]; ok && existingID != rel.ID {
		existing := m.byID[existingID]
		if existing != nil && isLive(existing.Status) && isLive(rel.Status) {
			return &trust.InvalidRelationshipError{
				Reason: fmt.Sprintf("a %s relationship already exists for %s -> %s",
					existing.Status, rel.SourceOrg, rel.TargetOrg),
			}
		}
	}

	m.byID[rel.ID] = rel
	m.byPair[key] = rel.ID
	return nil
}

func isLive(status trust.RelationshipStatus) bool {
	return status == trust.StatusPending || status == trust.StatusActive || status == trust.StatusSuspended
}

// AddGroup registers a trust group.
func (m *Memory) AddGroup(ctx context.Context, group *trust.TrustGroup) error {
	if group == nil || group.ID == "" {
		return fmt.Errorf("trust group requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.groups {
		if existing.Name == group.Name && existing.ID != group.ID {
			return fmt.Errorf("trust group name already in use: %s", group.Name)
		}
	}
	m.groups[group.ID] = group
	if _, ok := m.memberships[group.ID]; !ok {
		m.memberships[group.ID] = make(map[string]*trust.GroupMembership)
	}
	return nil
}

// AddMembership registers or replaces the membership for the
// (group, organization) pair.
func (m *Memory) AddMembership(ctx context.Context, membership *trust.GroupMembership) error {
	if membership == nil || membership.GroupID == "" || membership.OrgID == "" {
		return fmt.Errorf("membership requires group and organization ids")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[membership.GroupID]; !ok {
		return fmt.Errorf("trust group not found: %s", membership.GroupID)
	}
	if _, ok := m.memberships[membership.GroupID]; !ok {
		m.memberships[membership.GroupID] = make(map[string]*trust.GroupMembership)
	}
	m.memberships[membership.GroupID][membership.OrgID] = membership
	return nil
}

// GetGroup returns a group by id, nil when unknown.
func (m *Memory) GetGroup(ctx context.Context, id string) (*trust.TrustGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[id], nil
}
