package trust

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GroupType tags what kind of community a trust group represents.
type GroupType string

const (
	GroupSector    GroupType = "sector"
	GroupRegional  GroupType = "regional"
	GroupStrategic GroupType = "strategic"
	GroupCommunity GroupType = "community"
)

// TrustGroup is a many-organization community sharing a default trust
// policy without pairwise bilateral agreements.
type TrustGroup struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Type             GroupType `json:"type"`
	Public           bool      `json:"public"`
	RequiresApproval bool      `json:"requires_approval"`
	DefaultLevel     string    `json:"default_level"`
	AdminOrgs        []string  `json:"admin_orgs"`
	Active           bool      `json:"active"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewGroup creates a trust group founded by the given organization,
// which becomes its first administrator.
func NewGroup(name string, groupType GroupType, defaultLevel, founderOrg string) (*TrustGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("trust group requires a name")
	}
	if defaultLevel == "" {
		return nil, fmt.Errorf("trust group %q requires a default trust level", name)
	}
	if founderOrg == "" {
		return nil, fmt.Errorf("trust group %q requires a founding organization", name)
	}

	group := &TrustGroup{
		ID:           uuid.New().String(),
		Name:         name,
		Type:         groupType,
		DefaultLevel: defaultLevel,
		AdminOrgs:    []string{founderOrg},
		Active:       true,
		CreatedBy:    founderOrg,
		CreatedAt:    time.Now(),
	}

	log.Info().
		Str("group_id", group.ID).
		Str("name", name).
		Str("type", string(groupType)).
		Str("default_level", defaultLevel).
		Str("founder_org", founderOrg).
		Msg("Created trust group")

	return group, nil
}

// IsAdmin reports whether an organization administers the group.
func (g *TrustGroup) IsAdmin(orgID string) bool {
	for _, admin := range g.AdminOrgs {
		if admin == orgID {
			return true
		}
	}
	return false
}

// Deactivate takes the group out of resolution. Groups are never hard
// deleted while memberships exist.
func (g *TrustGroup) Deactivate(actor string) {
	g.Active = false
	log.Warn().
		Str("group_id", g.ID).
		Str("name", g.Name).
		Str("actor", actor).
		Msg("Trust group deactivated")
}

// MembershipRole is the role an organization holds inside a group.
type MembershipRole string

const (
	RoleMember        MembershipRole = "member"
	RoleModerator     MembershipRole = "moderator"
	RoleAdministrator MembershipRole = "administrator"
)

// GroupMembership links an organization to a trust group. The
// (group, organization) pair is unique; departures soft-remove the
// record rather than deleting it.
type GroupMembership struct {
	GroupID    string         `json:"group_id"`
	OrgID      string         `json:"org_id"`
	Role       MembershipRole `json:"role"`
	Active     bool           `json:"active"`
	JoinedAt   time.Time      `json:"joined_at"`
	LeftAt     *time.Time     `json:"left_at,omitempty"`
	InvitedBy  string         `json:"invited_by,omitempty"`
	ApprovedBy string         `json:"approved_by,omitempty"`
}

// NewMembership records an organization joining a group.
func NewMembership(groupID, orgID string, role MembershipRole, invitedBy, approvedBy string) *GroupMembership {
	if role == "" {
		role = RoleMember
	}
	return &GroupMembership{
		GroupID:    groupID,
		OrgID:      orgID,
		Role:       role,
		Active:     true,
		JoinedAt:   time.Now(),
		InvitedBy:  invitedBy,
		ApprovedBy: approvedBy,
	}
}

// Leave soft-removes the membership.
func (m *GroupMembership) Leave() {
	if !m.Active {
		return
	}
	now := time.Now()
	m.Active = false
	m.LeftAt = &now

	log.Info().
		Str("group_id", m.GroupID).
		Str("org_id", m.OrgID).
		Msg("Organization left trust group")
}
