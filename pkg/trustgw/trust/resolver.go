package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Resolution is the effective policy governing an exchange between two
// organizations. When NoRelationship is set the caller must fall back
// to the safest policy: full anonymization, no access.
type Resolution struct {
	NoRelationship bool `json:"no_relationship"`

	RelationshipID string           `json:"relationship_id,omitempty"`
	Kind           RelationshipKind `json:"kind,omitempty"`
	GroupID        string           `json:"group_id,omitempty"`
	Level          *TrustLevel      `json:"level,omitempty"`

	AnonymizationTier AnonymizationTier `json:"anonymization_tier"`
	AccessTier        AccessTier        `json:"access_tier"`
}

// NoTrustRelationship is the sentinel resolution returned when no
// direct or group-derived relationship is effective. It is not an
// error: absence of trust information is never treated as permission.
func NoTrustRelationship() Resolution {
	return Resolution{
		NoRelationship:    true,
		AnonymizationTier: TierFull,
		AccessTier:        AccessNone,
	}
}

// Resolver computes the effective anonymization and access policy for
// an ordered pair of organizations. It is stateless between calls; the
// store is the only collaborator that may block.
type Resolver struct {
	store  RelationshipStore
	levels *LevelRegistry
	hooks  *DecisionHooks

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewResolver creates a resolver over the given store and level
// registry. Hooks may be nil.
func NewResolver(store RelationshipStore, levels *LevelRegistry, hooks *DecisionHooks) *Resolver {
	return &Resolver{
		store:  store,
		levels: levels,
		hooks:  hooks,
		now:    time.Now,
	}
}

// Resolve finds the relationship governing source→target and computes
// the effective tiers. Precedence: an effective direct relationship
// always wins over shared group membership; with neither, the
// NoTrustRelationship sentinel is returned. Store failures are wrapped
// in ErrDependencyUnavailable.
func (rv *Resolver) Resolve(ctx context.Context, sourceOrg, targetOrg string) (Resolution, error) {
	now := rv.now()

	direct, err := rv.store.FindDirect(ctx, sourceOrg, targetOrg)
	if err != nil {
		rv.hooks.NotifyResolution(sourceOrg, targetOrg, "error", TierFull)
		return Resolution{}, fmt.Errorf("%w: direct lookup: %v", ErrDependencyUnavailable, err)
	}

	if direct != nil && direct.IsEffective(now) {
		res, err := rv.resolveDirect(direct)
		if err != nil {
			rv.hooks.NotifyResolution(sourceOrg, targetOrg, "error", TierFull)
			return Resolution{}, err
		}
		rv.hooks.NotifyResolution(sourceOrg, targetOrg, "direct", res.AnonymizationTier)
		return res, nil
	}

	group, err := rv.store.FindGroupLink(ctx, sourceOrg, targetOrg)
	if err != nil {
		rv.hooks.NotifyResolution(sourceOrg, targetOrg, "error", TierFull)
		return Resolution{}, fmt.Errorf("%w: group lookup: %v", ErrDependencyUnavailable, err)
	}

	if group != nil && group.Active {
		res, err := rv.resolveGroup(group)
		if err != nil {
			rv.hooks.NotifyResolution(sourceOrg, targetOrg, "error", TierFull)
			return Resolution{}, err
		}
		rv.hooks.NotifyResolution(sourceOrg, targetOrg, "group", res.AnonymizationTier)
		return res, nil
	}

	log.Debug().
		Str("source_org", sourceOrg).
		Str("target_org", targetOrg).
		Msg("No effective trust relationship, resolving to fail-safe policy")

	rv.hooks.NotifyResolution(sourceOrg, targetOrg, "none", TierFull)
	return NoTrustRelationship(), nil
}

// resolveDirect computes the effective tiers for a direct relationship:
// the anonymization override applies unless it is "custom", and the
// access tier is the ordinal minimum of the override and the level
// default, so an override can never grant looser access than the level
// allows.
func (rv *Resolver) resolveDirect(rel *TrustRelationship) (Resolution, error) {
	level, err := rv.levels.Get(rel.Level)
	if err != nil {
		return Resolution{}, err
	}

	tier := rel.AnonymizationOverride
	if tier == "" || tier == TierCustom {
		tier = level.DefaultAnonymization
	}

	accessOverride := rel.AccessOverride
	if accessOverride == "" {
		accessOverride = level.DefaultAccess
	}

	return Resolution{
		RelationshipID:    rel.ID,
		Kind:              rel.Kind,
		GroupID:           rel.GroupID,
		Level:             level,
		AnonymizationTier: tier,
		AccessTier:        MinAccess(accessOverride, level.DefaultAccess),
	}, nil
}

// resolveGroup synthesizes an ephemeral community view from a shared
// group's default trust level. Nothing is persisted.
func (rv *Resolver) resolveGroup(group *TrustGroup) (Resolution, error) {
	level, err := rv.levels.Get(group.DefaultLevel)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Kind:              KindCommunity,
		GroupID:           group.ID,
		Level:             level,
		AnonymizationTier: level.DefaultAnonymization,
		AccessTier:        level.DefaultAccess,
	}, nil
}
