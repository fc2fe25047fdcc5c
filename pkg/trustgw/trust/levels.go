// Package trust implements the trust resolution engine: named trust
// levels, bilateral and community relationships between organizations,
// and the policy that governs how much of a shared record a recipient
// may see.
package trust

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// AnonymizationTier is the redaction strength applied to a data field
// before it crosses an organization boundary.
type AnonymizationTier string

const (
	// TierNone passes values through unchanged.
	TierNone AnonymizationTier = "none"
	// TierMinimal preserves maximum structure while removing
	// uniquely-identifying detail.
	TierMinimal AnonymizationTier = "minimal"
	// TierPartial is one step more aggressive than minimal.
	TierPartial AnonymizationTier = "partial"
	// TierHigh keeps only the coarsest category of a value.
	TierHigh AnonymizationTier = "high"
	// TierFull replaces values with deterministic pseudonyms.
	TierFull AnonymizationTier = "full"
	// TierCustom on a relationship means "defer to the trust level
	// default"; it is never an effective tier by itself.
	TierCustom AnonymizationTier = "custom"
)

// Valid reports whether the tier is one of the known values.
func (t AnonymizationTier) Valid() bool {
	switch t {
	case TierNone, TierMinimal, TierPartial, TierHigh, TierFull, TierCustom:
		return true
	}
	return false
}

// AccessTier is an ordinal permission level granted by a relationship.
type AccessTier string

const (
	AccessNone       AccessTier = "none"
	AccessRead       AccessTier = "read"
	AccessSubscribe  AccessTier = "subscribe"
	AccessContribute AccessTier = "contribute"
	AccessFull       AccessTier = "full"
)

// accessRanks fixes the ordinal scale none < read < subscribe < contribute < full.
var accessRanks = map[AccessTier]int{
	AccessNone:       0,
	AccessRead:       1,
	AccessSubscribe:  2,
	AccessContribute: 3,
	AccessFull:       4,
}

// Rank returns the position of the tier on the ordinal scale. Unknown
// tiers rank below none so a typo can never widen access.
func (a AccessTier) Rank() int {
	if r, ok := accessRanks[a]; ok {
		return r
	}
	return -1
}

// MinAccess returns the more restrictive of two access tiers. A
// relationship override can narrow but never widen what its trust level
// grants.
func MinAccess(a, b AccessTier) AccessTier {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// TrustLevel is a named tier carrying a numeric rank and the default
// anonymization and access tiers applied when a relationship does not
// override them.
type TrustLevel struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Rank                 int               `json:"rank"` // 0-100
	DefaultAnonymization AnonymizationTier `json:"default_anonymization"`
	DefaultAccess        AccessTier        `json:"default_access"`
	Active               bool              `json:"active"`
	SystemDefault        bool              `json:"system_default"`
}

// LevelRegistry holds the configured trust levels. Read-mostly; levels
// are registered at startup and looked up on every resolution.
type LevelRegistry struct {
	mu     sync.RWMutex
	levels map[string]*TrustLevel
}

// NewLevelRegistry creates an empty level registry.
func NewLevelRegistry() *LevelRegistry {
	return &LevelRegistry{
		levels: make(map[string]*TrustLevel),
	}
}

// Register adds a trust level. Names are unique; an out-of-range rank
// is rejected rather than clamped.
func (r *LevelRegistry) Register(level *TrustLevel) error {
	if level == nil || level.Name == "" {
		return fmt.Errorf("trust level requires a name")
	}
	if level.Rank < 0 || level.Rank > 100 {
		return fmt.Errorf("trust level %q rank %d outside [0,100]", level.Name, level.Rank)
	}
	if level.DefaultAnonymization == TierCustom || !level.DefaultAnonymization.Valid() {
		return fmt.Errorf("trust level %q has invalid default anonymization tier %q", level.Name, level.DefaultAnonymization)
	}
	if level.DefaultAccess.Rank() < 0 {
		return fmt.Errorf("trust level %q has invalid default access tier %q", level.Name, level.DefaultAccess)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.levels[level.Name]; exists {
		return fmt.Errorf("trust level already registered: %s", level.Name)
	}
	r.levels[level.Name] = level

	log.Info().
		Str("level", level.Name).
		Int("rank", level.Rank).
		Str("default_anonymization", string(level.DefaultAnonymization)).
		Str("default_access", string(level.DefaultAccess)).
		Bool("system_default", level.SystemDefault).
		Msg("Registered trust level")

	return nil
}

// Get returns the named trust level.
func (r *LevelRegistry) Get(name string) (*TrustLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	level, exists := r.levels[name]
	if !exists {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("trust level not found: %s", name)}
	}
	return level, nil
}

// Default returns the unique active system-default level. Zero or more
// than one marked default is a ConfigurationError; the ambiguity is
// surfaced, never silently resolved.
func (r *LevelRegistry) Default() (*TrustLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *TrustLevel
	for _, level := range r.levels {
		if !level.Active || !level.SystemDefault {
			continue
		}
		if found != nil {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("multiple default trust levels: %s and %s", found.Name, level.Name),
			}
		}
		found = level
	}
	if found == nil {
		return nil, &ConfigurationError{Reason: "no default trust level configured"}
	}
	return found, nil
}

// List returns all registered levels.
func (r *LevelRegistry) List() []*TrustLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	levels := make([]*TrustLevel, 0, len(r.levels))
	for _, level := range r.levels {
		levels = append(levels, level)
	}
	return levels
}
