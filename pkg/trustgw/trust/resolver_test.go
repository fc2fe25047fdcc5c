package trust

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeStore is a hand-rolled store double so resolver tests do not
// depend on the real store package.
type fakeStore struct {
	direct    map[string]*TrustRelationship // "source|target"
	group     *TrustGroup
	directErr error
	groupErr  error
}

func (f *fakeStore) FindDirect(ctx context.Context, sourceOrg, targetOrg string) (*TrustRelationship, error) {
	if f.directErr != nil {
		return nil, f.directErr
	}
	return f.direct[sourceOrg+"|"+targetOrg], nil
}

func (f *fakeStore) FindGroupLink(ctx context.Context, orgA, orgB string) (*TrustGroup, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return f.group, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*TrustRelationship, error) {
	for _, rel := range f.direct {
		if rel.ID == id {
			return rel, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Save(ctx context.Context, rel *TrustRelationship) error {
	if f.direct == nil {
		f.direct = make(map[string]*TrustRelationship)
	}
	f.direct[rel.SourceOrg+"|"+rel.TargetOrg] = rel
	return nil
}

func activeRelationship(t *testing.T, source, target, level string) *TrustRelationship {
	t.Helper()
	rel, err := NewRelationship(source, target, level, KindBilateral, "", time.Time{}, nil, "alice")
	if err != nil {
		t.Fatalf("Failed to create relationship: %v", err)
	}
	mustActivate(t, rel)
	return rel
}

func TestResolveDirectRelationship(t *testing.T) {
	levels := newTestRegistry(t)
	st := &fakeStore{}
	rel := activeRelationship(t, "org-a", "org-b", "standard")
	_ = st.Save(context.Background(), rel)

	rv := NewResolver(st, levels, nil)
	res, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.NoRelationship {
		t.Fatal("Expected a direct resolution")
	}
	if res.RelationshipID != rel.ID {
		t.Errorf("Expected relationship %s, got %s", rel.ID, res.RelationshipID)
	}
	// Custom override defers to the level default.
	if res.AnonymizationTier != TierPartial {
		t.Errorf("Expected partial tier from the standard level, got %s", res.AnonymizationTier)
	}
	if res.AccessTier != AccessSubscribe {
		t.Errorf("Expected subscribe access from the standard level, got %s", res.AccessTier)
	}
}

func TestResolveDirectionIsExact(t *testing.T) {
	levels := newTestRegistry(t)
	st := &fakeStore{}
	_ = st.Save(context.Background(), activeRelationship(t, "org-a", "org-b", "standard"))

	rv := NewResolver(st, levels, nil)
	res, err := rv.Resolve(context.Background(), "org-b", "org-a")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.NoRelationship {
		t.Error("Reverse direction must not resolve against an a→b relationship")
	}
}

func TestResolveOverrides(t *testing.T) {
	levels := newTestRegistry(t)
	st := &fakeStore{}
	rel := activeRelationship(t, "org-a", "org-b", "elevated")
	rel.AnonymizationOverride = TierHigh
	rel.AccessOverride = AccessFull
	_ = st.Save(context.Background(), rel)

	rv := NewResolver(st, levels, nil)
	res, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.AnonymizationTier != TierHigh {
		t.Errorf("Explicit anonymization override should win, got %s", res.AnonymizationTier)
	}
	// elevated defaults to contribute; a full override must clamp down to
	// the level default, never up.
	if res.AccessTier != AccessContribute {
		t.Errorf("Access should clamp to min(override, level default), got %s", res.AccessTier)
	}

	rel.AccessOverride = AccessRead
	res, err = rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.AccessTier != AccessRead {
		t.Errorf("A narrower override should apply as-is, got %s", res.AccessTier)
	}
}

func TestResolvePrecedenceDirectOverGroup(t *testing.T) {
	levels := newTestRegistry(t)
	group, err := NewGroup("finance-isac", GroupSector, "basic", "org-a")
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	st := &fakeStore{group: group}
	_ = st.Save(context.Background(), activeRelationship(t, "org-a", "org-b", "elevated"))

	rv := NewResolver(st, levels, nil)
	res, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.AnonymizationTier != TierMinimal {
		t.Errorf("Direct relationship should win over group membership, got tier %s", res.AnonymizationTier)
	}
}

func TestResolveFallsBackToGroup(t *testing.T) {
	levels := newTestRegistry(t)
	group, err := NewGroup("finance-isac", GroupSector, "basic", "org-a")
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	st := &fakeStore{group: group}
	rv := NewResolver(st, levels, nil)

	res, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.NoRelationship {
		t.Fatal("Shared group membership should resolve")
	}
	if res.Kind != KindCommunity || res.GroupID != group.ID {
		t.Errorf("Expected a community view of group %s, got %s/%s", group.ID, res.Kind, res.GroupID)
	}
	if res.RelationshipID != "" {
		t.Error("Group resolutions are ephemeral and carry no relationship id")
	}
	if res.AnonymizationTier != TierHigh || res.AccessTier != AccessRead {
		t.Errorf("Group resolution should use the basic level defaults, got %s/%s", res.AnonymizationTier, res.AccessTier)
	}

	// A deactivated group stops resolving.
	group.Deactivate("org-a")
	res, err = rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.NoRelationship {
		t.Error("Inactive groups must not resolve")
	}
}

func TestResolveExpiredDirectFallsThrough(t *testing.T) {
	levels := newTestRegistry(t)
	until := time.Now().Add(time.Hour)
	rel, err := NewRelationship("org-a", "org-b", "elevated", KindBilateral, "", time.Now().Add(-time.Hour), &until, "alice")
	if err != nil {
		t.Fatalf("Failed to create relationship: %v", err)
	}
	mustActivate(t, rel)

	group, err := NewGroup("finance-isac", GroupSector, "basic", "org-a")
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	st := &fakeStore{group: group}
	_ = st.Save(context.Background(), rel)

	rv := NewResolver(st, levels, nil)
	rv.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	res, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Kind != KindCommunity {
		t.Errorf("Expired direct relationship should fall through to the group, got %s", res.Kind)
	}
	if rel.Status != StatusActive {
		t.Errorf("Resolution must not rewrite the stored status, got %s", rel.Status)
	}
}

func TestResolveNoRelationshipSentinel(t *testing.T) {
	levels := newTestRegistry(t)
	rv := NewResolver(&fakeStore{}, levels, nil)

	res, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.NoRelationship {
		t.Fatal("Expected the no-relationship sentinel")
	}
	if res.AnonymizationTier != TierFull || res.AccessTier != AccessNone {
		t.Errorf("Sentinel must carry the safest policy, got %s/%s", res.AnonymizationTier, res.AccessTier)
	}
}

func TestResolveStoreFailure(t *testing.T) {
	levels := newTestRegistry(t)
	rv := NewResolver(&fakeStore{directErr: errors.New("connection refused")}, levels, nil)

	_, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if err == nil {
		t.Fatal("Store failures must surface as errors")
	}
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Errorf("Store failures should wrap ErrDependencyUnavailable, got %v", err)
	}
}

func TestResolveUnknownLevelIsConfigurationError(t *testing.T) {
	levels := newTestRegistry(t)
	st := &fakeStore{}
	_ = st.Save(context.Background(), activeRelationship(t, "org-a", "org-b", "unregistered"))

	rv := NewResolver(st, levels, nil)
	_, err := rv.Resolve(context.Background(), "org-a", "org-b")
	if !IsConfiguration(err) {
		t.Errorf("A relationship naming an unknown level should fail as configuration, got %v", err)
	}
}
