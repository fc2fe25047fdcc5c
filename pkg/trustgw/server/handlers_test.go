package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/intelmesh/trustgw/pkg/trustgw/config"
	"github.com/intelmesh/trustgw/pkg/trustgw/sharing"
	"github.com/intelmesh/trustgw/pkg/trustgw/store"
	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	levels := trust.NewLevelRegistry()
	for _, level := range []*trust.TrustLevel{
		{Name: "untrusted", Rank: 0, DefaultAnonymization: trust.TierFull, DefaultAccess: trust.AccessNone, Active: true, SystemDefault: true},
		{Name: "standard", Rank: 50, DefaultAnonymization: trust.TierPartial, DefaultAccess: trust.AccessSubscribe, Active: true},
	} {
		if err := levels.Register(level); err != nil {
			t.Fatalf("Failed to register level: %v", err)
		}
	}

	st := store.NewMemory()
	hooks := trust.NewDecisionHooks()
	resolver := trust.NewResolver(st, levels, hooks)
	sharingSvc := sharing.NewService(resolver, nil)

	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		RateLimit:    1000,
		RateInterval: "1m",
	}
	srv, err := NewServer(cfg, st, levels, resolver, sharingSvc, hooks)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { srv.limiter.Stop() })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:50000"
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func createRelationship(t *testing.T, srv *Server) string {
	t.Helper()
	rec, resp := doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"level":      "standard",
		"actor":      "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create returned %d: %s", rec.Code, resp.Error)
	}
	data := resp.Data.(map[string]any)
	return data["id"].(string)
}

func TestRelationshipLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	id := createRelationship(t, srv)

	// Approvals from both sides, then activation.
	rec, resp := doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/approve", map[string]any{"actor": "alice", "side": "source"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Source approve returned %d: %s", rec.Code, resp.Error)
	}

	// Not yet fully approved.
	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/activate", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Half-approved activation returned %d, want conflict", rec.Code)
	}

	rec, resp = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/approve", map[string]any{"actor": "bob", "side": "target"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Target approve returned %d: %s", rec.Code, resp.Error)
	}
	rec, resp = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Activation returned %d: %s", rec.Code, resp.Error)
	}

	// Now resolvable.
	rec, resp = doJSON(t, srv, http.MethodGet, "/v1/resolve?source_org=org-a&target_org=org-b", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Resolve returned %d: %s", rec.Code, resp.Error)
	}
	res := resp.Data.(map[string]any)
	if res["anonymization_tier"] != "partial" {
		t.Errorf("Resolved tier = %v, want partial", res["anonymization_tier"])
	}

	// Suspend stops resolution, unsuspend restores it.
	rec, resp = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/suspend", map[string]any{"actor": "carol", "reason": "incident"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Suspend returned %d: %s", rec.Code, resp.Error)
	}
	_, resp = doJSON(t, srv, http.MethodGet, "/v1/resolve?source_org=org-a&target_org=org-b", nil)
	if resp.Data.(map[string]any)["no_relationship"] != true {
		t.Error("A suspended relationship should not resolve")
	}
	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/unsuspend", map[string]any{"actor": "carol"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Unsuspend returned %d", rec.Code)
	}

	// Revocation is terminal.
	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/revoke", map[string]any{"actor": "carol", "reason": "terminated"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Revoke returned %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships/"+id+"/unsuspend", map[string]any{"actor": "carol"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Unsuspending a revoked relationship returned %d, want conflict", rec.Code)
	}
}

func TestCreateRelationshipValidation(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-a",
		"target_org": "org-a",
		"level":      "standard",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Self relationship returned %d, want bad request", rec.Code)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"level":      "nonexistent",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Unknown level returned %d, want unprocessable entity", rec.Code)
	}

	// Duplicate live pair.
	createRelationship(t, srv)
	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"level":      "standard",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("Duplicate pair returned %d, want conflict", rec.Code)
	}
}

func TestGroupMembershipResolvesOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doJSON(t, srv, http.MethodPost, "/v1/groups", map[string]any{
		"name":          "finance-isac",
		"type":          "sector",
		"default_level": "standard",
		"founder_org":   "org-a",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create group returned %d: %s", rec.Code, resp.Error)
	}
	groupID := resp.Data.(map[string]any)["id"].(string)

	rec, resp = doJSON(t, srv, http.MethodPost, "/v1/groups/"+groupID+"/members", map[string]any{
		"org_id": "org-b",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Add member returned %d: %s", rec.Code, resp.Error)
	}

	_, resp = doJSON(t, srv, http.MethodGet, "/v1/resolve?source_org=org-a&target_org=org-b", nil)
	res := resp.Data.(map[string]any)
	if res["kind"] != "community" || res["group_id"] != groupID {
		t.Errorf("Expected a community resolution via %s, got %v", groupID, res)
	}
}

func TestCreateCommunityRelationshipChecksGroup(t *testing.T) {
	srv := newTestServer(t)

	// The referenced group must exist.
	rec, _ := doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"level":      "standard",
		"kind":       "community",
		"group_id":   "no-such-group",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Unknown group returned %d, want unprocessable entity", rec.Code)
	}

	rec, resp := doJSON(t, srv, http.MethodPost, "/v1/groups", map[string]any{
		"name":          "energy-isac",
		"type":          "sector",
		"default_level": "standard",
		"founder_org":   "org-a",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create group returned %d: %s", rec.Code, resp.Error)
	}
	groupID := resp.Data.(map[string]any)["id"].(string)

	rec, resp = doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"level":      "standard",
		"kind":       "community",
		"group_id":   groupID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Community create against a live group returned %d: %s", rec.Code, resp.Error)
	}

	// A deactivated group no longer anchors new relationships.
	group, err := srv.store.GetGroup(context.Background(), groupID)
	if err != nil || group == nil {
		t.Fatalf("Failed to load group: %v", err)
	}
	group.Deactivate("org-a")

	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/relationships", map[string]any{
		"source_org": "org-c",
		"target_org": "org-d",
		"level":      "standard",
		"kind":       "community",
		"group_id":   groupID,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Deactivated group returned %d, want unprocessable entity", rec.Code)
	}
}

func TestShareEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// No relationship: share succeeds but at the full tier.
	rec, resp := doJSON(t, srv, http.MethodPost, "/v1/share", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"record": map[string]any{
			"id":   "rec-1",
			"type": "indicator",
			"fields": []map[string]any{
				{"name": "src_ip", "type": "ipv4-addr", "value": "203.0.113.7"},
			},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Share returned %d: %s", rec.Code, resp.Error)
	}
	record := resp.Data.(map[string]any)
	if record["anonymization_tier"] != "full" {
		t.Errorf("Expected full tier without a relationship, got %v", record["anonymization_tier"])
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/v1/share", map[string]any{"source_org": "", "target_org": "org-b"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Missing organizations returned %d, want bad request", rec.Code)
	}
}

func TestBulkShareEndpoint(t *testing.T) {
	srv := newTestServer(t)

	records := make([]map[string]any, 3)
	for i := range records {
		records[i] = map[string]any{
			"id":   fmt.Sprintf("rec-%d", i+1),
			"type": "indicator",
			"fields": []map[string]any{
				{"name": "src_ip", "type": "ipv4-addr", "value": "203.0.113.7"},
			},
		}
	}

	rec, resp := doJSON(t, srv, http.MethodPost, "/v1/share/bulk", map[string]any{
		"source_org": "org-a",
		"target_org": "org-b",
		"records":    records,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Bulk share returned %d: %s", rec.Code, resp.Error)
	}
	data := resp.Data.(map[string]any)
	stats := data["stats"].(map[string]any)
	if stats["processed"] != float64(3) || stats["errors"] != float64(0) {
		t.Errorf("Bulk stats = %v", stats)
	}
	if got := len(data["records"].([]any)); got != 3 {
		t.Errorf("Expected 3 records back, got %d", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := newTestServer(t)
	srv.limiter.Stop()
	limiter, err := NewRateLimiter(2, "1m")
	if err != nil {
		t.Fatalf("Failed to create rate limiter: %v", err)
	}
	srv.limiter = limiter
	t.Cleanup(limiter.Stop)

	for i := 0; i < 2; i++ {
		rec, _ := doJSON(t, srv, http.MethodGet, "/healthz", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d returned %d", i+1, rec.Code)
		}
	}
	rec, _ := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Over-limit request returned %d, want 429", rec.Code)
	}
}
