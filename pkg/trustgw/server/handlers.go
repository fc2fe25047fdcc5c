package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/intelmesh/trustgw/pkg/trustgw/sharing"
	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

type createRelationshipRequest struct {
	SourceOrg  string     `json:"source_org"`
	TargetOrg  string     `json:"target_org"`
	Level      string     `json:"level"`
	Kind       string     `json:"kind"`
	GroupID    string     `json:"group_id,omitempty"`
	ValidFrom  time.Time  `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Actor      string     `json:"actor"`
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := trust.RelationshipKind(req.Kind)
	if kind == "" {
		kind = trust.KindBilateral
	}
	if _, err := s.levels.Get(req.Level); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if kind == trust.KindCommunity && req.GroupID != "" {
		group, err := s.store.GetGroup(r.Context(), req.GroupID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if group == nil {
			s.writeError(w, http.StatusUnprocessableEntity, "trust group not found: "+req.GroupID)
			return
		}
		if !group.Active {
			s.writeError(w, http.StatusUnprocessableEntity, "trust group is deactivated: "+req.GroupID)
			return
		}
	}

	rel, err := trust.NewRelationship(req.SourceOrg, req.TargetOrg, req.Level, kind, req.GroupID, req.ValidFrom, req.ValidUntil, req.Actor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Save(r.Context(), rel); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, http.StatusCreated, rel)
}

func (s *Server) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.loadRelationship(w, r)
	if !ok {
		return
	}
	s.writeSuccess(w, http.StatusOK, rel)
}

type approveRequest struct {
	Actor string `json:"actor"`
	Side  string `json:"side"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.loadRelationship(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := rel.Approve(req.Actor, trust.ApprovalSide(req.Side)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.store.Save(r.Context(), rel); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeSuccess(w, http.StatusOK, rel)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.loadRelationship(w, r)
	if !ok {
		return
	}

	from := rel.Status
	if !rel.Activate() {
		s.writeError(w, http.StatusConflict, "relationship is not pending and fully approved")
		return
	}
	if err := s.store.Save(r.Context(), rel); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.hooks.NotifyStateTransition(rel.ID, from, rel.Status)
	s.writeSuccess(w, http.StatusOK, rel)
}

type statusChangeRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(rel *trust.TrustRelationship, req statusChangeRequest) error {
		return rel.Suspend(req.Actor, req.Reason)
	})
}

func (s *Server) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(rel *trust.TrustRelationship, req statusChangeRequest) error {
		return rel.Unsuspend(req.Actor)
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(rel *trust.TrustRelationship, req statusChangeRequest) error {
		return rel.Revoke(req.Actor, req.Reason)
	})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, apply func(*trust.TrustRelationship, statusChangeRequest) error) {
	rel, ok := s.loadRelationship(w, r)
	if !ok {
		return
	}
	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from := rel.Status
	if err := apply(rel, req); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.store.Save(r.Context(), rel); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if rel.Status != from {
		s.hooks.NotifyStateTransition(rel.ID, from, rel.Status)
	}
	s.writeSuccess(w, http.StatusOK, rel)
}

func (s *Server) loadRelationship(w http.ResponseWriter, r *http.Request) (*trust.TrustRelationship, bool) {
	id := mux.Vars(r)["id"]
	rel, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, false
	}
	if rel == nil {
		s.writeError(w, http.StatusNotFound, "relationship not found")
		return nil, false
	}
	return rel, true
}

type createGroupRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	DefaultLevel string `json:"default_level"`
	FounderOrg   string `json:"founder_org"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.levels.Get(req.DefaultLevel); err != nil {
		s.writeDomainError(w, err)
		return
	}

	group, err := trust.NewGroup(req.Name, trust.GroupType(req.Type), req.DefaultLevel, req.FounderOrg)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.AddGroup(r.Context(), group); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	founder := trust.NewMembership(group.ID, req.FounderOrg, trust.RoleAdministrator, "", req.FounderOrg)
	if err := s.store.AddMembership(r.Context(), founder); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, http.StatusCreated, group)
}

type addMemberRequest struct {
	OrgID      string `json:"org_id"`
	Role       string `json:"role,omitempty"`
	InvitedBy  string `json:"invited_by,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	group, err := s.store.GetGroup(r.Context(), groupID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if group == nil {
		s.writeError(w, http.StatusNotFound, "trust group not found")
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgID == "" {
		s.writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	if group.RequiresApproval && !group.IsAdmin(req.ApprovedBy) {
		s.writeError(w, http.StatusForbidden, "membership requires approval by a group administrator")
		return
	}

	member := trust.NewMembership(groupID, req.OrgID, trust.MembershipRole(req.Role), req.InvitedBy, req.ApprovedBy)
	if err := s.store.AddMembership(r.Context(), member); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeSuccess(w, http.StatusCreated, member)
}

func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, http.StatusOK, s.levels.List())
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	sourceOrg := r.URL.Query().Get("source_org")
	targetOrg := r.URL.Query().Get("target_org")
	if sourceOrg == "" || targetOrg == "" {
		s.writeError(w, http.StatusBadRequest, "source_org and target_org are required")
		return
	}

	res, err := s.resolver.Resolve(r.Context(), sourceOrg, targetOrg)
	if err != nil {
		log.Error().Err(err).Msg("Trust resolution failed")
		s.writeError(w, http.StatusServiceUnavailable, "trust resolution unavailable")
		return
	}
	s.writeSuccess(w, http.StatusOK, res)
}

type shareRequest struct {
	SourceOrg string         `json:"source_org"`
	TargetOrg string         `json:"target_org"`
	Record    sharing.Record `json:"record"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceOrg == "" || req.TargetOrg == "" {
		s.writeError(w, http.StatusBadRequest, "source_org and target_org are required")
		return
	}

	out := s.sharing.AnonymizeRecord(r.Context(), req.Record, req.SourceOrg, req.TargetOrg)
	s.writeSuccess(w, http.StatusOK, out)
}

type bulkShareRequest struct {
	SourceOrg string           `json:"source_org"`
	TargetOrg string           `json:"target_org"`
	Records   []sharing.Record `json:"records"`
}

type bulkShareResponse struct {
	Records []sharing.Record  `json:"records"`
	Stats   sharing.BulkStats `json:"stats"`
}

func (s *Server) handleShareBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceOrg == "" || req.TargetOrg == "" {
		s.writeError(w, http.StatusBadRequest, "source_org and target_org are required")
		return
	}

	records, stats := s.sharing.BulkAnonymize(r.Context(), req.Records, req.SourceOrg, req.TargetOrg)
	s.writeSuccess(w, http.StatusOK, bulkShareResponse{Records: records, Stats: stats})
}
