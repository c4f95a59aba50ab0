package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/buddy/internal/session"
)

type addKnowledgeRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Context string `json:"context"`
}

type addKnowledgeResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

type reviewKnowledgeRequest struct {
	Correct *bool `json:"correct"`
}

func (s *Server) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req addKnowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	kind := session.KnowledgeKind(strings.ToLower(strings.TrimSpace(req.Type)))
	switch kind {
	case "", session.KindWord, session.KindConcept:
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "type must be word or concept")
		return
	}

	itemID, created := s.svc.Knowledge.Add(id, kind, req.Content, req.Context)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, addKnowledgeResponse{ID: itemID, Created: created})
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"items":     s.svc.Knowledge.All(id),
	})
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	item, found := s.svc.Knowledge.Get(id, itemID)
	if !found {
		respondError(w, http.StatusNotFound, "knowledge_not_found", "unknown knowledge item "+itemID)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// handleDueKnowledge lists items due now, most overdue first; ?limit defaults
// to 5.
func (s *Server) handleDueKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	limit, err := limitParam(r, 5)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"items":     s.svc.Knowledge.Due(id, limit),
	})
}

func (s *Server) handleReviewKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req reviewKnowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Correct == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "correct is required")
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	item, found := s.svc.Knowledge.RecordReview(id, itemID, *req.Correct)
	if !found {
		respondError(w, http.StatusNotFound, "knowledge_not_found", "unknown knowledge item "+itemID)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleKnowledgeStats(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Knowledge.Stats(id))
}
