package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/buddy/internal/session"
)

const maxSnapshotBytes = 4 << 20

type appendConversationRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"entities": s.svc.Store.Entities(),
	})
}

// handleGetEntity returns the full record, creating an empty one for unknown
// ids like every other read.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Store.GetOrCreate(id))
}

func (s *Server) handleClearEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	if !s.svc.Store.Clear(id) {
		respondError(w, http.StatusNotFound, "entity_not_found", "no memory for entity "+id)
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveEntities.Set(float64(s.svc.Store.Len()))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	data, err := s.svc.Store.Snapshot(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.svc.Store.Restore(id, data); err != nil {
		if errors.Is(err, session.ErrEmptySnapshot) {
			respondError(w, http.StatusBadRequest, "empty_snapshot", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_snapshot", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Store.GetOrCreate(id))
}

// handleListConversation accepts ?since=<duration> (e.g. 30m) or
// ?since_hours=<n> to restrict the window.
func (s *Server) handleListConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	since, err := sinceParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_since", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_id":    id,
		"conversation": s.svc.Store.Conversation(id, since),
	})
}

func (s *Server) handleAppendConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req appendConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "role is required")
		return
	}
	entry := s.svc.Store.AppendConversation(id, session.ConversationEntry{
		Role:    req.Role,
		Content: req.Content,
		Type:    strings.TrimSpace(req.Type),
	})
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Store.Progress(id))
}

func (s *Server) handleMergeProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var update session.ProgressUpdate
	if err := decodeJSON(r, &update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Store.MergeProgress(id, update))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	s.svc.Cache.Clear(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	if s.svc.Archive == nil {
		respondError(w, http.StatusNotImplemented, "archive_disabled", "turn archive is not configured")
		return
	}
	limit, err := limitParam(r, 50)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	entries, err := s.svc.Archive.Recent(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusBadGateway, "archive_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"entries":   entries,
	})
}

func sinceParam(r *http.Request) (time.Duration, error) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, err
		}
		if d < 0 {
			return 0, errors.New("since must not be negative")
		}
		return d, nil
	}
	if raw := strings.TrimSpace(q.Get("since_hours")); raw != "" {
		h, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, err
		}
		if h < 0 {
			return 0, errors.New("since_hours must not be negative")
		}
		return time.Duration(h * float64(time.Hour)), nil
	}
	return 0, nil
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("limit must be positive")
	}
	return n, nil
}
