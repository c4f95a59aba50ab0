package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/buddy/internal/tasks"
)

type createTaskRequest struct {
	Subject      string `json:"subject"`
	Description  string `json:"description"`
	DeadlineDays *int   `json:"deadline_days"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Description = strings.TrimSpace(req.Description)
	if req.Subject == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "subject is required")
		return
	}
	days := tasks.DefaultDeadlineDays
	if req.DeadlineDays != nil {
		days = *req.DeadlineDays
	}
	respondJSON(w, http.StatusCreated, s.svc.Tasks.Add(id, req.Subject, req.Description, days))
}

// handleListTasks returns every task, or only the visible ones with ?valid=true.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	validOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("valid")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_valid", "valid must be a boolean")
			return
		}
		validOnly = v
	}
	var out []tasks.Task
	if validOnly {
		out = s.svc.Tasks.Valid(id)
	} else {
		out = s.svc.Tasks.All(id)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_id":      id,
		"tasks":          out,
		"needs_reminder": s.svc.Tasks.NeedsReminder(id),
	})
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	taskID := strings.TrimSpace(chi.URLParam(r, "taskID"))
	task, changed := s.svc.Tasks.Complete(id, taskID)
	if !changed {
		if task.ID == "" {
			respondError(w, http.StatusNotFound, "task_not_found", "unknown task "+taskID)
			return
		}
		respondError(w, http.StatusConflict, "task_already_completed", "task "+taskID+" is already completed")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Tasks.Reminder(id))
}
