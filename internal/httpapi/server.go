package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/buddy/internal/archive"
	"github.com/ent0n29/buddy/internal/cache"
	"github.com/ent0n29/buddy/internal/classify"
	"github.com/ent0n29/buddy/internal/companion"
	"github.com/ent0n29/buddy/internal/config"
	"github.com/ent0n29/buddy/internal/knowledge"
	"github.com/ent0n29/buddy/internal/logging"
	"github.com/ent0n29/buddy/internal/observability"
	"github.com/ent0n29/buddy/internal/session"
	"github.com/ent0n29/buddy/internal/tasks"
)

// TurnRunner executes one companion turn.
type TurnRunner interface {
	HandleTurn(ctx context.Context, req companion.TurnRequest) (companion.TurnResult, error)
}

// Services are the components exposed over HTTP. Engine and Archive may be nil;
// the corresponding routes then answer 501.
type Services struct {
	Store      *session.Store
	Tasks      *tasks.Manager
	Knowledge  *knowledge.Scheduler
	Cache      *cache.Cache
	Classifier *classify.Classifier
	Engine     TurnRunner
	Archive    archive.Store
}

type Server struct {
	cfg      config.Config
	svc      Services
	metrics  *observability.Metrics
	log      *logging.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, svc Services, metrics *observability.Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/classify", s.handleClassify)
	r.Post("/v1/route", s.handleRoute)
	r.Post("/v1/turns", s.handleTurn)
	r.Get("/v1/turns/ws", s.handleTurnWS)

	r.Get("/v1/entities", s.handleListEntities)
	r.Route("/v1/entities/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetEntity)
		r.Delete("/", s.handleClearEntity)
		r.Get("/snapshot", s.handleSnapshot)
		r.Put("/snapshot", s.handleRestore)

		r.Get("/conversation", s.handleListConversation)
		r.Post("/conversation", s.handleAppendConversation)
		r.Get("/progress", s.handleGetProgress)
		r.Patch("/progress", s.handleMergeProgress)
		r.Delete("/cache", s.handleClearCache)
		r.Get("/archive", s.handleListArchive)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/reminder", s.handleTaskReminder)
		r.Post("/tasks/{taskID}/complete", s.handleCompleteTask)

		r.Get("/knowledge", s.handleListKnowledge)
		r.Post("/knowledge", s.handleAddKnowledge)
		r.Get("/knowledge/due", s.handleDueKnowledge)
		r.Get("/knowledge/stats", s.handleKnowledgeStats)
		r.Get("/knowledge/{itemID}", s.handleGetKnowledge)
		r.Post("/knowledge/{itemID}/review", s.handleReviewKnowledge)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"entities":     s.svc.Store.Len(),
		"archive_mode": s.archiveMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"turns_enabled":  s.svc.Engine != nil,
		"archive_mode":   s.archiveMode(),
		"cache_capacity": s.cfg.CacheMaxEntries,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "metrics_disabled", "metrics are not configured")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// entityID reads the {id} path parameter. An empty id has already been
// answered with 400 when ok is false.
func entityID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_entity_id", "missing entity id")
		return "", false
	}
	return id, true
}

func (s *Server) archiveMode() string {
	switch s.svc.Archive.(type) {
	case nil:
		return "disabled"
	case *archive.RedactingStore:
		return "redacting"
	default:
		return "direct"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
