package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/agent"
	"github.com/yuelin/mamavillage/internal/memory"
	"github.com/yuelin/mamavillage/internal/sim"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	scheduler *sim.Scheduler
	store     memory.Store
	roster    *agent.Roster
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(scheduler *sim.Scheduler, store memory.Store, roster *agent.Roster, logger *zap.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		store:     store,
		roster:    roster,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/run/start", h.startRun)
		r.Post("/run/stop", h.stopRun)
		r.Get("/run/status", h.runStatus)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Get("/agents/{id}/memories", h.agentMemories)

		r.Post("/retention", h.retention)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "village": "mama"})
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var limits sim.Limits
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if h.scheduler.Status().Running {
		writeJSON(w, http.StatusConflict, map[string]string{"error": sim.ErrAlreadyRunning.Error()})
		return
	}

	go func() {
		if err := h.scheduler.Run(context.Background(), limits); err != nil &&
			!errors.Is(err, sim.ErrAlreadyRunning) {
			h.logger.Error("simulation run failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "starting",
		"limits": limits,
	})
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	h.scheduler.RequestStop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stop requested"})
}

func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	out := make([]agent.StateView, 0, h.roster.Len())
	for _, rt := range h.roster.All() {
		out = append(out, rt.View())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rt, ok := h.roster.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": rt.Profile(),
		"state":   rt.View(),
	})
}

func (h *Handler) agentMemories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.roster.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}

	f := memory.Filter{AgentID: id, Limit: 50}
	q := r.URL.Query()
	switch q.Get("kind") {
	case "conversation":
		f.Kinds = []memory.Kind{memory.KindConversation}
		f.AgentID = ""
		f.Audience = id
	case "plan":
		f.Kinds = []memory.Kind{memory.KindPlan}
	default:
		f.Kinds = []memory.Kind{memory.KindMemory}
	}
	if t := q.Get("type"); t != "" {
		f.MemoryType = memory.MemoryType(t)
	}
	if c := q.Get("contains"); c != "" {
		f.Contains = c
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}

	it, err := h.store.Query(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	records, err := memory.Collect(it)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type retentionRequest struct {
	Days int `json:"days"`
}

func (h *Handler) retention(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Days <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be positive"})
		return
	}

	horizon := time.Now().AddDate(0, 0, -req.Days)
	removed, err := h.store.RetentionCleanup(r.Context(), horizon)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"horizon": horizon,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
