package crowdsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandlerConfig configures the status HTTP handler
type HandlerConfig struct {
	Gatherer prometheus.Gatherer // Serves /metrics when set
	Events   EventReader         // Serves /workflows/{name}/events when set
	Logger   *slog.Logger        // Default: slog.Default()
}

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

type statusHandler struct {
	scheduler *Scheduler
	events    EventReader
	logger    *slog.Logger
}

// NewHandler returns the operational status API:
//
//	GET  /healthz
//	GET  /workflows
//	GET  /workflows/{name}
//	POST /workflows/{name}/start
//	GET  /workflows/{name}/events?limit=20
//	GET  /metrics
func NewHandler(s *Scheduler, config HandlerConfig) http.Handler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	h := &statusHandler{scheduler: s, events: config.Events, logger: config.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.listWorkflows)
		r.Get("/{name}", h.getWorkflow)
		r.Post("/{name}/start", h.startWorkflow)
		r.Get("/{name}/events", h.listEvents)
	})
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *statusHandler) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	workflows := h.scheduler.Workflows()
	out := make([]WorkflowStatus, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, wf.Snapshot())
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *statusHandler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, wf.Snapshot())
}

func (h *statusHandler) startWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !wf.StartManually() {
		h.writeError(w, http.StatusConflict, "workflow is already running")
		return
	}
	h.writeJSON(w, http.StatusAccepted, wf.Snapshot())
}

func (h *statusHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		h.writeError(w, http.StatusNotImplemented, "event log is not configured")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.events.RecentEvents(r.Context(), wf.Name(), limit)
	if err != nil {
		h.logger.Error("failed to read workflow events",
			slog.String("workflow", wf.Name()), slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to read workflow events")
		return
	}
	if events == nil {
		events = []Event{}
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *statusHandler) lookup(w http.ResponseWriter, r *http.Request) (*Workflow, bool) {
	wf, err := h.scheduler.Workflow(chi.URLParam(r, "name"))
	if errors.Is(err, ErrUnknownWorkflow) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return wf, true
}

func (h *statusHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *statusHandler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
