package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"maintenance-automation/internal/engine"
	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
	"maintenance-automation/internal/stats"
)

const maxHistoryLimit = 500

// Automation is the part of the engine the HTTP surface uses.
type Automation interface {
	SubmitEvent(ctx context.Context, trigger string, companyID string, payload map[string]interface{}) engine.DispatchSummary
	GetStats(ctx context.Context, companyID string, window time.Duration) (stats.Summary, error)
	History(ctx context.Context, q execution.Query) ([]execution.Execution, error)
	RuntimeStats() stats.Snapshot
}

type Handler struct {
	Engine  Automation
	Logger  *logger.Logger
	Timeout time.Duration
	// Checks are named liveness checks reported by /healthz, such as
	// broker connectivity.
	Checks map[string]func() bool
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message"`
}

type eventRequest struct {
	Trigger   string                 `json:"trigger"`
	CompanyID string                 `json:"companyId"`
	Context   map[string]interface{} `json:"context"`
}

type eventResponse struct {
	engine.DispatchSummary
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks,omitempty"`
	Stats  stats.Snapshot  `json:"stats"`
}

// NewRouter returns a chi router with the standard middleware and all
// routes registered.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/events", h.handleEvent)
	r.Route("/companies/{companyId}", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Get("/executions", h.handleExecutions)
	})
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body: " + err.Error()})
		return
	}
	if _, err := rule.ParseTrigger(req.Trigger); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	if strings.TrimSpace(req.CompanyID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "companyId is required"})
		return
	}

	// The dispatch runs to completion even if the client goes away.
	summary := h.Engine.SubmitEvent(r.Context(), req.Trigger, req.CompanyID, req.Context)
	resp := eventResponse{DispatchSummary: summary}
	status := http.StatusOK
	if summary.Err != nil {
		resp.Error = summary.Err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	window, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	summary, err := h.Engine.GetStats(ctx, companyID, window)
	if err != nil {
		h.Logger.Error("failed to compute stats", "companyId", companyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to compute stats"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleExecutions(w http.ResponseWriter, r *http.Request) {
	q := execution.Query{
		CompanyID: chi.URLParam(r, "companyId"),
		RuleID:    r.URL.Query().Get("ruleId"),
		Limit:     50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)})
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "since must be an RFC3339 timestamp"})
			return
		}
		q.Since = since
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.Engine.History(ctx, q)
	if err != nil {
		h.Logger.Error("failed to list executions", "companyId", q.CompanyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to list executions"})
		return
	}
	if items == nil {
		items = []execution.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Stats: h.Engine.RuntimeStats()}
	status := http.StatusOK
	if len(h.Checks) > 0 {
		resp.Checks = make(map[string]bool, len(h.Checks))
		for name, check := range h.Checks {
			ok := check()
			resp.Checks[name] = ok
			if !ok {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.Timeout)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"requestId", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

// parseWindow accepts a Go duration or "all". Empty means the engine
// default.
func parseWindow(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return 0, nil
	case "all":
		return execution.AllTime, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("window must be a positive duration or \"all\"")
	}
	return d, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
