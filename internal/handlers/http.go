// Package handlers exposes the engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/aegisshield/pattern-engine/internal/config"
	"github.com/aegisshield/pattern-engine/internal/engine"
	"github.com/aegisshield/pattern-engine/internal/graph"
	"github.com/aegisshield/pattern-engine/internal/metrics"
	"github.com/aegisshield/pattern-engine/internal/query"
	"github.com/aegisshield/pattern-engine/internal/transform"
)

// HTTPHandlers contains HTTP request handlers
type HTTPHandlers struct {
	engine  *engine.Engine
	config  config.Config
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewHTTPHandlers creates new HTTP handlers
func NewHTTPHandlers(
	eng *engine.Engine,
	cfg config.Config,
	collector *metrics.Collector,
	logger *slog.Logger,
) *HTTPHandlers {
	return &HTTPHandlers{
		engine:  eng,
		config:  cfg,
		metrics: collector,
		logger:  logger,
	}
}

// RegisterRoutes registers HTTP routes
func (h *HTTPHandlers) RegisterRoutes(router *mux.Router) {
	// Transform endpoints
	router.HandleFunc("/api/v1/transform/accounts", h.transformAccounts).Methods("POST")
	router.HandleFunc("/api/v1/transform/timeline", h.transformTimeline).Methods("POST")

	// Detection endpoints
	router.HandleFunc("/api/v1/patterns/detect", h.detectPatterns).Methods("POST")

	// Graph query endpoints
	router.HandleFunc("/api/v1/graphs/filter", h.filterGraph).Methods("POST")
	router.HandleFunc("/api/v1/graphs/stats", h.graphStats).Methods("POST")

	// Case orchestration endpoints
	router.HandleFunc("/api/v1/cases/analyze", h.analyzeCase).Methods("POST")
	router.HandleFunc("/api/v1/cases/active", h.activeJobs).Methods("GET")

	// Health endpoints
	router.HandleFunc("/health", h.healthCheck).Methods("GET")
	router.HandleFunc("/ready", h.readinessCheck).Methods("GET")
}

// Middleware records request metrics for every handled route.
func (h *HTTPHandlers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		h.metrics.RecordRequest(r.Method, endpoint, strconv.Itoa(recorder.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// transformAccounts builds a transaction graph from a raw batch
func (h *HTTPHandlers) transformAccounts(w http.ResponseWriter, r *http.Request) {
	var req TransformAccountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if len(req.Accounts) == 0 {
		h.writeError(w, http.StatusBadRequest, "accounts are required", nil)
		return
	}

	g, err := transform.Accounts(req.Accounts, req.Transactions)
	if err != nil {
		h.writeTransformError(w, "Failed to transform accounts", err)
		return
	}

	h.metrics.RecordGraphSize(g.EntityCount(), g.RelationshipCount())
	h.writeJSON(w, http.StatusOK, g)
}

// transformTimeline builds a timeline graph for one subject
func (h *HTTPHandlers) transformTimeline(w http.ResponseWriter, r *http.Request) {
	var req TransformTimelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.SubjectID == "" {
		h.writeError(w, http.StatusBadRequest, "subject_id is required", nil)
		return
	}

	g, err := transform.Timeline(req.Events, req.SubjectID)
	if err != nil {
		h.writeTransformError(w, "Failed to transform timeline", err)
		return
	}

	h.metrics.RecordGraphSize(g.EntityCount(), g.RelationshipCount())
	h.writeJSON(w, http.StatusOK, g)
}

// detectPatterns runs the requested detectors over a submitted graph
func (h *HTTPHandlers) detectPatterns(w http.ResponseWriter, r *http.Request) {
	var req DetectPatternsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Graph == nil {
		h.writeError(w, http.StatusBadRequest, "graph is required", nil)
		return
	}

	h.logger.Info("Processing pattern detection request",
		"detectors", req.Detectors,
		"entities", req.Graph.EntityCount(),
		"relationships", req.Graph.RelationshipCount())

	patterns, err := h.engine.Registry().DetectPatterns(r.Context(), req.Graph, req.Detectors)
	if err != nil {
		if errors.Is(err, graph.ErrCancelled) {
			h.writeError(w, http.StatusRequestTimeout, "Detection cancelled", err)
			return
		}
		h.logger.Error("Pattern detection failed", "error", err)
		h.writeError(w, http.StatusBadRequest, "Pattern detection failed", err)
		return
	}

	h.writeJSON(w, http.StatusOK, &DetectPatternsResponse{
		Patterns: patterns,
		Count:    len(patterns),
	})
}

// filterGraph applies a predicate to a submitted graph
func (h *HTTPHandlers) filterGraph(w http.ResponseWriter, r *http.Request) {
	var req FilterGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Graph == nil {
		h.writeError(w, http.StatusBadRequest, "graph is required", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, query.FilterGraph(req.Graph, req.Predicate))
}

// graphStats computes aggregate statistics for a submitted graph
func (h *HTTPHandlers) graphStats(w http.ResponseWriter, r *http.Request) {
	var req GraphStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Graph == nil {
		h.writeError(w, http.StatusBadRequest, "graph is required", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, query.Stats(req.Graph))
}

// analyzeCase runs the full pipeline for one case
func (h *HTTPHandlers) analyzeCase(w http.ResponseWriter, r *http.Request) {
	var req engine.CaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.CaseID == "" {
		h.writeError(w, http.StatusBadRequest, "case_id is required", nil)
		return
	}
	if len(req.Accounts) == 0 && len(req.Timelines) == 0 {
		h.writeError(w, http.StatusBadRequest, "case has no accounts or timelines", nil)
		return
	}

	result, err := h.engine.AnalyzeCase(r.Context(), &req)
	if err != nil {
		if errors.Is(err, graph.ErrCancelled) {
			h.writeError(w, http.StatusRequestTimeout, "Analysis cancelled", err)
			return
		}
		h.logger.Error("Case analysis failed", "case_id", req.CaseID, "error", err)
		h.writeTransformError(w, "Case analysis failed", err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// activeJobs lists analyses currently running
func (h *HTTPHandlers) activeJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.engine.ActiveJobs()
	h.writeJSON(w, http.StatusOK, &ActiveJobsResponse{
		Jobs:  jobs,
		Count: len(jobs),
	})
}

// healthCheck returns service health status
func (h *HTTPHandlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "pattern-engine",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// readinessCheck returns service readiness status
func (h *HTTPHandlers) readinessCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeTransformError maps graph construction errors to client or
// server failures. Malformed input (dangling references, duplicate
// ids) is the caller's fault.
func (h *HTTPHandlers) writeTransformError(w http.ResponseWriter, message string, err error) {
	var dangling *graph.DanglingReferenceError
	if errors.As(err, &dangling) || errors.Is(err, graph.ErrDuplicateEntity) {
		h.writeError(w, http.StatusUnprocessableEntity, message, err)
		return
	}
	h.writeError(w, http.StatusInternalServerError, message, err)
}

// writeJSON writes JSON response
func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err != nil && h.config.Environment != "production" {
		response["details"] = err.Error()
	}

	h.writeJSON(w, status, response)
}
