// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bestseller-tracker/pkg/tracker"
)

// Trigger runs batches outside the schedule and reports scheduler state.
type Trigger interface {
	TriggerManual(ctx context.Context, priorityFilter *int, limit int) (*tracker.BatchResult, error)
	Status() tracker.SchedulerStatus
}

// Store exposes the counts shown on the status endpoint.
type Store interface {
	ItemCount(ctx context.Context) int
	RecentChanges(ctx context.Context, since time.Time) []tracker.Change
}

// HealthProbe reports one component's health.
type HealthProbe func(ctx context.Context) bool

// Server handles HTTP requests.
type Server struct {
	trigger Trigger
	store   Store
	probes  map[string]HealthProbe
	logger  *slog.Logger
	version string
}

// Config holds server configuration.
type Config struct {
	Trigger Trigger
	Store   Store
	Probes  map[string]HealthProbe
	Logger  *slog.Logger
	Version string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		trigger: cfg.Trigger,
		store:   cfg.Store,
		probes:  cfg.Probes,
		logger:  cfg.Logger,
		version: cfg.Version,
	}
}

// ListenAndServe sets up all routes and starts the server.
func (s *Server) ListenAndServe(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/trigger-batch", s.handleTriggerBatch)

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      60 * time.Second,  // Time to write response; manual batches are slow
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "bestseller-tracker",
		"version": s.version,
		"endpoints": []string{
			"GET /health",
			"GET /status",
			"POST /trigger-batch",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := make(map[string]bool, len(s.probes))
	healthy := true
	for name, probe := range s.probes {
		up := probe(r.Context())
		components[name] = up
		if !up {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scheduler":     s.trigger.Status(),
		"items_tracked": s.store.ItemCount(r.Context()),
		"changes_24h":   len(s.store.RecentChanges(r.Context(), since)),
		"server_time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleTriggerBatch runs a manual batch. Failures come back as a
// structured envelope, never as a raw 500 from a propagated fault.
func (s *Server) handleTriggerBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var priorityFilter *int
	if raw := r.URL.Query().Get("priority"); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "invalid priority: " + raw,
			})
			return
		}
		priorityFilter = &priority
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "invalid limit: " + raw,
			})
			return
		}
		limit = parsed
	}

	s.logger.Info("Manual batch requested",
		"priority", r.URL.Query().Get("priority"),
		"limit", limit)

	result, err := s.trigger.TriggerManual(r.Context(), priorityFilter, limit)
	if err != nil {
		s.logger.Error("Manual batch failed", "error", err)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}
