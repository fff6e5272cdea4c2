// Package api exposes a small HTTP status surface: health, the most
// recent evaluation pass and an on-demand re-evaluation trigger.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"humidtrigger/internal/ha"
	"humidtrigger/internal/shadowstate"
	"humidtrigger/pkg/plugin"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Server provides the HTTP status endpoints.
type Server struct {
	haClient    ha.HAClient
	tracker     *shadowstate.Tracker
	resettables []plugin.Resettable
	logger      *zap.Logger
	server      *http.Server
	started     time.Time
}

// NewServer creates the status API server on the given port.
func NewServer(haClient ha.HAClient, tracker *shadowstate.Tracker, resettables []plugin.Resettable, logger *zap.Logger, port int) *Server {
	s := &Server{
		haClient:    haClient,
		tracker:     tracker,
		resettables: resettables,
		logger:      logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/evaluation", s.handleEvaluation)
	mux.HandleFunc("/api/reset", s.handleReset)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.started = time.Now()
	s.logger.Info("Starting API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown failed", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Connected: s.haClient.IsConnected(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

// EvaluationResponse is the /api/evaluation payload.
type EvaluationResponse struct {
	Last         *shadowstate.Evaluation `json:"last"`
	TotalPasses  int                     `json:"total_passes"`
	TotalAborted int                     `json:"total_aborted"`
	TotalActions int                     `json:"total_actions"`
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	passes, aborted, actions := s.tracker.Counters()
	s.writeJSON(w, http.StatusOK, EvaluationResponse{
		Last:         s.tracker.Last(),
		TotalPasses:  passes,
		TotalAborted: aborted,
		TotalActions: actions,
	})

	s.logger.Debug("Evaluation request served", zap.String("remote_addr", r.RemoteAddr))
}

// handleReset re-runs every resettable plugin against current sensor
// state.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	failed := 0
	for _, resettable := range s.resettables {
		if err := resettable.Reset(); err != nil {
			s.logger.Error("Plugin reset failed", zap.Error(err))
			failed++
		}
	}

	status := "ok"
	code := http.StatusOK
	if failed > 0 {
		status = "partial"
		code = http.StatusInternalServerError
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status": status,
		"reset":  len(s.resettables) - failed,
		"failed": failed,
	})
}

// Endpoint documents one API route in the sitemap.
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, []Endpoint{
		{Path: "/", Method: "GET", Description: "This sitemap"},
		{Path: "/health", Method: "GET", Description: "Health check with HA connection status"},
		{Path: "/api/evaluation", Method: "GET", Description: "Most recent evaluation pass and counters"},
		{Path: "/api/reset", Method: "POST", Description: "Re-run evaluation for all plugins"},
	})
}
