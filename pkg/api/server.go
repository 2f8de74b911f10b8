// Package api provides HTTP endpoints for health, cache status, reports and
// budgets of a running monitor
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xhit/go-str2duration/v2"

	"github.com/dashcache/dashcache/internal/config"
	"github.com/dashcache/dashcache/internal/monitor"
	"github.com/dashcache/dashcache/internal/report"
	"github.com/dashcache/dashcache/pkg/health"
	"github.com/dashcache/dashcache/pkg/types"
	"github.com/dashcache/dashcache/pkg/utils"
)

// Version is reported by the info endpoint.
var Version = "dev"

// Server provides HTTP API endpoints for monitoring
type Server struct {
	httpServer *http.Server
	monitor    *monitor.Monitor
	logger     *utils.StructuredLogger
	config     ServerConfig
	handler    http.Handler
	endpoints  []string
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// EnableMetrics mounts the Prometheus handler on /metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableCORS:    true,
		EnableMetrics: false,
	}
}

// ServerConfigFrom builds a ServerConfig from the api and metrics sections
// of the configuration.
func ServerConfigFrom(cfg *config.Configuration) ServerConfig {
	sc := DefaultServerConfig()
	sc.Address = cfg.API.Address
	if cfg.API.ReadTimeout > 0 {
		sc.ReadTimeout = cfg.API.ReadTimeout
	}
	if cfg.API.WriteTimeout > 0 {
		sc.WriteTimeout = cfg.API.WriteTimeout
	}
	sc.EnableCORS = cfg.API.EnableCORS
	sc.EnableMetrics = cfg.Metrics.Prometheus.Enabled
	return sc
}

// NewServer creates a new API server over m
func NewServer(config ServerConfig, m *monitor.Monitor) *Server {
	s := &Server{
		monitor: m,
		logger:  m.Logger().WithComponent("api"),
		config:  config,
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, h)
		s.endpoints = append(s.endpoints, pattern)
	}

	// Health endpoints
	route("/health", s.handleHealth)
	route("/health/resources", s.handleHealthResources)
	route("/health/live", s.handleLiveness)
	route("/health/ready", s.handleReadiness)

	// Status endpoints
	route("/status", s.handleStatus)
	route("/cache/{resource}", s.handleCacheResource)
	route("/alerts", s.handleAlerts)
	route("/errors", s.handleErrors)

	// Analysis endpoints
	route("/report/{period}", s.handleReport)
	route("/budget", s.handleBudget)
	route("/abtests", s.handleABTests)
	route("/abtests/{id}", s.handleABTest)

	if config.EnableMetrics {
		mux.Handle("/metrics", m.Collector().Handler())
		s.endpoints = append(s.endpoints, "/metrics")
	}

	route("/info", s.handleInfo)

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", map[string]interface{}{"address": s.config.Address})
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server", nil)
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	tracker := s.monitor.Health()
	overall := tracker.Overall()

	response := map[string]interface{}{
		"status":    overall.String(),
		"timestamp": time.Now(),
		"resources": len(tracker.Resources()),
	}

	statusCode := http.StatusOK
	switch overall {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded:
		statusCode = http.StatusPartialContent
	case health.StateHealthy:
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthResources(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.monitor.Health().Resources())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	tracker := s.monitor.Health()
	ready := tracker.Ready()

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    tracker.Overall().String(),
		"timestamp": time.Now(),
	})
}

// Status endpoint handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleCacheResource(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	resource := r.PathValue("resource")
	engine := s.monitor.Engine()

	if r.Method == http.MethodDelete {
		removed := engine.InvalidateResource(resource)
		s.monitor.Collector().UpdateCacheEntries(engine.Len())
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"resource":  resource,
			"removed":   removed,
			"timestamp": time.Now(),
		})
		return
	}

	metrics, ok := engine.AllMetrics()[resource]
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Resource not found: %s", resource))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"resource": resource,
		"metrics":  metrics,
		"hit_rate": metrics.HitRate(),
		"pending":  engine.Preloader().IsPending(resource),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	recorder := s.monitor.Recorder()
	alerts := recorder.Alerts()
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		alerts = recorder.ActiveAlerts()
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":    alerts,
		"count":     len(alerts),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	resource := r.URL.Query().Get("resource")
	window, err := s.windowParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tracker := s.monitor.Errors()
	response := map[string]interface{}{
		"resource":  resource,
		"breakdown": tracker.Breakdown(resource),
		"count":     tracker.ErrorCount(resource, window),
		"timestamp": time.Now(),
	}
	if resource != "" {
		response["error_rate"] = tracker.ErrorRate(resource, window)
	}
	s.respondJSON(w, http.StatusOK, response)
}

// Analysis endpoint handlers

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	period, ok := report.ParsePeriod(r.PathValue("period"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Unknown report period: %s", r.PathValue("period")))
		return
	}
	window, err := s.windowParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := report.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		if format, err = report.ParseFormat(f); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rep := s.monitor.Reports().Generate(period, window)
	if format == report.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if err := report.Encode(w, rep, format); err != nil {
		s.logger.Error("Failed to encode report", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	s.respondJSON(w, http.StatusOK, s.monitor.Budget().Validate())
}

func (s *Server) handleABTests(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	tests := s.monitor.ABTests().Tests()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tests": tests,
		"count": len(tests),
	})
}

func (s *Server) handleABTest(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	testID := r.PathValue("id")
	analyzer := s.monitor.ABTests()

	if session := r.URL.Query().Get("session"); session != "" {
		variant, ok := analyzer.Assign(testID, session)
		if !ok {
			s.respondError(w, http.StatusNotFound, fmt.Sprintf("A/B test not found: %s", testID))
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"test_id": testID,
			"session": session,
			"variant": variant,
		})
		return
	}

	results, ok := analyzer.Analyze(testID)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("A/B test not found: %s", testID))
		return
	}
	s.respondJSON(w, http.StatusOK, results)
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	cfg := s.monitor.Config()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":        "dashcache API",
		"version":        Version,
		"environment":    cfg.Global.Environment,
		"budget_profile": s.monitor.Budget().ActiveProfile(),
		"timestamp":      time.Now(),
		"endpoints":      s.endpoints,
	})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("API request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

// allow writes a 405 and returns false unless r uses one of methods.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// windowParam reads the optional "window" query parameter, a duration
// such as "90m" or "2d" ending now.
func (s *Server) windowParam(r *http.Request) (*types.TimeWindow, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return nil, nil
	}
	d, err := str2duration.ParseDuration(raw)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("invalid window: %s", raw)
	}
	w := types.Last(s.monitor.Now(), d)
	return &w, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
