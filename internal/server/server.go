// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/connection"
	"github.com/smartdevs17/solana-mint-listener/internal/hub"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/monitor"
	"github.com/smartdevs17/solana-mint-listener/internal/processor"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	EnableMetrics   bool          `json:"enable_metrics"`
	EnableHealth    bool          `json:"enable_health"`
	StreamKeepAlive time.Duration `json:"stream_keepalive"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	Version         string        `json:"version"`
}

// HTTPServer serves the event streams and the operational endpoints
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	hub            *hub.Hub
	monitor        *monitor.EventMonitor
	processor      *processor.EventProcessor
	connection     connection.Manager
	metricsManager *metrics.Manager
	logger         *logrus.Entry
	startTime      time.Time
}

// NewHTTPServer creates a new HTTP server. Everything but the hub may be nil.
func NewHTTPServer(
	config *ServerConfig,
	h *hub.Hub,
	mon *monitor.EventMonitor,
	proc *processor.EventProcessor,
	conn connection.Manager,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if h == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server requires a broadcast hub")
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	server := &HTTPServer{
		config:         config,
		hub:            h,
		monitor:        mon,
		processor:      proc,
		connection:     conn,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("server"),
		startTime:      time.Now(),
	}

	server.setupRouter()

	// Streams are long lived, so WriteTimeout stays at whatever the config says (0 by default)
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// Stream endpoints
	s.router.HandleFunc("/api/pumpfun-listener", s.streamHandler).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stream", s.streamHandler).Methods("GET")
	api.HandleFunc("/stream/ws", s.websocketHandler).Methods("GET")

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
		if s.metricsManager != nil {
			s.router.Handle("/metrics", s.metricsManager.Handler()).Methods("GET")
		}
	}
}

// Handler returns the routed handler wrapped with CORS for browser EventSource clients
func (s *HTTPServer) Handler() http.Handler {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Last-Event-ID"},
	}).Handler(s.router)
}

// Start binds the listener and serves in the background. Request contexts
// derive from ctx, so cancelling it ends every open stream.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater(ctx)
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater refreshes system and component metrics periodically
func (s *HTTPServer) systemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateComponentMetrics()
		case <-ctx.Done():
			return
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()

	pm := s.metricsManager.GetPrometheusMetrics()
	if s.monitor != nil {
		pm.UpdateComponentHealth("monitor", s.monitor.GetHealth().Healthy)
	}
	if s.processor != nil {
		pm.UpdateComponentHealth("processor", s.processor.GetHealth().Healthy)
	}
	if s.connection != nil {
		pm.UpdateComponentHealth("connection", s.connection.IsConnected())
	}
	pm.UpdateComponentHealth("hub", !s.hub.GetStats().Closed)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
		"subscribers":     s.hub.Count(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler reports each component and degrades the overall status
// when any of them is unhealthy
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}
	healthy := true

	if s.monitor != nil {
		h := s.monitor.GetHealth()
		components["monitor"] = h
		healthy = healthy && h.Healthy
	}
	if s.processor != nil {
		h := s.processor.GetHealth()
		components["processor"] = h
		healthy = healthy && h.Healthy
	}
	if s.connection != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := s.connection.HealthCheckWithContext(ctx)
		cancel()

		status := map[string]interface{}{"healthy": err == nil}
		if err != nil {
			status["error"] = err.Error()
		}
		components["connection"] = status
		healthy = healthy && err == nil
	}
	hubStats := s.hub.GetStats()
	components["hub"] = map[string]interface{}{
		"healthy":     !hubStats.Closed,
		"subscribers": hubStats.Subscribers,
	}
	healthy = healthy && !hubStats.Closed

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    s.config.Version,
		"uptime":     time.Since(s.startTime).String(),
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"hub":             s.hub.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.monitor != nil {
		stats["monitor"] = s.monitor.GetStats()
	}
	if s.processor != nil {
		stats["processor"] = s.processor.GetStats()
	}
	if s.connection != nil {
		stats["connection"] = s.connection.Stats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Helper methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithError(err).WithField("status", status).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
