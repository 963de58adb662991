package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qxb-in/ot/internal/config"
	"github.com/qxb-in/ot/internal/metrics"
	"github.com/qxb-in/ot/internal/protocol"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/session"
	"github.com/qxb-in/ot/internal/transcription"
)

// HTTPServer serves the realtime websocket, the OpenAI-compatible speech
// and transcription endpoints, and the monitoring API
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	sessions    *session.Manager
	registry    *provider.Registry
	transcriber *transcription.Client // nil when no batch vendor is configured
	metrics     *metrics.Metrics
	dialect     protocol.Dialect

	// Server state
	startTime time.Time
}

// NewHTTPServer creates the HTTP server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, sessions *session.Manager,
	registry *provider.Registry, transcriber *transcription.Client, m *metrics.Metrics) *HTTPServer {

	dialect, err := protocol.ParseDialect(appConfig.HTTP.Dialect)
	if err != nil {
		// Validated at load time
		dialect = protocol.DialectOpenAI
	}

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		sessions:    sessions,
		registry:    registry,
		transcriber: transcriber,
		metrics:     m,
		dialect:     dialect,
		startTime:   time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.Handler(),
		ReadTimeout:  appConfig.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Realtime transcription
	mux.HandleFunc("/v1/realtime", h.handleRealtime)

	// OpenAI-compatible audio endpoints
	mux.HandleFunc("/v1/audio/speech", h.withMetrics("/v1/audio/speech", h.handleSpeech))
	mux.HandleFunc("/v1/audio/transcriptions", h.withMetrics("/v1/audio/transcriptions", h.handleTranscriptions))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", h.metrics.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streamed audio is not buffered
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped writer for protocol upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP server",
		slog.String("address", ln.Addr().String()),
		slog.String("dialect", string(h.dialect)),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	transcriptionStatus := map[string]any{"status": "disabled"}
	if h.transcriber != nil {
		stats := h.transcriber.GetStats()
		transcriptionStatus = map[string]any{
			"status":          "running",
			"vendor":          stats.Vendor,
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]any{
			"name":    "ot",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"session_manager": map[string]any{
				"status":          "running",
				"active_sessions": h.sessions.GetActiveSessionCount(),
				"max_sessions":    h.config.Session.MaxSessions,
			},
			"vendors": map[string]any{
				"recognizers":  h.registry.RecognizerNames(),
				"synthesizers": h.registry.SynthesizerNames(),
			},
			"transcription": transcriptionStatus,
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessions.GetAllSessions()

	response := map[string]any{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract session ID from URL path
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	s, exists := h.sessions.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, s.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Round-trip through YAML so the response uses the config file's keys
	sanitized := h.config.Sanitized()
	raw, err := yaml.Marshal(&sanitized)
	if err != nil {
		http.Error(w, "Failed to encode configuration", http.StatusInternalServerError)
		return
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		http.Error(w, "Failed to encode configuration", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]any{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]any{
			"active_count": h.sessions.GetActiveSessionCount(),
			"max_sessions": h.config.Session.MaxSessions,
		},
		"vendors": map[string]any{
			"recognizers":  h.registry.RecognizerNames(),
			"synthesizers": h.registry.SynthesizerNames(),
		},
	}
	if h.transcriber != nil {
		stats["transcription"] = h.transcriber.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "OT speech protocol proxy",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                         "API documentation",
			"GET /v1/realtime":              "Realtime transcription websocket",
			"POST /v1/audio/speech":         "Text to speech",
			"POST /v1/audio/transcriptions": "Batch transcription of an audio file",
			"GET /health":                   "Service health check",
			"GET /sessions":                 "List active realtime sessions",
			"GET /sessions/{id}":            "Get realtime session details",
			"GET /config":                   "Get service configuration",
			"GET /stats":                    "Get service statistics",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
