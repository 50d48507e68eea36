package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/rtsp-supervisor/internal/config"
	"github.com/skypro1111/rtsp-supervisor/internal/metrics"
	"github.com/skypro1111/rtsp-supervisor/internal/rtsp"
)

const (
	serviceName    = "rtsp-supervisor"
	serviceVersion = "1.0.0"

	// loopCallTimeout bounds how long a request waits for the worker loop
	loopCallTimeout = 2 * time.Second
)

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	worker   *rtsp.Worker
	model    ConnectionModel
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	worker *rtsp.Worker, model ConnectionModel, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		worker:    worker,
		model:     model,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port)),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed API handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Client monitoring endpoints
	mux.HandleFunc("/clients", h.withMetrics("/clients", h.handleClients))
	mux.HandleFunc("/clients/", h.withMetrics("/clients/{id}", h.handleClientDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (not instrumented itself)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Capture the status code written by the handler
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

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

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *HTTPServer) loopContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), loopCallTimeout)
}

// modelStats collects the connection model state on the worker loop
func (h *HTTPServer) modelStats(ctx context.Context) (ModelStats, error) {
	var stats ModelStats
	err := h.worker.Loop().Call(ctx, func() { stats = h.model.Stats() })
	return stats, err
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := h.loopContext(r)
	defer cancel()

	// a loop that cannot run a no-op in time is reported as unhealthy
	status, code := "healthy", http.StatusOK
	loopStatus := "running"
	if err := h.worker.Loop().Call(ctx, func() {}); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		loopStatus = err.Error()
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"event_loop": map[string]interface{}{
				"status":  loopStatus,
				"pending": h.worker.Loop().Pending(),
			},
			"admission": map[string]interface{}{
				"mode":            h.model.Name(),
				"connections":     h.worker.Connections(),
				"max_connections": h.config.Server.MaxConnections,
			},
		},
	}

	writeJSON(w, code, health)
}

// handleClients implements the /clients endpoint
func (h *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := h.loopContext(r)
	defer cancel()

	clients, err := h.worker.Snapshot(ctx)
	if err != nil {
		h.logger.Warn("Failed to list clients", slog.String("error", err.Error()))
		http.Error(w, "Event loop unavailable", http.StatusServiceUnavailable)
		return
	}

	response := map[string]interface{}{
		"total_clients": len(clients),
		"timestamp":     time.Now().UTC(),
		"clients":       clients,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleClientDetail implements the /clients/{id} endpoint
func (h *HTTPServer) handleClientDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/clients/")
	if idStr == "" {
		http.Error(w, "Client ID required", http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	ctx, cancel := h.loopContext(r)
	defer cancel()

	info, found, err := h.worker.ClientInfo(ctx, id)
	if err != nil {
		http.Error(w, "Event loop unavailable", http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := map[string]interface{}{
		"server": map[string]interface{}{
			"rtsp_port":        h.config.Server.RTSPPort,
			"bind_address":     h.config.Server.BindAddress,
			"mode":             h.config.Server.Mode,
			"max_connections":  h.config.Server.MaxConnections,
			"read_buffer_size": h.config.Server.ReadBufferSize,
			"max_input_bytes":  h.config.Server.MaxInputBytes,
		},
		"liveness": map[string]interface{}{
			"soft_timeout":      h.config.Liveness.SoftTimeout,
			"hard_timeout":      h.config.Liveness.HardTimeout,
			"heartbeat_timeout": h.config.Liveness.HeartbeatTimeout,
			"tick_interval":     h.config.Liveness.GetTickInterval().Seconds(),
			"heartbeat_policy":  h.config.Liveness.HeartbeatPolicy,
			"rtcp_heartbeat":    h.config.Liveness.RTCPHeartbeat,
		},
		"process": map[string]interface{}{
			"rtp_port_min":  h.config.Process.RTPPortMin,
			"rtp_port_max":  h.config.Process.RTPPortMax,
			"reap_interval": h.config.Process.ReapInterval,
			"exit_grace":    h.config.Process.ExitGrace,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := h.loopContext(r)
	defer cancel()

	model, err := h.modelStats(ctx)
	if err != nil {
		http.Error(w, "Event loop unavailable", http.StatusServiceUnavailable)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"connections": map[string]interface{}{
			"live":    h.worker.Connections(),
			"ceiling": h.config.Server.MaxConnections,
		},
		"event_loop": map[string]interface{}{
			"pending":    h.worker.Loop().Pending(),
			"dispatched": h.worker.Loop().Dispatched(),
		},
		"model": model,
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

	apiDoc := map[string]interface{}{
		"service": "RTSP Connection Supervisor",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":             "API documentation",
			"GET /health":       "Service health check",
			"GET /clients":      "List connected clients",
			"GET /clients/{id}": "Get detailed client information",
			"GET /config":       "Get service configuration",
			"GET /stats":        "Get service statistics",
			"GET /metrics":      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
