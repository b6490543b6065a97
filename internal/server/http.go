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
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/skypro1111/osc-relay-service/internal/config"
	"github.com/skypro1111/osc-relay-service/internal/metrics"
	"github.com/skypro1111/osc-relay-service/internal/protocol"
	"github.com/skypro1111/osc-relay-service/internal/relay"
	"github.com/skypro1111/osc-relay-service/internal/stream"
)

const (
	serviceName    = "osc-relay-service"
	serviceVersion = "1.0.0"

	// shutdownTimeout bounds graceful shutdown when Serve's context ends
	shutdownTimeout = 5 * time.Second
)

// HTTPServer serves the query endpoints, the WebSocket stream endpoint and
// the monitoring endpoints
type HTTPServer struct {
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	config    *config.Config
	engine    *relay.Engine
	udpServer *UDPServer
	metrics   *metrics.Metrics

	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	wsConfig stream.WSConfig

	startTime time.Time
}

// NewHTTPServer creates a new HTTP server. udpServer and m may be nil;
// gatherer backs the /metrics endpoint.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, engine *relay.Engine,
	udpServer *UDPServer, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		engine:    engine,
		udpServer: udpServer,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are not authenticated; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: rate.NewLimiter(rate.Limit(appConfig.Stream.AcceptRate), appConfig.Stream.AcceptBurst),
		wsConfig: stream.WSConfig{
			QueueSize:      appConfig.Stream.SendQueueSize,
			WriteTimeout:   appConfig.Stream.GetWriteTimeoutDuration(),
			PongTimeout:    appConfig.Stream.GetPongTimeoutDuration(),
			PingInterval:   appConfig.Stream.GetPingIntervalDuration(),
			MaxMessageSize: appConfig.Stream.MaxMessageSize,
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(appConfig.HTTP.Address, strconv.Itoa(appConfig.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	// Last received message
	mux.HandleFunc("/last", h.withMetrics("/last", h.handleLast))

	// Real-time stream of every received message; upgrades on / are
	// accepted as well
	if h.config.Stream.Path != "/" {
		mux.HandleFunc(h.config.Stream.Path, h.withMetrics(h.config.Stream.Path, h.handleStream))
	}

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

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

// Hijack lets the WebSocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// Listen binds the HTTP listener. A failure is returned as *BindError.
func (h *HTTPServer) Listen() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return &BindError{Network: "tcp", Address: h.server.Addr, Err: err}
	}
	h.listener = listener

	h.logger.Info("HTTP server listening",
		slog.String("address", listener.Addr().String()),
		slog.String("stream_path", h.config.Stream.Path),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Serve handles requests until ctx is cancelled, then shuts down gracefully.
func (h *HTTPServer) Serve(ctx context.Context) error {
	if h.listener == nil {
		return errors.New("http server is not listening")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Serve(h.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return h.Stop(shutdownCtx)
	}
}

// Stop gracefully stops the HTTP server. Upgraded stream connections are not
// tracked by net/http and are closed through the engine.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// handleRoot implements the / endpoint
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		h.handleStream(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	msg, ok := h.engine.Last()
	if !ok {
		fmt.Fprint(w, "No OSC data received yet.")
		return
	}

	payload, err := protocol.MarshalWire(msg)
	if err != nil {
		h.logger.Error("Failed to serialize last message", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "Received OSC data: %s", payload)
}

// handleLast implements the /last endpoint
func (h *HTTPServer) handleLast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg, ok := h.engine.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	payload, err := protocol.MarshalWire(msg)
	if err != nil {
		h.logger.Error("Failed to serialize last message", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

// handleStream upgrades the request to a WebSocket and registers the
// connection as a subscriber
func (h *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		h.metrics.RecordSubscriberRejected("rate_limited")
		h.logger.Warn("Stream connection rate limited", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		h.metrics.RecordSubscriberRejected("upgrade_failed")
		h.logger.Debug("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	registry := h.engine.Registry()
	sub := stream.NewWSSubscriber(uuid.NewString(), conn, h.wsConfig, h.logger, func(id string) {
		registry.Unregister(id)
	})

	if !registry.Register(sub) {
		h.metrics.RecordSubscriberRejected("duplicate_id")
		_ = sub.Close()
		return
	}
	sub.Start()

	h.metrics.RecordSubscriberAccepted()
	h.logger.Info("Client connected",
		slog.String("subscriber_id", sub.ID()),
		slog.String("remote_addr", sub.RemoteAddr()),
	)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var udpStats ServerStatistics
	if h.udpServer != nil {
		udpStats = h.udpServer.GetStatistics()
	}

	health := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime":         time.Since(h.startTime).String(),
		"message_format": h.config.Server.MessageFormat,
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"status":           "running",
				"packets_received": udpStats.PacketsReceived,
				"decode_errors":    udpStats.DecodeErrors,
			},
			"stream": map[string]interface{}{
				"status":      "running",
				"subscribers": h.engine.Registry().Len(),
			},
		},
	}

	writeJSON(w, h.logger, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var udpStats ServerStatistics
	if h.udpServer != nil {
		udpStats = h.udpServer.GetStatistics()
	}

	stats := map[string]interface{}{
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now().UTC(),
		"udp":         udpStats,
		"relay":       h.engine.Stats(),
		"subscribers": h.engine.Registry().Info(),
	}

	writeJSON(w, h.logger, stats)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write JSON response", slog.String("error", err.Error()))
	}
}
