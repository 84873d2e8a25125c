package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ivanarama/ConfluenceMCP/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultEndpointPath is the single route serving both GET and POST.
	DefaultEndpointPath = "/mcp"
	// HealthPath answers liveness probes outside the protocol.
	HealthPath = "/healthz"

	defaultMaxRequestBytes = 1 << 20
	shutdownTimeout        = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// SSEServer is the HTTP transport endpoint. Each POST yields exactly one
// SSE frame; no long-lived streams are kept.
type SSEServer struct {
	*BaseServer
	address         string
	endpointPath    string
	maxRequestBytes int64
	handler         http.Handler
}

// SSEServerOption configures an SSEServer.
type SSEServerOption func(*SSEServer)

// WithAddress sets the listening address.
func WithAddress(address string) SSEServerOption {
	return func(s *SSEServer) {
		s.address = address
	}
}

// WithMaxRequestBytes bounds the size of POST bodies.
func WithMaxRequestBytes(n int64) SSEServerOption {
	return func(s *SSEServer) {
		if n > 0 {
			s.maxRequestBytes = n
		}
	}
}

// NewSSEServer creates a new SSEServer.
func NewSSEServer(baseServer *BaseServer, opts ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		BaseServer:      baseServer,
		address:         ":8003",
		endpointPath:    DefaultEndpointPath,
		maxRequestBytes: defaultMaxRequestBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.endpointPath, s.handleEndpoint)
	mux.HandleFunc(HealthPath, s.handleHealth)
	s.handler = corsHandler(mux)
	return s
}

// Address returns the configured listening address.
func (s *SSEServer) Address() string {
	return s.address
}

// Handler returns the routing handler wrapped with CORS handling.
func (s *SSEServer) Handler() http.Handler {
	return s.handler
}

// ServeHTTP lets the server be mounted into another mux.
func (s *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func corsHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *SSEServer) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "SSEServer.handleEndpoint")
	defer span.End()

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("request_id", requestID),
	)

	logger := s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	logger.Debug("Received HTTP request")

	switch r.Method {
	case http.MethodGet:
		setStreamHeaders(w.Header(), false)
		s.writeFrame(w, logger, EndpointFrame(s.endpointPath))
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestBytes))
		defer r.Body.Close()

		var frame Frame
		if err != nil {
			logger.WithErr(err).Warn("Error reading request body")
			observability.RecordError(span, err)
			frame = s.encode(NewErrorResponse(nil, NewParseError()))
		} else {
			frame = s.HandleMessage(ctx, body)
		}

		setStreamHeaders(w.Header(), true)
		s.writeFrame(w, logger, frame)
	default:
		logger.Warn("Method not allowed")
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *SSEServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

// setStreamHeaders sets the event-stream headers, optionally asking reverse
// proxies not to buffer the response.
func setStreamHeaders(h http.Header, noBuffering bool) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if noBuffering {
		h.Set("X-Accel-Buffering", "no")
	}
}

func (s *SSEServer) writeFrame(w http.ResponseWriter, logger observability.Logger, frame Frame) {
	if _, err := frame.WriteTo(w); err != nil {
		logger.WithErr(err).Error("Error writing frame")
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *SSEServer) Run(ctx context.Context) error {
	server := &http.Server{
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.WithFields(map[string]interface{}{
		"address":  s.address,
		"endpoint": s.endpointPath,
	}).Info("Starting SSE server")

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("Context cancelled. Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithErr(err).Error("Error during server shutdown")
			return fmt.Errorf("error during server shutdown: %w", err)
		}

		s.logger.Info("Server gracefully shut down.")
		return ctx.Err()
	case err := <-errChan:
		s.logger.WithErr(err).Error("Error starting server")
		return fmt.Errorf("server error: %w", err)
	}
}
