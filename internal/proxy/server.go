package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/resilience"
)

// ErrorResponse is the JSON body of every error the proxy produces itself.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Upstream string `json:"upstream"`
}

// WriteJSONResponse writes v as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	WriteJSONResponse(w, status, ErrorResponse{Error: code, Message: message})
}

// HealthHandler reports that the proxy is up and where it forwards to.
func HealthHandler(upstream string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSONResponse(w, http.StatusOK, HealthResponse{OK: true, Upstream: upstream})
	}
}

// NewHandler builds the forwarding handler. GET /health is answered
// locally; every other method and path, uncleaned, goes to the forwarder.
func NewHandler(fwd *Forwarder) http.Handler {
	health := HealthHandler(fwd.base)

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/health" {
			health(w, r)
			return
		}
		fwd.ServeHTTP(w, r)
	})

	return Chain(root,
		RequestIDMiddleware,
		LoggingMiddleware,
		RecoveryMiddleware,
		CORSMiddleware(DefaultCORSConfig()),
	)
}

// NewStatusHandler serves /health, /ready and optionally /metrics on the
// status port, away from the forwarded paths.
func NewStatusHandler(fwd *Forwarder, metricsEnabled bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", HealthHandler(fwd.base))
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"upstream_breaker": func(ctx context.Context) (bool, error) {
			if fwd.Breaker().GetState() == resilience.StateOpen {
				return false, resilience.ErrCircuitOpen
			}
			return true, nil
		},
	}))
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Server is the proxy's HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server on addr. The write timeout leaves room for
// the upstream timeout.
func NewServer(addr string, handler http.Handler, upstreamTimeout time.Duration) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      upstreamTimeout + 15*time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return <-errCh
}
