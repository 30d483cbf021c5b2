package proxy

import (
	"context"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/livetts/internal/observability"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// bodyPreviewLimit bounds how much of a request body the access log shows.
const bodyPreviewLimit = 500

type contextKey string

const requestIDKey contextKey = "request_id"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware so that the first one listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// previewReader keeps the first bytes read through it.
type previewReader struct {
	io.ReadCloser
	buf []byte
}

func (p *previewReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	if room := bodyPreviewLimit - len(p.buf); room > 0 && n > 0 {
		p.buf = append(p.buf, b[:min(n, room)]...)
	}
	return n, err
}

// LoggingMiddleware writes one access log line per request with method,
// url, status, response size, latency and a preview of the request body.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		var preview *previewReader
		if r.Body != nil && r.Body != http.NoBody {
			preview = &previewReader{ReadCloser: r.Body}
			r.Body = preview
		}

		next.ServeHTTP(rw, r)

		logger := observability.WithCorrelationID(GetRequestID(r.Context()))
		var evt *zerolog.Event
		switch {
		case rw.statusCode >= 500:
			evt = logger.Error()
		case rw.statusCode >= 400:
			evt = logger.Warn()
		default:
			evt = logger.Info()
		}

		body := "-"
		if preview != nil && len(preview.buf) > 0 {
			body = strings.ToValidUTF8(string(preview.buf), "")
		}

		evt.Str("method", r.Method).
			Str("url", r.URL.RequestURI()).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("latency", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Str("body", body).
			Msg("request completed")
	})
}

// RecoveryMiddleware turns a handler panic into a 500 JSON error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}

				observability.RecordError("panic", "proxy")
				logger := observability.WithCorrelationID(GetRequestID(r.Context()))
				logger.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("stack", string(debug.Stack())).
					Msg("panic in handler")

				writeJSONError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// CORSConfig contains configuration for CORS middleware.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	ExposedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig allows any origin, which suits a signing proxy that is
// called from browser-based overlays.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"},
		ExposedHeaders: []string{RequestIDHeader},
	}
}

// CORSMiddleware adds CORS headers and answers preflight requests with 204.
func CORSMiddleware(config *CORSConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case contains(config.AllowedOrigins, "*"):
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && contains(config.AllowedOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			if len(config.ExposedHeaders) > 0 {
				w.Header().Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
			}

			// Only a real preflight is answered here; other OPTIONS calls
			// are forwarded like any other method.
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ","))
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
					w.Header().Add("Vary", "Access-Control-Request-Headers")
				}
				if config.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				}
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
