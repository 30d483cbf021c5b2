// Package proxy relays requests to the signing service with the
// server-side API key attached.
package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/resilience"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Headers that describe the inbound hop, never the upstream one.
var droppedHeaders = []string{
	"Host",
	"Content-Length",
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authorization",
	"Transfer-Encoding",
	"Te",
	"Trailer",
	"Upgrade",
	// The transport negotiates compression itself and decodes the body.
	"Accept-Encoding",
}

// Config configures a Forwarder.
type Config struct {
	UpstreamBase        string
	APIKey              string
	Timeout             time.Duration
	MaxBodyBytes        int64
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Transport overrides the upstream round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Forwarder is the catch-all handler that re-issues every request against
// the upstream base URL.
type Forwarder struct {
	base    string
	apiKey  string
	maxBody int64
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(cfg Config) *Forwarder {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	breaker := resilience.NewCircuitBreaker("upstream", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	breaker.OnStateChange = func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	}

	return &Forwarder{
		base:    strings.TrimRight(cfg.UpstreamBase, "/"),
		apiKey:  cfg.APIKey,
		maxBody: cfg.MaxBodyBytes,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		breaker: breaker,
		logger:  observability.Component("proxy"),
	}
}

// Breaker exposes the upstream circuit breaker for readiness checks.
func (f *Forwarder) Breaker() *resilience.CircuitBreaker {
	return f.breaker
}

// UpstreamURL joins the base with the request's path and query.
func (f *Forwarder) UpstreamURL(r *http.Request) string {
	uri := r.URL.RequestURI()
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return f.base + uri
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithCorrelationID(GetRequestID(r.Context())).With().Str("component", "proxy").Logger()

	body, contentType, err := f.encodeBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	target := f.UpstreamURL(r)

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, reqBody)
	if err != nil {
		f.fail(w, logger, target, err)
		return
	}

	req.Header = outboundHeaders(r.Header)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Accept", contentTypeJSON)

	logger.Info().Str("method", r.Method).Str("url", target).Msg("→ upstream")

	var (
		status     int
		upstreamCT string
		payload    []byte
		start      = time.Now()
	)
	err = f.breaker.Call(func() error {
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read upstream body: %w", err)
		}
		// Any upstream answer, 5xx included, is relayed as is and says the
		// upstream is reachable.
		status = resp.StatusCode
		upstreamCT = resp.Header.Get("Content-Type")
		return nil
	}, func(err error) bool {
		// A caller that went away says nothing about the upstream.
		return r.Context().Err() == nil
	})

	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) && r.Context().Err() == nil {
			observability.IncrementCircuitBreakerFailures(f.breaker.Name())
		}
		observability.RecordProxyRequest(r.Method, http.StatusBadGateway, time.Since(start))
		f.fail(w, logger, target, err)
		return
	}

	observability.RecordProxyRequest(r.Method, status, time.Since(start))
	logger.Info().
		Int("status", status).
		Int("bytes", len(payload)).
		Str("url", target).
		Msg("← upstream")

	switch {
	case strings.Contains(upstreamCT, contentTypeJSON):
		w.Header().Set("Content-Type", contentTypeJSON)
	case upstreamCT != "":
		w.Header().Set("Content-Type", upstreamCT)
	default:
		// Keep net/http from sniffing a type the upstream never sent.
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (f *Forwarder) fail(w http.ResponseWriter, logger zerolog.Logger, target string, err error) {
	observability.RecordError("proxy_failed", "proxy")
	logger.Error().Err(err).Str("url", target).Msg("Proxy error")
	writeJSONError(w, http.StatusBadGateway, "proxy_failed", err.Error())
}

// encodeBody re-encodes the inbound body for the upstream. GET and HEAD
// carry none; JSON stays JSON; everything else becomes a form body, empty
// unless the inbound body was itself a form.
func (f *Forwarder) encodeBody(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, "", nil
	}

	var raw []byte
	if r.Body != nil {
		var err error
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, f.maxBody))
		if err != nil {
			return nil, "", err
		}
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case isJSONType(mediaType):
		if len(bytes.TrimSpace(raw)) == 0 {
			return []byte("{}"), contentTypeJSON, nil
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, "", fmt.Errorf("invalid JSON body: %w", err)
		}
		if dec.More() {
			return nil, "", errors.New("invalid JSON body: trailing data")
		}
		var out bytes.Buffer
		enc := json.NewEncoder(&out)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, "", fmt.Errorf("failed to encode JSON body: %w", err)
		}
		return bytes.TrimRight(out.Bytes(), "\n"), contentTypeJSON, nil

	case mediaType == contentTypeForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, "", fmt.Errorf("invalid form body: %w", err)
		}
		return []byte(values.Encode()), contentTypeForm + ";charset=UTF-8", nil
	}

	return []byte{}, contentTypeForm + ";charset=UTF-8", nil
}

func isJSONType(mediaType string) bool {
	return mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

func outboundHeaders(in http.Header) http.Header {
	out := in.Clone()
	if out == nil {
		out = http.Header{}
	}

	// Headers named by Connection are hop-by-hop too.
	for _, v := range in.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, h := range droppedHeaders {
		out.Del(h)
	}
	return out
}
