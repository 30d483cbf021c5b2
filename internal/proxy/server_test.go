package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler(), time.Second)
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunFailsOnBadAddr(t *testing.T) {
	srv := NewServer("127.0.0.1:-1", http.NotFoundHandler(), time.Second)

	err := srv.Run(context.Background(), time.Second)
	assert.Error(t, err)
}

func TestNewStatusHandler(t *testing.T) {
	fwd := NewForwarder(Config{UpstreamBase: "http://127.0.0.1:1", APIKey: "k"})

	rec := httptest.NewRecorder()
	NewStatusHandler(fwd, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "livetts_")

	rec = httptest.NewRecorder()
	NewStatusHandler(fwd, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	NewStatusHandler(fwd, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewStatusHandler(fwd, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}
