package gitlab_api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"go.uber.org/zap"
)

type staticConn domain.ConnectionConfig

func (s staticConn) Connection() domain.ConnectionConfig { return domain.ConnectionConfig(s) }

var fastRetry = RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxElapsed: 150 * time.Millisecond}

// hits counts requests per "METHOD path".
type hits struct {
	mu sync.Mutex
	m  map[string]int
}

func (h *hits) add(r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.m == nil {
		h.m = make(map[string]int)
	}
	h.m[r.Method+" "+r.URL.Path]++
}

func (h *hits) get(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.m[key]
}

func newServer(t *testing.T, mux *http.ServeMux) (*httptest.Server, *hits) {
	t.Helper()
	h := &hits{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.add(r)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, h
}

func newTestGateway(t *testing.T, mux *http.ServeMux) (*Gateway, *hits) {
	t.Helper()
	srv, h := newServer(t, mux)
	conn := staticConn{BaseURL: srv.URL, Token: "secret", Timeout: 2 * time.Second}
	clients := NewClientCache(zap.NewNop(), nil)
	return NewGateway(zap.NewNop(), clients, conn, WithRetry(fastRetry)), h
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
