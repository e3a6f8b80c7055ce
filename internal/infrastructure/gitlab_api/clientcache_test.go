package gitlab_api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

func countingConstructor(calls *atomic.Int32, delay time.Duration) Constructor {
	return func(cfg domain.ConnectionConfig) (*gitlab.Client, *http.Transport, error) {
		calls.Inc()
		time.Sleep(delay)
		return NewClient(cfg)
	}
}

func TestClientCache_BlankTokenIsNotConfigured(t *testing.T) {
	var calls atomic.Int32
	c := NewClientCache(zap.NewNop(), countingConstructor(&calls, 0))

	_, err := c.Get(domain.ConnectionConfig{BaseURL: "https://gitlab.com", Token: "  "})
	if !domain.IsNotConfigured(err) {
		t.Fatalf("expected NotConfigured, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("constructor must not run without a token")
	}
}

func TestClientCache_ConcurrentGetConstructsOnce(t *testing.T) {
	var calls atomic.Int32
	c := NewClientCache(zap.NewNop(), countingConstructor(&calls, 30*time.Millisecond))
	cfg := domain.ConnectionConfig{BaseURL: "https://gitlab.example.com", Token: "t"}

	const n = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		clients = make([]*gitlab.Client, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			cl, err := c.Get(cfg)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			clients[i] = cl
		}(i)
	}
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one construction, got %d", calls.Load())
	}
	for i := 1; i < n; i++ {
		if clients[i] != clients[0] {
			t.Fatalf("goroutine %d got a different client", i)
		}
	}
}

func TestClientCache_FailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	c := NewClientCache(zap.NewNop(), func(cfg domain.ConnectionConfig) (*gitlab.Client, *http.Transport, error) {
		if calls.Inc() == 1 {
			return nil, nil, errors.New("dns down")
		}
		return NewClient(cfg)
	})
	cfg := domain.ConnectionConfig{BaseURL: "https://gitlab.example.com", Token: "t"}

	if _, err := c.Get(cfg); !domain.IsConnectionFailed(err) {
		t.Fatalf("expected ConnectionFailed, got %v", err)
	}
	if _, err := c.Get(cfg); err != nil {
		t.Fatalf("second attempt must retry construction: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 constructions, got %d", calls.Load())
	}
}

func TestClientCache_DefaultConstructorRejectsBadURL(t *testing.T) {
	c := NewClientCache(zap.NewNop(), nil)

	_, err := c.Get(domain.ConnectionConfig{BaseURL: "://nope", Token: "t"})
	if !domain.IsConnectionFailed(err) {
		t.Fatalf("expected ConnectionFailed, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed construction must not be cached")
	}
}

func TestClientCache_KeyChangeAndClear(t *testing.T) {
	var calls atomic.Int32
	c := NewClientCache(zap.NewNop(), countingConstructor(&calls, 0))
	a := domain.ConnectionConfig{BaseURL: "https://a.example.com", Token: "t1"}
	b := domain.ConnectionConfig{BaseURL: "https://a.example.com", Token: "t2"}

	first, _ := c.Get(a)
	again, _ := c.Get(a)
	if first != again {
		t.Fatal("unchanged key must reuse the client")
	}

	if _, err := c.Get(b); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Errorf("old key must be discarded, have %d entries", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("clear left %d entries", c.Len())
	}

	if _, err := c.Get(b); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 constructions, got %d", calls.Load())
	}
}

func TestClientCache_TestConnection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != "good" {
			writeJSON(w, http.StatusUnauthorized, `{"message":"401 Unauthorized"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":1,"username":"jdoe","name":"Jane Doe"}`)
	})
	srv, _ := newServer(t, mux)
	c := NewClientCache(zap.NewNop(), nil)

	ok := c.TestConnection(context.Background(), domain.ConnectionConfig{BaseURL: srv.URL, Token: "good"})
	if !ok.OK || ok.Message != "Successfully connected to GitLab as Jane Doe" {
		t.Errorf("unexpected result %+v", ok)
	}

	bad := c.TestConnection(context.Background(), domain.ConnectionConfig{BaseURL: srv.URL, Token: "bad"})
	if bad.OK || !strings.HasPrefix(bad.Message, "Failed to connect to GitLab") {
		t.Errorf("unexpected result %+v", bad)
	}

	none := c.TestConnection(context.Background(), domain.ConnectionConfig{BaseURL: srv.URL})
	if none.OK || !strings.Contains(none.Message, "not configured") {
		t.Errorf("unexpected result %+v", none)
	}
}
