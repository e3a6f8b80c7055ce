package gitlab_api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/pkg/errors"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Constructor builds a client for one connection key. The returned transport,
// if any, has its idle connections closed when the client is discarded.
type Constructor func(cfg domain.ConnectionConfig) (*gitlab.Client, *http.Transport, error)

type cachedClient struct {
	client    *gitlab.Client
	transport *http.Transport
}

func (c *cachedClient) discard() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

// ClientCache hands out one *gitlab.Client per (url, token) pair. It is safe
// for concurrent use; a key is constructed at most once at a time.
type ClientCache struct {
	log   *zap.Logger
	build Constructor

	mu      sync.Mutex
	clients map[string]*cachedClient
	group   singleflight.Group
}

func NewClientCache(log *zap.Logger, build Constructor) *ClientCache {
	if build == nil {
		build = NewClient
	}
	return &ClientCache{
		log:     log.Named("clients"),
		build:   build,
		clients: make(map[string]*cachedClient),
	}
}

func cacheKey(cfg domain.ConnectionConfig) string {
	sum := sha256.Sum256([]byte(cfg.BaseURL + "|" + string(cfg.TokenType) + "|" + cfg.Token))
	return fmt.Sprintf("%x", sum)[:16]
}

func (c *ClientCache) lookup(key string) (*cachedClient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.clients[key]
	return cc, ok
}

func (c *ClientCache) Get(cfg domain.ConnectionConfig) (*gitlab.Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &domain.ConfigError{Reason: domain.NotConfigured}
	}

	key := cacheKey(cfg)
	if cc, ok := c.lookup(key); ok {
		return cc.client, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if cc, ok := c.lookup(key); ok {
			return cc, nil
		}

		c.log.Info("creating gitlab client", zap.String("base_url", cfg.BaseURL), zap.String("key", key))
		client, tr, err := c.build(cfg)
		if err != nil {
			c.log.Warn("gitlab client construction failed", zap.String("base_url", cfg.BaseURL), zap.Error(err))
			return nil, &domain.ConfigError{Reason: domain.ConnectionFailed, Cause: errors.Wrap(err, "create gitlab client")}
		}

		cc := &cachedClient{client: client, transport: tr}

		c.mu.Lock()
		for k, old := range c.clients {
			if k != key {
				old.discard()
				delete(c.clients, k)
			}
		}
		c.clients[key] = cc
		c.mu.Unlock()

		return cc, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*cachedClient).client, nil
}

// Clear discards every cached client. Call it whenever the connection
// settings change.
func (c *ClientCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, cc := range c.clients {
		cc.discard()
		delete(c.clients, k)
	}
	c.log.Debug("client cache cleared")
}

func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

type ConnectionResult struct {
	OK      bool
	Message string
}

// TestConnection fetches the current user. Failures are reported in the
// result, never returned.
func (c *ClientCache) TestConnection(ctx context.Context, cfg domain.ConnectionConfig) ConnectionResult {
	client, err := c.Get(cfg)
	if err != nil {
		if domain.IsNotConfigured(err) {
			return ConnectionResult{Message: "GitLab API not configured. Please set an API token."}
		}
		return ConnectionResult{Message: "Failed to connect to GitLab: " + err.Error()}
	}

	user, _, err := client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		err = remoteError("current user", err)
		c.log.Warn("connection test failed", zap.String("base_url", cfg.BaseURL), zap.Error(err))
		return ConnectionResult{Message: "Failed to connect to GitLab: " + err.Error()}
	}

	name := user.Name
	if name == "" {
		name = user.Username
	}
	return ConnectionResult{OK: true, Message: "Successfully connected to GitLab as " + name}
}

// NewClient is the default Constructor.
func NewClient(cfg domain.ConnectionConfig) (*gitlab.Client, *http.Transport, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	opts := []gitlab.ClientOptionFunc{
		gitlab.WithBaseURL(cfg.BaseURL),
		gitlab.WithHTTPClient(&http.Client{Transport: tr, Timeout: timeout}),
		gitlab.WithCustomRetryMax(0),
	}

	var (
		client *gitlab.Client
		err    error
	)
	switch cfg.TokenType {
	case domain.TokenOAuth:
		client, err = gitlab.NewOAuthClient(cfg.Token, opts...)
	case domain.TokenJob:
		client, err = gitlab.NewJobClient(cfg.Token, opts...)
	default:
		client, err = gitlab.NewClient(cfg.Token, opts...)
	}
	if err != nil {
		tr.CloseIdleConnections()
		return nil, nil, err
	}

	return client, tr, nil
}
