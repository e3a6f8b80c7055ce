package gitlab_api

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

var DefaultRetry = RetryPolicy{
	Initial:    300 * time.Millisecond,
	Max:        2 * time.Second,
	MaxElapsed: 5 * time.Second,
}

// Gateway implements domain.PipelineGateway and domain.JobGateway on top of
// go-gitlab. Every call reads the current connection settings.
type Gateway struct {
	log     *zap.Logger
	clients *ClientCache
	conn    domain.ConnectionSource
	retry   RetryPolicy
}

type Option func(*Gateway)

func WithRetry(p RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

func NewGateway(log *zap.Logger, clients *ClientCache, conn domain.ConnectionSource, opts ...Option) *Gateway {
	g := &Gateway{
		log:     log.Named("gateway"),
		clients: clients,
		conn:    conn,
		retry:   DefaultRetry,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

var (
	_ domain.PipelineGateway = (*Gateway)(nil)
	_ domain.JobGateway      = (*Gateway)(nil)
)

func (g *Gateway) client() (*gitlab.Client, error) {
	return g.clients.Get(g.conn.Connection())
}

type call func(opts ...gitlab.RequestOptionFunc) (*gitlab.Response, error)

// read runs an idempotent request, retrying transport failures (network,
// 429, 5xx) with exponential backoff. Other failures are permanent.
func (g *Gateway) read(ctx context.Context, op string, fn call) error {
	attempt := func() error {
		resp, err := fn(gitlab.WithContext(ctx))
		if err == nil {
			return nil
		}

		rerr := remoteError(op, err)
		if !domain.IsTransport(rerr) || ctx.Err() != nil {
			return backoff.Permanent(rerr)
		}

		if wait := retryAfter(resp); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return backoff.Permanent(remoteError(op, ctx.Err()))
			}
		}

		g.log.Debug("retrying gitlab request", zap.String("op", op), zap.Error(rerr))
		return rerr
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retry.Initial
	bo.MaxInterval = g.retry.Max
	bo.MaxElapsedTime = g.retry.MaxElapsed

	if err := backoff.Retry(attempt, backoff.WithContext(bo, ctx)); err != nil {
		return remoteError(op, err)
	}
	return nil
}

// write runs a mutating request exactly once.
func (g *Gateway) write(ctx context.Context, op string, fn call) error {
	_, err := fn(gitlab.WithContext(ctx))
	if err != nil {
		err = remoteError(op, err)
		g.log.Warn("gitlab request failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func userName(name string) string {
	if name == "" {
		return domain.UnknownUser
	}
	return name
}

func zapCount(n int) zap.Field { return zap.Int("count", n) }
