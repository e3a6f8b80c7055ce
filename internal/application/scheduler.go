package application

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

var ErrInvalidInterval = errors.New("poll interval must be positive")

const defaultFetchTimeout = 2 * time.Minute

// fetchCall is one requested fetch. Every TriggerNow that arrives before it
// resolves shares its done channel.
type fetchCall struct {
	gen  uint64
	seq  uint64
	done chan struct{}
}

type SchedulerOption func(*RefreshScheduler)

// WithPauseFile skips timer ticks while path exists. Manual triggers still run.
func WithPauseFile(path string) SchedulerOption {
	return func(s *RefreshScheduler) { s.pauseFile = path }
}

func WithFetchTimeout(d time.Duration) SchedulerOption {
	return func(s *RefreshScheduler) { s.timeout = d }
}

// RefreshScheduler polls one project. At most one fetch is outstanding at a
// time and results reach the consumer in the order fetches were started.
type RefreshScheduler struct {
	log       *zap.Logger
	project   domain.ProjectRef
	fetcher   Fetcher
	pool      *Pool
	consumer  domain.Consumer
	pauseFile string
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	gen atomic.Uint64
	seq atomic.Uint64

	mu       sync.Mutex
	state    State
	interval time.Duration
	epoch    uint64
	// inflight is the call whose result will be delivered. wire is the call
	// whose request is running, which may be a detached one. When both are
	// set and differ, inflight is queued behind wire.
	inflight *fetchCall
	wire     *fetchCall

	// deliverMu is held while a result is handed to the consumer.
	deliverMu sync.Mutex

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewRefreshScheduler(log *zap.Logger, project domain.ProjectRef, fetcher Fetcher, pool *Pool, consumer domain.Consumer, opts ...SchedulerOption) *RefreshScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RefreshScheduler{
		log:      log.Named("scheduler").With(lf.Project(project), lf.ProjectID(project.ProjectID)),
		project:  project,
		fetcher:  fetcher,
		pool:     pool,
		consumer: consumer,
		timeout:  defaultFetchTimeout,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	go s.loop()
	return s
}

func (s *RefreshScheduler) Project() domain.ProjectRef { return s.project }

func (s *RefreshScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RefreshScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start arms the timer. When already polling, the previous timer and any
// outstanding fetch result are dropped and the next tick comes one full
// interval from now. Start after Close is a no-op. Like Stop, it must not be
// called from a Consumer callback.
func (s *RefreshScheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	restart := false
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StatePolling:
		s.detachLocked()
		restart = true
	}
	s.state = StatePolling
	s.interval = interval
	s.epoch++
	s.mu.Unlock()

	if restart {
		s.awaitDelivery()
	}
	s.poke()
	s.log.Debug("polling started", zap.Duration("interval", interval))
	return nil
}

// Stop disarms the timer. A fetch already on the wire completes, but its
// result is dropped. Nothing is delivered after Stop returns until the next
// trigger, so Stop must not be called from a Consumer callback.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	if s.state != StatePolling {
		if s.state == StateIdle {
			s.detachLocked()
		}
		s.mu.Unlock()
		s.awaitDelivery()
		return
	}
	s.state = StateIdle
	s.epoch++
	s.detachLocked()
	s.mu.Unlock()

	s.awaitDelivery()
	s.poke()
	s.log.Debug("polling stopped")
}

// Close stops the scheduler for good and waits for its loop and any
// delivery in progress. It must not be called from a Consumer callback.
func (s *RefreshScheduler) Close() {
	s.mu.Lock()
	s.state = StateStopped
	s.epoch++
	s.detachLocked()
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
	})
	<-s.done

	s.awaitDelivery()
	s.log.Debug("scheduler closed")
}

// TriggerNow starts a fetch unless one is outstanding, in which case it
// joins it. While a dropped fetch is still running, the new one is queued
// and starts when the dropped one returns, so at most one request per
// project is ever on the wire. The returned channel is closed once the
// fetch has been delivered or dropped.
func (s *RefreshScheduler) TriggerNow() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	if s.inflight != nil {
		return s.inflight.done
	}

	c := &fetchCall{
		gen:  s.gen.Load(),
		done: make(chan struct{}),
	}
	s.inflight = c
	if s.wire == nil {
		s.launchLocked(c)
	}

	return c.done
}

// RefreshNow triggers a fetch and waits for it to resolve.
func (s *RefreshScheduler) RefreshNow(ctx context.Context) error {
	select {
	case <-s.TriggerNow():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RefreshScheduler) launchLocked(c *fetchCall) {
	c.seq = s.seq.Inc()
	s.wire = c
	go s.run(c)
}

// detachLocked forgets the outstanding fetch so its result is dropped. A
// queued fetch that never started resolves right away.
func (s *RefreshScheduler) detachLocked() {
	s.gen.Inc()
	if c := s.inflight; c != nil && c != s.wire {
		close(c.done)
	}
	s.inflight = nil
}

// awaitDelivery waits for a consumer callback in progress to return.
func (s *RefreshScheduler) awaitDelivery() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
}

func (s *RefreshScheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *RefreshScheduler) loop() {
	defer close(s.done)

	t := time.NewTimer(time.Hour)
	stopTimer(t)
	defer t.Stop()

	var armed uint64
	rearm := func() {
		s.mu.Lock()
		polling, interval, epoch := s.state == StatePolling, s.interval, s.epoch
		s.mu.Unlock()

		stopTimer(t)
		armed = epoch
		if polling {
			t.Reset(interval)
		}
	}

	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
			rearm()
		case <-t.C:
			s.mu.Lock()
			current := s.state == StatePolling && s.epoch == armed
			s.mu.Unlock()
			if !current {
				continue
			}

			s.tick()
			rearm()
		}
	}
}

func (s *RefreshScheduler) tick() {
	if s.isPaused() {
		s.log.Debug("paused: skipping poll")
		return
	}
	s.TriggerNow()
}

func (s *RefreshScheduler) isPaused() bool {
	if s.pauseFile == "" {
		return false
	}
	_, err := os.Stat(s.pauseFile)
	return err == nil
}

func (s *RefreshScheduler) run(c *fetchCall) {
	var snap domain.Snapshot

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = s.fetcher.Fetch(ctx, s.project)
		return err
	})
	cancel()

	s.deliver(c, snap, err)
}

func (s *RefreshScheduler) deliver(c *fetchCall, snap domain.Snapshot, err error) {
	s.deliverMu.Lock()

	s.mu.Lock()
	current := c.gen == s.gen.Load() && s.state != StateStopped
	s.mu.Unlock()

	switch {
	case !current:
		s.log.Debug("dropping stale fetch result", lf.Seq(c.seq))
	case err != nil:
		s.log.Warn("fetch failed", lf.Seq(c.seq), zap.Error(err))
		s.consumer.OnFetchError(s.project, err)
	default:
		snap.Project = s.project
		snap.Seq = c.seq
		s.consumer.OnSnapshot(snap)
	}

	s.deliverMu.Unlock()

	s.mu.Lock()
	if s.inflight == c {
		s.inflight = nil
	}
	s.wire = nil
	if next := s.inflight; next != nil && s.state != StateStopped {
		s.launchLocked(next)
	}
	s.mu.Unlock()

	close(c.done)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
