package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrMonitorClosed = errors.New("monitor is shut down")

type ProjectResolver interface {
	ResolveProject(ctx context.Context, p domain.ProjectRef) (int64, error)
	Clear()
}

type CacheClearer interface {
	Clear()
}

// forgetter is implemented by consumers that keep per-project state.
type forgetter interface {
	Forget(projectID int64)
}

type MonitorOptions struct {
	PauseFile    string
	FetchTimeout time.Duration
}

// Monitor owns one RefreshScheduler per watched project and fans their
// results out to every registered consumer.
type Monitor struct {
	log       *zap.Logger
	fetcher   Fetcher
	resolver  ProjectResolver
	clients   CacheClearer
	pool      *Pool
	consumers fanout
	opt       MonitorOptions

	mu         sync.Mutex
	conn       domain.ConnectionConfig
	schedulers map[int64]*RefreshScheduler
	closed     bool
}

func NewMonitor(log *zap.Logger, fetcher Fetcher, resolver ProjectResolver, clients CacheClearer, pool *Pool,
	conn domain.ConnectionConfig, opt MonitorOptions, consumers ...domain.Consumer) *Monitor {
	return &Monitor{
		log:        log.Named("monitor"),
		fetcher:    fetcher,
		resolver:   resolver,
		clients:    clients,
		pool:       pool,
		consumers:  consumers,
		opt:        opt,
		conn:       conn,
		schedulers: make(map[int64]*RefreshScheduler),
	}
}

var _ domain.Refresher = (*Monitor)(nil)

// Open resolves the project, starts polling it when polling is enabled and
// kicks off an initial load. Opening a project twice is a no-op.
func (m *Monitor) Open(ctx context.Context, ref domain.ProjectRef) (int64, error) {
	id, err := m.resolver.ResolveProject(ctx, ref)
	if err != nil {
		return 0, err
	}
	ref.ProjectID = id

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrMonitorClosed
	}
	if _, ok := m.schedulers[id]; ok {
		m.mu.Unlock()
		return id, nil
	}

	s := m.newScheduler(ref)
	m.schedulers[id] = s
	conn := m.conn
	m.mu.Unlock()

	if conn.PollingEnabled {
		if err := s.Start(conn.PollInterval); err != nil {
			m.log.Warn("polling not started", lf.Project(ref), zap.Error(err))
		}
	}
	s.TriggerNow()

	m.log.Info("project opened", lf.Project(ref), lf.ProjectID(id), lf.Ref(ref.Ref))
	return id, nil
}

func (m *Monitor) newScheduler(ref domain.ProjectRef) *RefreshScheduler {
	opts := []SchedulerOption{WithPauseFile(m.opt.PauseFile)}
	if m.opt.FetchTimeout > 0 {
		opts = append(opts, WithFetchTimeout(m.opt.FetchTimeout))
	}
	return NewRefreshScheduler(m.log, ref, m.fetcher, m.pool, m.consumers, opts...)
}

// Close stops watching a project. Nothing is delivered for it afterwards.
func (m *Monitor) Close(projectID int64) {
	m.mu.Lock()
	s, ok := m.schedulers[projectID]
	delete(m.schedulers, projectID)
	m.mu.Unlock()

	if !ok {
		return
	}

	s.Close()
	for _, c := range m.consumers {
		if f, ok := c.(forgetter); ok {
			f.Forget(projectID)
		}
	}
	m.log.Info("project closed", lf.Project(s.Project()), lf.ProjectID(projectID))
}

// RefreshNow requests a coalesced refresh and returns immediately.
func (m *Monitor) RefreshNow(projectID int64) {
	if s := m.scheduler(projectID); s != nil {
		s.TriggerNow()
	}
}

// Refresh requests a coalesced refresh and waits for it to be delivered.
func (m *Monitor) Refresh(ctx context.Context, projectID int64) error {
	s := m.scheduler(projectID)
	if s == nil {
		return nil
	}
	return s.RefreshNow(ctx)
}

// RefreshAll triggers every open project.
func (m *Monitor) RefreshAll() {
	for _, s := range m.all() {
		s.TriggerNow()
	}
}

// Reconfigure applies new connection settings: cached clients and project
// IDs are dropped, and every scheduler is restarted with the new interval
// or stopped when polling is disabled.
func (m *Monitor) Reconfigure(conn domain.ConnectionConfig) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.clients.Clear()
	m.resolver.Clear()

	for _, s := range m.all() {
		if !conn.PollingEnabled {
			s.Stop()
			continue
		}
		if err := s.Start(conn.PollInterval); err != nil {
			m.log.Warn("polling not restarted", lf.Project(s.Project()), zap.Error(err))
		}
	}

	m.log.Info("reconfigured",
		zap.Bool("polling", conn.PollingEnabled),
		zap.Duration("interval", conn.PollInterval),
		zap.Bool("notifications", conn.NotificationsEnabled),
	)
}

// Sync opens every project in refs and closes the ones no longer listed.
// Projects that fail to resolve are reported and skipped. A project that is
// already watched keeps polling when only the lookup transport failed.
func (m *Monitor) Sync(ctx context.Context, refs []domain.ProjectRef) error {
	var (
		errs error
		keep = make(map[int64]struct{}, len(refs))
	)
	for _, ref := range refs {
		id, err := m.Open(ctx, ref)
		if err != nil {
			errs = multierr.Append(errs, err)
			if old, ok := m.watching(ref); ok && !domain.IsResolveError(err) && !errors.Is(err, ErrMonitorClosed) {
				m.log.Warn("project lookup failed, still watching", lf.Project(ref), lf.ProjectID(old), zap.Error(err))
				keep[old] = struct{}{}
				continue
			}
			m.log.Warn("project not opened", lf.Project(ref), zap.Error(err))
			continue
		}
		keep[id] = struct{}{}
	}

	for _, s := range m.all() {
		id := s.Project().ProjectID
		if _, ok := keep[id]; !ok {
			m.Close(id)
		}
	}

	return errs
}

func (m *Monitor) Projects() []domain.ProjectRef {
	all := m.all()
	out := make([]domain.ProjectRef, 0, len(all))
	for _, s := range all {
		out = append(out, s.Project())
	}
	return out
}

// Shutdown closes every scheduler. Open fails afterwards.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, s := range m.all() {
		m.Close(s.Project().ProjectID)
	}
}

// watching returns the ID of the scheduler opened earlier for ref.
func (m *Monitor) watching(ref domain.ProjectRef) (int64, bool) {
	for _, s := range m.all() {
		p := s.Project()
		id := p.ProjectID
		if ref.ProjectID == 0 {
			p.ProjectID = 0
		}
		if p == ref {
			return id, true
		}
	}
	return 0, false
}

func (m *Monitor) scheduler(projectID int64) *RefreshScheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedulers[projectID]
}

func (m *Monitor) all() []*RefreshScheduler {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*RefreshScheduler, 0, len(m.schedulers))
	for _, s := range m.schedulers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project().ProjectID < out[j].Project().ProjectID })
	return out
}

type fanout []domain.Consumer

func (f fanout) OnSnapshot(s domain.Snapshot) {
	for _, c := range f {
		c.OnSnapshot(s)
	}
}

func (f fanout) OnFetchError(p domain.ProjectRef, err error) {
	for _, c := range f {
		c.OnFetchError(p, err)
	}
}
