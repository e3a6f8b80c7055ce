package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"go.uber.org/zap"
)

type fakeResolver struct {
	mu      sync.Mutex
	ids     map[string]int64
	cleared int
	err     error
}

func (r *fakeResolver) ResolveProject(_ context.Context, p domain.ProjectRef) (int64, error) {
	if p.ProjectID != 0 {
		return p.ProjectID, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if id, ok := r.ids[p.RemoteURL]; ok {
		return id, nil
	}
	return 0, &domain.ResolveError{RemoteURL: p.RemoteURL}
}

func (r *fakeResolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

type countingClearer struct {
	mu sync.Mutex
	n  int
}

func (c *countingClearer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

type forgettingConsumer struct {
	domain.MockConsumer
	mu        sync.Mutex
	forgotten []int64
}

func (c *forgettingConsumer) Forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgotten = append(c.forgotten, id)
}

func newTestMonitor(t *testing.T, conn domain.ConnectionConfig, consumers ...domain.Consumer) (*Monitor, *fakeResolver, *countingClearer) {
	t.Helper()
	pipelines := &domain.MockPipelines{Pipelines: []domain.Pipeline{{ID: 1, Status: domain.StatusRunning}}}
	f := NewSnapshotFetcher(zap.NewNop(), pipelines, &domain.MockJobs{}, FetchOptions{})
	resolver := &fakeResolver{ids: map[string]int64{"git@gitlab.com:acme/app.git": 77}}
	clients := &countingClearer{}
	m := NewMonitor(zap.NewNop(), f, resolver, clients, NewPool(2), conn, MonitorOptions{}, consumers...)
	t.Cleanup(m.Shutdown)
	return m, resolver, clients
}

func TestMonitor_OpenLoadsImmediately(t *testing.T) {
	consumer := &domain.MockConsumer{Events: make(chan struct{}, 16)}
	m, _, _ := newTestMonitor(t, domain.ConnectionConfig{PollingEnabled: false, PollInterval: time.Hour}, consumer)

	id, err := m.Open(context.Background(), domain.ProjectRef{Name: "app", RemoteURL: "git@gitlab.com:acme/app.git"})
	if err != nil {
		t.Fatal(err)
	}
	if id != 77 {
		t.Fatalf("expected resolved id 77, got %d", id)
	}

	waitEvents(t, consumer.Events, 1)
	snaps := consumer.Snapshots()
	if len(snaps) != 1 || snaps[0].Project.ProjectID != 77 {
		t.Errorf("unexpected snapshots %+v", snaps)
	}
	if st := m.scheduler(77).State(); st != StateIdle {
		t.Errorf("polling disabled must leave the scheduler idle, got %s", st)
	}

	again, err := m.Open(context.Background(), domain.ProjectRef{ProjectID: 77})
	if err != nil || again != 77 || len(m.Projects()) != 1 {
		t.Errorf("reopen must be a no-op: %d %v %d", again, err, len(m.Projects()))
	}
}

func TestMonitor_OpenResolveFailure(t *testing.T) {
	m, _, _ := newTestMonitor(t, domain.ConnectionConfig{})

	_, err := m.Open(context.Background(), domain.ProjectRef{RemoteURL: "git@gitlab.com:acme/unknown.git"})
	if !domain.IsResolveError(err) {
		t.Fatalf("expected resolve error, got %v", err)
	}
	if len(m.Projects()) != 0 {
		t.Error("unresolved project must not be opened")
	}
}

func TestMonitor_Reconfigure(t *testing.T) {
	m, resolver, clients := newTestMonitor(t, domain.ConnectionConfig{PollingEnabled: true, PollInterval: time.Hour})

	for _, id := range []int64{1, 2} {
		if _, err := m.Open(context.Background(), domain.ProjectRef{ProjectID: id}); err != nil {
			t.Fatal(err)
		}
	}

	m.Reconfigure(domain.ConnectionConfig{PollingEnabled: true, PollInterval: 30 * time.Second})
	for _, id := range []int64{1, 2} {
		s := m.scheduler(id)
		if s.State() != StatePolling || s.Interval() != 30*time.Second {
			t.Errorf("project %d: %s every %s", id, s.State(), s.Interval())
		}
	}

	m.Reconfigure(domain.ConnectionConfig{PollingEnabled: false, PollInterval: 30 * time.Second})
	for _, id := range []int64{1, 2} {
		if st := m.scheduler(id).State(); st != StateIdle {
			t.Errorf("project %d must be idle, got %s", id, st)
		}
	}

	if clients.n != 2 || resolver.cleared != 2 {
		t.Errorf("caches must be cleared on every reconfigure: clients %d, resolver %d", clients.n, resolver.cleared)
	}
}

func TestMonitor_SyncOpensAndCloses(t *testing.T) {
	consumer := &forgettingConsumer{}
	m, _, _ := newTestMonitor(t, domain.ConnectionConfig{}, consumer)
	ctx := context.Background()

	err := m.Sync(ctx, []domain.ProjectRef{{ProjectID: 1}, {ProjectID: 2}, {RemoteURL: "nowhere"}})
	if !domain.IsResolveError(err) {
		t.Errorf("expected the unresolved project to be reported, got %v", err)
	}
	if len(m.Projects()) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(m.Projects()))
	}

	if err := m.Sync(ctx, []domain.ProjectRef{{ProjectID: 2}}); err != nil {
		t.Fatal(err)
	}
	ps := m.Projects()
	if len(ps) != 1 || ps[0].ProjectID != 2 {
		t.Errorf("unexpected projects %+v", ps)
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.forgotten) != 1 || consumer.forgotten[0] != 1 {
		t.Errorf("closed project must be forgotten, got %v", consumer.forgotten)
	}
}

func TestMonitor_RefreshAndShutdown(t *testing.T) {
	consumer := &domain.MockConsumer{}
	m, _, _ := newTestMonitor(t, domain.ConnectionConfig{}, consumer)
	ctx := context.Background()

	m.RefreshNow(404)
	if err := m.Refresh(ctx, 404); err != nil {
		t.Errorf("unknown project: %v", err)
	}

	if _, err := m.Open(ctx, domain.ProjectRef{ProjectID: 5}); err != nil {
		t.Fatal(err)
	}
	if err := m.Refresh(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if len(consumer.Snapshots()) == 0 {
		t.Error("refresh must deliver a snapshot")
	}

	m.Shutdown()
	if len(m.Projects()) != 0 {
		t.Error("shutdown must close every project")
	}
	if _, err := m.Open(ctx, domain.ProjectRef{ProjectID: 6}); !errors.Is(err, ErrMonitorClosed) {
		t.Errorf("expected ErrMonitorClosed, got %v", err)
	}
}

func TestMonitor_SyncKeepsWatchingOnLookupOutage(t *testing.T) {
	m, resolver, _ := newTestMonitor(t, domain.ConnectionConfig{PollingEnabled: true, PollInterval: time.Hour})
	ctx := context.Background()
	app := domain.ProjectRef{Name: "app", RemoteURL: "git@gitlab.com:acme/app.git"}
	gone := domain.ProjectRef{Name: "gone", RemoteURL: "git@gitlab.com:acme/gone.git"}
	resolver.ids[gone.RemoteURL] = 88

	if err := m.Sync(ctx, []domain.ProjectRef{app, gone}); err != nil {
		t.Fatal(err)
	}

	m.Reconfigure(domain.ConnectionConfig{PollingEnabled: true, PollInterval: time.Minute})
	resolver.mu.Lock()
	resolver.err = &domain.RemoteError{Op: "search projects", Reason: domain.RemoteTransport}
	resolver.mu.Unlock()

	err := m.Sync(ctx, []domain.ProjectRef{app})
	if !domain.IsTransport(err) {
		t.Errorf("expected the lookup failure to be reported, got %v", err)
	}

	s := m.scheduler(77)
	if s == nil {
		t.Fatal("healthy project must stay open when its lookup fails transiently")
	}
	if s.State() != StatePolling || s.Interval() != time.Minute {
		t.Errorf("unexpected scheduler %s every %s", s.State(), s.Interval())
	}
	if m.scheduler(88) != nil {
		t.Error("project dropped from the list must still be closed")
	}

	resolver.mu.Lock()
	resolver.err = nil
	delete(resolver.ids, app.RemoteURL)
	resolver.mu.Unlock()

	if err := m.Sync(ctx, []domain.ProjectRef{app}); !domain.IsResolveError(err) {
		t.Fatalf("expected resolve error, got %v", err)
	}
	if m.scheduler(77) != nil {
		t.Error("project that no longer resolves must be closed")
	}
}

func TestMonitor_ActionRefreshJoinsOutstandingPoll(t *testing.T) {
	release := make(chan struct{})
	pipelines := gatedPipelines(release)
	pipelines.Pipeline = domain.Pipeline{ID: 3, ProjectID: 9, Status: domain.StatusPending}
	consumer := &domain.MockConsumer{}

	f := NewSnapshotFetcher(zap.NewNop(), pipelines, &domain.MockJobs{}, FetchOptions{})
	m := NewMonitor(zap.NewNop(), f, &fakeResolver{}, &countingClearer{}, NewPool(2),
		domain.ConnectionConfig{PollingEnabled: true, PollInterval: time.Hour}, MonitorOptions{}, consumer)
	t.Cleanup(m.Shutdown)

	ctx := context.Background()
	if _, err := m.Open(ctx, domain.ProjectRef{ProjectID: 9}); err != nil {
		t.Fatal(err)
	}
	poll := m.scheduler(9).TriggerNow()

	o := NewOrchestrator(zap.NewNop(), pipelines, &domain.MockJobs{}, m)
	p, err := o.RetryPipeline(ctx, domain.Pipeline{ID: 3, ProjectID: 9, Status: domain.StatusFailed})
	if err != nil || p.Status != domain.StatusPending {
		t.Fatalf("retry: %+v %v", p, err)
	}

	release <- struct{}{}
	waitClosed(t, poll)
	time.Sleep(20 * time.Millisecond)

	if n := pipelines.Called("ListPipelines"); n != 1 {
		t.Errorf("refresh after the action must join the running poll, got %d list calls", n)
	}
	if n := pipelines.Called("RetryPipeline"); n != 1 {
		t.Errorf("expected one retry call, got %d", n)
	}
	if n := len(consumer.Snapshots()); n != 1 {
		t.Errorf("expected one snapshot, got %d", n)
	}
}
