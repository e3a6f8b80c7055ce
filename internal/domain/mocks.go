package domain

import (
	"context"
	"sync"
)

type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callCounter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[name]++
}

func (c *callCounter) Called(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *callCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

type MockPipelines struct {
	callCounter

	Pipelines []Pipeline
	Pipeline  Pipeline
	Err       error

	// ListFunc and GetFunc override ListPipelines and GetPipeline when set.
	ListFunc func(ctx context.Context, projectID int64) ([]Pipeline, error)
	GetFunc  func(ctx context.Context, projectID, pipelineID int64) (Pipeline, error)
}

func (m *MockPipelines) ListPipelines(ctx context.Context, projectID int64, _ ListOptions) ([]Pipeline, error) {
	m.inc("ListPipelines")
	if m.ListFunc != nil {
		return m.ListFunc(ctx, projectID)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Pipelines, nil
}

func (m *MockPipelines) one(name string) (Pipeline, error) {
	m.inc(name)
	if m.Err != nil {
		return Pipeline{}, m.Err
	}
	return m.Pipeline, nil
}

func (m *MockPipelines) GetPipeline(ctx context.Context, projectID, pipelineID int64) (Pipeline, error) {
	if m.GetFunc != nil {
		m.inc("GetPipeline")
		return m.GetFunc(ctx, projectID, pipelineID)
	}
	return m.one("GetPipeline")
}

func (m *MockPipelines) CreatePipeline(context.Context, int64, string) (Pipeline, error) {
	return m.one("CreatePipeline")
}

func (m *MockPipelines) RetryPipeline(context.Context, int64, int64) (Pipeline, error) {
	return m.one("RetryPipeline")
}

func (m *MockPipelines) CancelPipeline(context.Context, int64, int64) (Pipeline, error) {
	return m.one("CancelPipeline")
}

type MockJobs struct {
	callCounter

	Jobs []Job
	Job  Job
	Err  error
}

func (m *MockJobs) ListJobs(context.Context, int64, int64) ([]Job, error) {
	m.inc("ListJobs")
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Jobs, nil
}

func (m *MockJobs) one(name string) (Job, error) {
	m.inc(name)
	if m.Err != nil {
		return Job{}, m.Err
	}
	return m.Job, nil
}

func (m *MockJobs) GetJob(context.Context, int64, int64) (Job, error) { return m.one("GetJob") }

func (m *MockJobs) RetryJob(context.Context, int64, int64) (Job, error) { return m.one("RetryJob") }

func (m *MockJobs) CancelJob(context.Context, int64, int64) (Job, error) { return m.one("CancelJob") }

func (m *MockJobs) PlayJob(context.Context, int64, int64) (Job, error) { return m.one("PlayJob") }

type MockRefresher struct {
	mu       sync.Mutex
	Projects []int64
}

func (r *MockRefresher) RefreshNow(projectID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Projects = append(r.Projects, projectID)
}

func (r *MockRefresher) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Projects)
}

type MockConsumer struct {
	mu        sync.Mutex
	snapshots []Snapshot
	errs      []error

	// Events receives one value per callback when non-nil.
	Events chan struct{}
}

func (c *MockConsumer) OnSnapshot(s Snapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
	c.signal()
}

func (c *MockConsumer) OnFetchError(_ ProjectRef, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.signal()
}

func (c *MockConsumer) signal() {
	if c.Events != nil {
		c.Events <- struct{}{}
	}
}

func (c *MockConsumer) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.snapshots...)
}

func (c *MockConsumer) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

type MockNotifier struct {
	mu       sync.Mutex
	Messages []Notification
	Err      error
}

func (n *MockNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, msg)
	return n.Err
}

type MockCache struct {
	mu        sync.Mutex
	Snapshots []Snapshot
	Err       error
}

func (c *MockCache) Write(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Snapshots = append(c.Snapshots, s)
	return nil
}
