package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/davarch/ci-pilot/internal/application"
	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/spf13/cobra"
)

const defaultFollowEvery = 5 * time.Second

var (
	follow      bool
	followEvery time.Duration
)

// follower is a Consumer that prints status changes of one pipeline and
// signals once the pipeline has finished.
type follower struct {
	out  io.Writer
	errw io.Writer

	mu     sync.Mutex
	target int64
	last   domain.Status

	done chan struct{}
	once sync.Once
}

func newFollower(out, errw io.Writer) *follower {
	return &follower{out: out, errw: errw, done: make(chan struct{})}
}

// track starts following pipelineID, whose status is already known to be st.
func (f *follower) track(pipelineID int64, st domain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = pipelineID
	f.last = st
}

func (f *follower) OnSnapshot(s domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.target == 0 {
		return
	}
	for _, p := range s.Pipelines {
		if p.ID != f.target {
			continue
		}
		if p.Status != f.last {
			f.last = p.Status
			_, _ = fmt.Fprintf(f.out, "%s  %s  %s\n", time.Now().Format("15:04:05"), p.DisplayName(), p.StatusLabel())
		}
		if domain.IsFinished(p.Status) {
			f.once.Do(func() { close(f.done) })
		}
		return
	}
}

func (f *follower) OnFetchError(_ domain.ProjectRef, err error) {
	_, _ = fmt.Fprintln(f.errw, "refresh failed:", describe(err))
}

// wait blocks until the followed pipeline finishes or ctx is done.
func (f *follower) wait(ctx context.Context) {
	select {
	case <-f.done:
	case <-ctx.Done():
	}
}

// orchestrator builds the action runner for ref. With --follow its refreshes
// go to a monitor polling the project, and the returned follower reports
// what that monitor sees. The returned func releases the monitor.
func (a *app) orchestrator(ctx context.Context, ref domain.ProjectRef, out, errw io.Writer) (*application.Orchestrator, *follower, func(), error) {
	if !follow {
		return application.NewOrchestrator(a.log, a.gateway, a.gateway, nil), nil, func() {}, nil
	}

	every := followEvery
	if every <= 0 {
		every = defaultFollowEvery
	}
	conn := a.live.Connection()
	conn.PollingEnabled = true
	conn.PollInterval = every
	conn.NotificationsEnabled = false

	// Every ref, so the followed pipeline shows up whatever branch it ran on.
	watch := ref
	watch.Ref = ""

	cfg := a.live.Load()
	fetcher := application.NewSnapshotFetcher(a.log, a.gateway, a.gateway, application.FetchOptions{Limit: cfg.Poll.Limit})
	f := newFollower(out, errw)
	m := application.NewMonitor(a.log, fetcher, a.resolver, a.clients, application.NewPool(1), conn, application.MonitorOptions{}, f)

	if _, err := m.Open(ctx, watch); err != nil {
		m.Shutdown()
		return nil, nil, nil, err
	}
	return application.NewOrchestrator(a.log, a.gateway, a.gateway, m), f, m.Shutdown, nil
}

func addFollowFlags(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching the pipeline until it finishes")
		c.Flags().DurationVar(&followEvery, "every", defaultFollowEvery, "poll interval while following")
	}
}
