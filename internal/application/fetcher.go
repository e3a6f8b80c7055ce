package application

import (
	"context"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fetcher produces one Snapshot for a resolved project.
type Fetcher interface {
	Fetch(ctx context.Context, p domain.ProjectRef) (domain.Snapshot, error)
}

type FetchOptions struct {
	// Limit caps the number of listed pipelines.
	Limit int
	// JobDepth is how many of the newest pipelines get details and jobs.
	JobDepth int
	// Fanout bounds concurrent detail requests inside one snapshot.
	Fanout int
}

type SnapshotFetcher struct {
	log       *zap.Logger
	pipelines domain.PipelineGateway
	jobs      domain.JobGateway
	opt       FetchOptions
	now       func() time.Time
}

func NewSnapshotFetcher(log *zap.Logger, pipelines domain.PipelineGateway, jobs domain.JobGateway, opt FetchOptions) *SnapshotFetcher {
	if opt.Fanout <= 0 {
		opt.Fanout = 4
	}
	if opt.JobDepth < 0 {
		opt.JobDepth = 0
	}
	return &SnapshotFetcher{
		log:       log.Named("fetcher"),
		pipelines: pipelines,
		jobs:      jobs,
		opt:       opt,
		now:       time.Now,
	}
}

// Fetch lists pipelines, then loads details and jobs for the newest JobDepth
// of them. Any failure fails the whole snapshot; partial results are never
// returned.
func (f *SnapshotFetcher) Fetch(ctx context.Context, p domain.ProjectRef) (domain.Snapshot, error) {
	list, err := f.pipelines.ListPipelines(ctx, p.ProjectID, domain.ListOptions{Limit: f.opt.Limit, Ref: p.Ref})
	if err != nil {
		return domain.Snapshot{}, err
	}

	depth := f.opt.JobDepth
	if depth > len(list) {
		depth = len(list)
	}

	detailed := make([]domain.Pipeline, depth)
	jobs := make([][]domain.Job, depth)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opt.Fanout)
	for i := 0; i < depth; i++ {
		i, id := i, list[i].ID
		g.Go(func() error {
			pl, err := f.pipelines.GetPipeline(gctx, p.ProjectID, id)
			if err != nil {
				return err
			}
			detailed[i] = pl
			return nil
		})
		g.Go(func() error {
			js, err := f.jobs.ListJobs(gctx, p.ProjectID, id)
			if err != nil {
				return err
			}
			jobs[i] = js
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Snapshot{}, err
	}

	out := domain.Snapshot{
		Project:   p,
		Pipelines: make([]domain.Pipeline, len(list)),
		Jobs:      make(map[int64][]domain.Job, depth),
		Retrieved: f.now(),
	}
	copy(out.Pipelines, list)
	for i := 0; i < depth; i++ {
		out.Pipelines[i] = detailed[i]
		out.Jobs[detailed[i].ID] = jobs[i]
	}

	f.log.Debug("snapshot fetched", lf.Project(p), zap.Int("pipelines", len(out.Pipelines)), zap.Int("detailed", depth))
	return out, nil
}
