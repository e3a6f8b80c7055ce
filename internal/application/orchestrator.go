package application

import (
	"context"
	"strings"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"go.uber.org/zap"
)

// Orchestrator issues mutating commands. Preconditions are checked against
// the entity the caller holds, so a rejected command never reaches the
// network. A successful command asks the project's scheduler for a refresh.
type Orchestrator struct {
	log       *zap.Logger
	pipelines domain.PipelineGateway
	jobs      domain.JobGateway
	refresher domain.Refresher
}

// NewOrchestrator accepts a nil refresher for one-shot use.
func NewOrchestrator(log *zap.Logger, pipelines domain.PipelineGateway, jobs domain.JobGateway, refresher domain.Refresher) *Orchestrator {
	return &Orchestrator{
		log:       log.Named("actions"),
		pipelines: pipelines,
		jobs:      jobs,
		refresher: refresher,
	}
}

func (o *Orchestrator) RunPipeline(ctx context.Context, projectID int64, ref string) (domain.Pipeline, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Pipeline{}, &domain.InvalidTransitionError{
			Action: domain.ActionRun,
			Target: "pipeline",
			Reason: "ref is required",
		}
	}

	p, err := o.pipelines.CreatePipeline(ctx, projectID, ref)
	return o.finishPipeline(domain.ActionRun, projectID, p, err)
}

func (o *Orchestrator) RetryPipeline(ctx context.Context, p domain.Pipeline) (domain.Pipeline, error) {
	if !domain.CanRetry(p.Status) {
		return domain.Pipeline{}, pipelineTransition(domain.ActionRetry, p)
	}

	out, err := o.pipelines.RetryPipeline(ctx, p.ProjectID, p.ID)
	return o.finishPipeline(domain.ActionRetry, p.ProjectID, out, err)
}

func (o *Orchestrator) CancelPipeline(ctx context.Context, p domain.Pipeline) (domain.Pipeline, error) {
	if !domain.CanCancel(p.Status) {
		return domain.Pipeline{}, pipelineTransition(domain.ActionCancel, p)
	}

	out, err := o.pipelines.CancelPipeline(ctx, p.ProjectID, p.ID)
	return o.finishPipeline(domain.ActionCancel, p.ProjectID, out, err)
}

func (o *Orchestrator) RetryJob(ctx context.Context, projectID int64, j domain.Job) (domain.Job, error) {
	if !domain.CanRetry(j.Status) {
		return domain.Job{}, jobTransition(domain.ActionRetry, j)
	}

	out, err := o.jobs.RetryJob(ctx, projectID, j.ID)
	return o.finishJob(domain.ActionRetry, projectID, out, err)
}

func (o *Orchestrator) CancelJob(ctx context.Context, projectID int64, j domain.Job) (domain.Job, error) {
	if !domain.CanCancel(j.Status) {
		return domain.Job{}, jobTransition(domain.ActionCancel, j)
	}

	out, err := o.jobs.CancelJob(ctx, projectID, j.ID)
	return o.finishJob(domain.ActionCancel, projectID, out, err)
}

func (o *Orchestrator) PlayJob(ctx context.Context, projectID int64, j domain.Job) (domain.Job, error) {
	if !domain.CanPlay(j.Status) {
		return domain.Job{}, jobTransition(domain.ActionPlay, j)
	}

	out, err := o.jobs.PlayJob(ctx, projectID, j.ID)
	return o.finishJob(domain.ActionPlay, projectID, out, err)
}

func (o *Orchestrator) finishPipeline(a domain.Action, projectID int64, p domain.Pipeline, err error) (domain.Pipeline, error) {
	if err != nil {
		o.log.Warn("action failed", lf.Action(a), lf.ProjectID(projectID), zap.Error(err))
		return domain.Pipeline{}, err
	}

	o.log.Info("action done", lf.Action(a), lf.ProjectID(projectID), lf.PipelineID(p.ID), lf.Status(p.Status))
	o.refresh(projectID)
	return p, nil
}

func (o *Orchestrator) finishJob(a domain.Action, projectID int64, j domain.Job, err error) (domain.Job, error) {
	if err != nil {
		o.log.Warn("action failed", lf.Action(a), lf.ProjectID(projectID), zap.Error(err))
		return domain.Job{}, err
	}

	o.log.Info("action done", lf.Action(a), lf.ProjectID(projectID), lf.JobID(j.ID), lf.Status(j.Status))
	o.refresh(projectID)
	return j, nil
}

func (o *Orchestrator) refresh(projectID int64) {
	if o.refresher != nil {
		o.refresher.RefreshNow(projectID)
	}
}

func pipelineTransition(a domain.Action, p domain.Pipeline) error {
	return &domain.InvalidTransitionError{Action: a, Target: p.DisplayName(), Status: p.Status}
}

func jobTransition(a domain.Action, j domain.Job) error {
	return &domain.InvalidTransitionError{Action: a, Target: j.DisplayName(), Status: j.Status}
}
