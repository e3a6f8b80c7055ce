package domain

import "context"

type ListOptions struct {
	Limit int
	Ref   string
}

type PipelineGateway interface {
	ListPipelines(ctx context.Context, projectID int64, opt ListOptions) ([]Pipeline, error)
	GetPipeline(ctx context.Context, projectID, pipelineID int64) (Pipeline, error)
	CreatePipeline(ctx context.Context, projectID int64, ref string) (Pipeline, error)
	RetryPipeline(ctx context.Context, projectID, pipelineID int64) (Pipeline, error)
	CancelPipeline(ctx context.Context, projectID, pipelineID int64) (Pipeline, error)
}

type JobGateway interface {
	ListJobs(ctx context.Context, projectID, pipelineID int64) ([]Job, error)
	GetJob(ctx context.Context, projectID, jobID int64) (Job, error)
	RetryJob(ctx context.Context, projectID, jobID int64) (Job, error)
	CancelJob(ctx context.Context, projectID, jobID int64) (Job, error)
	PlayJob(ctx context.Context, projectID, jobID int64) (Job, error)
}

// Consumer receives refresh results. Calls for one project are serialized.
type Consumer interface {
	OnSnapshot(s Snapshot)
	OnFetchError(p ProjectRef, err error)
}

type Refresher interface {
	RefreshNow(projectID int64)
}

type ConnectionSource interface {
	Connection() ConnectionConfig
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Notification struct {
	Title   string
	Body    string
	URL     string
	Urgency string
}

type StatusCache interface {
	Write(ctx context.Context, s Snapshot) error
}
