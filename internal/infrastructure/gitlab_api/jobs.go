package gitlab_api

import (
	"context"
	"io"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"github.com/xanzy/go-gitlab"
)

func (g *Gateway) ListJobs(ctx context.Context, projectID, pipelineID int64) ([]domain.Job, error) {
	client, err := g.client()
	if err != nil {
		return nil, err
	}

	opts := &gitlab.ListJobsOptions{ListOptions: gitlab.ListOptions{PerPage: maxPerPage}}
	var out []domain.Job
	for {
		var (
			page []*gitlab.Job
			resp *gitlab.Response
		)
		err := g.read(ctx, "list jobs", func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
			var err error
			page, resp, err = client.Jobs.ListPipelineJobs(int(projectID), int(pipelineID), opts, o...)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, j := range page {
			out = append(out, fromJob(j))
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	g.log.Debug("listed jobs", lf.ProjectID(projectID), lf.PipelineID(pipelineID), zapCount(len(out)))
	return out, nil
}

func (g *Gateway) GetJob(ctx context.Context, projectID, jobID int64) (domain.Job, error) {
	client, err := g.client()
	if err != nil {
		return domain.Job{}, err
	}

	var j *gitlab.Job
	err = g.read(ctx, "get job", func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
		var (
			resp *gitlab.Response
			err  error
		)
		j, resp, err = client.Jobs.GetJob(int(projectID), int(jobID), o...)
		return resp, err
	})
	if err != nil {
		return domain.Job{}, err
	}

	return fromJob(j), nil
}

// JobLog returns the raw job trace.
func (g *Gateway) JobLog(ctx context.Context, projectID, jobID int64) (string, error) {
	client, err := g.client()
	if err != nil {
		return "", err
	}

	var body []byte
	err = g.read(ctx, "job log", func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
		r, resp, err := client.Jobs.GetTraceFile(int(projectID), int(jobID), o...)
		if err != nil {
			return resp, err
		}
		body, err = io.ReadAll(r)
		return resp, err
	})
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func (g *Gateway) RetryJob(ctx context.Context, projectID, jobID int64) (domain.Job, error) {
	return g.mutateJob(ctx, "retry job", func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Job, *gitlab.Response, error) {
		return c.Jobs.RetryJob(int(projectID), int(jobID), o...)
	})
}

func (g *Gateway) CancelJob(ctx context.Context, projectID, jobID int64) (domain.Job, error) {
	return g.mutateJob(ctx, "cancel job", func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Job, *gitlab.Response, error) {
		return c.Jobs.CancelJob(int(projectID), int(jobID), o...)
	})
}

func (g *Gateway) PlayJob(ctx context.Context, projectID, jobID int64) (domain.Job, error) {
	return g.mutateJob(ctx, "play job", func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Job, *gitlab.Response, error) {
		return c.Jobs.PlayJob(int(projectID), int(jobID), &gitlab.PlayJobOptions{}, o...)
	})
}

type jobMutation func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Job, *gitlab.Response, error)

func (g *Gateway) mutateJob(ctx context.Context, op string, fn jobMutation) (domain.Job, error) {
	client, err := g.client()
	if err != nil {
		return domain.Job{}, err
	}

	var j *gitlab.Job
	err = g.write(ctx, op, func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
		var (
			resp *gitlab.Response
			err  error
		)
		j, resp, err = fn(client, o...)
		return resp, err
	})
	if err != nil {
		return domain.Job{}, err
	}

	out := fromJob(j)
	g.log.Info(op, lf.JobID(out.ID), lf.PipelineID(out.PipelineID), lf.Status(out.Status))
	return out, nil
}

func fromJob(j *gitlab.Job) domain.Job {
	out := domain.Job{
		ID:        int64(j.ID),
		Name:      j.Name,
		Stage:     j.Stage,
		Status:    domain.Classify(j.Status),
		RawStatus: j.Status,
		Times: domain.Timestamps{
			Created:  j.CreatedAt,
			Started:  j.StartedAt,
			Finished: j.FinishedAt,
		},
		User:         domain.UnknownUser,
		PipelineID:   int64(j.Pipeline.ID),
		AllowFailure: j.AllowFailure,
		WebURL:       j.WebURL,
	}
	if j.User != nil {
		out.User = userName(j.User.Name)
	}
	if j.Duration != 0 || j.StartedAt != nil {
		d := j.Duration
		out.Duration = &d
	}
	return out
}
