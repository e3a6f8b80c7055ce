package gitlab_api

import (
	"context"
	"strings"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"github.com/xanzy/go-gitlab"
)

const (
	defaultLimit = 20
	maxPerPage   = 100
)

func (g *Gateway) ListPipelines(ctx context.Context, projectID int64, opt domain.ListOptions) ([]domain.Pipeline, error) {
	client, err := g.client()
	if err != nil {
		return nil, err
	}

	limit := opt.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPerPage {
		limit = maxPerPage
	}

	lo := &gitlab.ListProjectPipelinesOptions{
		ListOptions: gitlab.ListOptions{PerPage: limit},
		OrderBy:     gitlab.String("id"),
		Sort:        gitlab.String("desc"),
	}
	if opt.Ref != "" {
		lo.Ref = gitlab.String(opt.Ref)
	}

	var list []*gitlab.PipelineInfo
	err = g.read(ctx, "list pipelines", func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
		var (
			resp *gitlab.Response
			err  error
		)
		list, resp, err = client.Pipelines.ListProjectPipelines(int(projectID), lo, o...)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Pipeline, 0, len(list))
	for _, p := range list {
		out = append(out, fromPipelineInfo(projectID, p))
	}
	g.log.Debug("listed pipelines", lf.ProjectID(projectID), lf.Ref(opt.Ref), zapCount(len(out)))
	return out, nil
}

func (g *Gateway) GetPipeline(ctx context.Context, projectID, pipelineID int64) (domain.Pipeline, error) {
	client, err := g.client()
	if err != nil {
		return domain.Pipeline{}, err
	}

	var p *gitlab.Pipeline
	err = g.read(ctx, "get pipeline", func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
		var (
			resp *gitlab.Response
			err  error
		)
		p, resp, err = client.Pipelines.GetPipeline(int(projectID), int(pipelineID), o...)
		return resp, err
	})
	if err != nil {
		return domain.Pipeline{}, err
	}

	return fromPipeline(p), nil
}

func (g *Gateway) CreatePipeline(ctx context.Context, projectID int64, ref string) (domain.Pipeline, error) {
	return g.mutatePipeline(ctx, "create pipeline", func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Pipeline, *gitlab.Response, error) {
		return c.Pipelines.CreatePipeline(int(projectID), &gitlab.CreatePipelineOptions{Ref: gitlab.String(strings.TrimSpace(ref))}, o...)
	})
}

func (g *Gateway) RetryPipeline(ctx context.Context, projectID, pipelineID int64) (domain.Pipeline, error) {
	return g.mutatePipeline(ctx, "retry pipeline", func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Pipeline, *gitlab.Response, error) {
		return c.Pipelines.RetryPipelineBuild(int(projectID), int(pipelineID), o...)
	})
}

func (g *Gateway) CancelPipeline(ctx context.Context, projectID, pipelineID int64) (domain.Pipeline, error) {
	return g.mutatePipeline(ctx, "cancel pipeline", func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Pipeline, *gitlab.Response, error) {
		return c.Pipelines.CancelPipelineBuild(int(projectID), int(pipelineID), o...)
	})
}

type pipelineMutation func(c *gitlab.Client, o ...gitlab.RequestOptionFunc) (*gitlab.Pipeline, *gitlab.Response, error)

func (g *Gateway) mutatePipeline(ctx context.Context, op string, fn pipelineMutation) (domain.Pipeline, error) {
	client, err := g.client()
	if err != nil {
		return domain.Pipeline{}, err
	}

	var p *gitlab.Pipeline
	err = g.write(ctx, op, func(o ...gitlab.RequestOptionFunc) (*gitlab.Response, error) {
		var (
			resp *gitlab.Response
			err  error
		)
		p, resp, err = fn(client, o...)
		return resp, err
	})
	if err != nil {
		return domain.Pipeline{}, err
	}

	out := fromPipeline(p)
	g.log.Info(op, lf.ProjectID(out.ProjectID), lf.PipelineID(out.ID), lf.Status(out.Status))
	return out, nil
}

func fromPipelineInfo(projectID int64, p *gitlab.PipelineInfo) domain.Pipeline {
	pid := int64(p.ProjectID)
	if pid == 0 {
		pid = projectID
	}
	return domain.Pipeline{
		ID:        int64(p.ID),
		ProjectID: pid,
		Ref:       p.Ref,
		SHA:       p.SHA,
		Status:    domain.Classify(p.Status),
		RawStatus: p.Status,
		Times:     domain.Timestamps{Created: p.CreatedAt},
		User:      domain.UnknownUser,
		WebURL:    p.WebURL,
	}
}

func fromPipeline(p *gitlab.Pipeline) domain.Pipeline {
	out := domain.Pipeline{
		ID:        int64(p.ID),
		ProjectID: int64(p.ProjectID),
		Ref:       p.Ref,
		SHA:       p.SHA,
		Status:    domain.Classify(p.Status),
		RawStatus: p.Status,
		Times: domain.Timestamps{
			Created:  p.CreatedAt,
			Started:  p.StartedAt,
			Finished: p.FinishedAt,
		},
		User:   domain.UnknownUser,
		WebURL: p.WebURL,
	}
	if p.User != nil {
		out.User = userName(p.User.Name)
	}
	// go-gitlab decodes a null duration as 0.
	if p.Duration != 0 || p.FinishedAt != nil {
		d := float64(p.Duration)
		out.Duration = &d
	}
	return out
}
