package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/davarch/ci-pilot/internal/infrastructure/config"
	"github.com/davarch/ci-pilot/internal/infrastructure/gitlab_api"
	"github.com/davarch/ci-pilot/internal/infrastructure/gitremote"
	"github.com/davarch/ci-pilot/internal/infrastructure/logging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// app is the wiring shared by every command.
type app struct {
	log      *zap.Logger
	live     *config.Live
	clients  *gitlab_api.ClientCache
	gateway  *gitlab_api.Gateway
	resolver *gitlab_api.Resolver
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	live := config.NewLive(cfg)
	clients := gitlab_api.NewClientCache(log, nil)

	return &app{
		log:      log,
		live:     live,
		clients:  clients,
		gateway:  gitlab_api.NewGateway(log, clients, live),
		resolver: gitlab_api.NewResolver(log, clients, live, gitremote.Reader{}),
	}, nil
}

func (a *app) close() {
	a.resolver.Stop()
	a.clients.Clear()
	_ = a.log.Sync()
}

// project picks the target of a one-shot command: a numeric ID, a configured
// project name, a remote URL, or else the first enabled project, or else the
// repository in the working directory.
func (a *app) project(ctx context.Context, sel string) (domain.ProjectRef, error) {
	ref, err := a.selectProject(sel)
	if err != nil {
		return ref, err
	}

	id, err := a.resolver.ResolveProject(ctx, ref)
	if err != nil {
		return ref, err
	}
	ref.ProjectID = id
	return ref, nil
}

func (a *app) selectProject(sel string) (domain.ProjectRef, error) {
	cfg := a.live.Load()
	sel = strings.TrimSpace(sel)

	if sel == "" {
		if ps := cfg.EnabledProjects(); len(ps) > 0 {
			return ps[0].ToRef(), nil
		}
		return domain.ProjectRef{RepoPath: ".", Remote: gitremote.DefaultRemote}, nil
	}

	if id, err := strconv.ParseInt(sel, 10, 64); err == nil {
		return domain.ProjectRef{ProjectID: id}, nil
	}

	for _, p := range cfg.Poll.Projects {
		if p.Name == sel {
			return p.ToRef(), nil
		}
	}

	if strings.Contains(sel, "/") {
		return domain.ProjectRef{RemoteURL: sel}, nil
	}

	return domain.ProjectRef{}, errors.Errorf("unknown project %q", sel)
}

// describe turns domain errors into one line a user can act on.
func describe(err error) string {
	switch {
	case domain.IsNotConfigured(err):
		return "GitLab API not configured: set GITLAB_TOKEN or gitlab.token in " + cfgPath
	case domain.IsInvalidTransition(err):
		return "not allowed: " + err.Error()
	case domain.IsServerRejected(err):
		return "GitLab refused the request: " + err.Error()
	case domain.IsNotFound(err):
		return "not found: " + err.Error()
	case domain.IsResolveError(err):
		return "cannot find the GitLab project: " + err.Error()
	default:
		return fmt.Sprint(err)
	}
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}
