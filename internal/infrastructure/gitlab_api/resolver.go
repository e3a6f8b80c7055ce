package gitlab_api

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"github.com/karlseguin/ccache/v2"
	"github.com/pkg/errors"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const resolveTTL = 24 * time.Hour

// RemoteReader finds the remote URL of a local repository.
type RemoteReader interface {
	RemoteURL(repoPath, remote string) (string, error)
}

// Resolver maps a repository remote URL to the GitLab project ID. Successful
// lookups are cached per input URL; failures are not.
type Resolver struct {
	log     *zap.Logger
	clients *ClientCache
	conn    domain.ConnectionSource
	remotes RemoteReader
	cache   *ccache.Cache

	stopped  atomic.Bool
	stopOnce sync.Once
}

func NewResolver(log *zap.Logger, clients *ClientCache, conn domain.ConnectionSource, remotes RemoteReader) *Resolver {
	return &Resolver{
		log:     log.Named("resolver"),
		clients: clients,
		conn:    conn,
		remotes: remotes,
		cache:   ccache.New(ccache.Configure().MaxSize(512)),
	}
}

func (r *Resolver) Resolve(ctx context.Context, remoteURL string) (int64, error) {
	if r.stopped.Load() {
		return r.lookup(ctx, remoteURL)
	}
	if item := r.cache.Get(remoteURL); item != nil && !item.Expired() {
		return item.Value().(int64), nil
	}

	id, err := r.lookup(ctx, remoteURL)
	if err != nil {
		return 0, err
	}
	r.cache.Set(remoteURL, id, resolveTTL)
	return id, nil
}

func (r *Resolver) lookup(ctx context.Context, remoteURL string) (int64, error) {

	cfg := r.conn.Connection()
	path, err := ProjectPath(remoteURL, cfg.BaseURL)
	if err != nil {
		return 0, &domain.ResolveError{RemoteURL: remoteURL, Cause: err}
	}

	client, err := r.clients.Get(cfg)
	if err != nil {
		return 0, err
	}

	opt := &gitlab.ListProjectsOptions{
		ListOptions:      gitlab.ListOptions{PerPage: maxPerPage},
		Search:           gitlab.String(path),
		SearchNamespaces: gitlab.Bool(true),
		Simple:           gitlab.Bool(true),
	}
	projects, _, err := client.Projects.ListProjects(opt, gitlab.WithContext(ctx))
	if err != nil {
		return 0, remoteError("search projects", err)
	}

	var matches []*gitlab.Project
	for _, p := range projects {
		if p.PathWithNamespace == path {
			matches = append(matches, p)
		}
	}
	if len(matches) != 1 {
		r.log.Info("project not resolved", lf.RemoteURL(remoteURL), zap.String("path", path), zap.Int("matches", len(matches)))
		return 0, &domain.ResolveError{RemoteURL: remoteURL, Path: path, Matches: len(matches)}
	}

	id := int64(matches[0].ID)
	r.log.Debug("project resolved", lf.RemoteURL(remoteURL), lf.ProjectID(id))
	return id, nil
}

// ResolveProject prefers an explicit project ID, then a configured remote
// URL, then the remote of the local repository.
func (r *Resolver) ResolveProject(ctx context.Context, p domain.ProjectRef) (int64, error) {
	if p.ProjectID != 0 {
		return p.ProjectID, nil
	}

	remote := p.RemoteURL
	if remote == "" {
		if p.RepoPath == "" || r.remotes == nil {
			return 0, &domain.ResolveError{RemoteURL: p.Label(), Cause: errors.New("no remote url or repository path")}
		}
		u, err := r.remotes.RemoteURL(p.RepoPath, p.Remote)
		if err != nil {
			return 0, &domain.ResolveError{RemoteURL: p.RepoPath, Cause: err}
		}
		remote = u
	}

	return r.Resolve(ctx, remote)
}

func (r *Resolver) Invalidate(remoteURL string) {
	if !r.stopped.Load() {
		r.cache.Delete(remoteURL)
	}
}

func (r *Resolver) Clear() {
	if !r.stopped.Load() {
		r.cache.Clear()
	}
}

// Stop releases the cache worker. Lookups still work afterwards but are no
// longer cached.
func (r *Resolver) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		r.cache.Stop()
	})
}

// ProjectPath extracts "group/sub/project" from an HTTPS, ssh:// or scp-like
// remote URL, dropping a trailing .git and any path prefix of baseURL.
func ProjectPath(remoteURL, baseURL string) (string, error) {
	s := strings.TrimSuffix(strings.TrimSpace(remoteURL), "/")
	s = strings.TrimSuffix(s, ".git")

	var path string
	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return "", errors.Wrap(err, "parse remote url")
		}
		path = u.Path
	case isSCPLike(s):
		path = s[strings.Index(s, ":")+1:]
	default:
		path = s
	}

	path = strings.Trim(path, "/")
	if base, err := url.Parse(baseURL); err == nil {
		if prefix := strings.Trim(base.Path, "/"); prefix != "" && strings.HasPrefix(path, prefix+"/") {
			path = path[len(prefix)+1:]
		}
	}

	if !strings.Contains(path, "/") {
		return "", errors.Errorf("no project path in %q", remoteURL)
	}
	return path, nil
}

func isSCPLike(s string) bool {
	i := strings.Index(s, ":")
	if i <= 0 {
		return false
	}
	return !strings.Contains(s[:i], "/")
}
