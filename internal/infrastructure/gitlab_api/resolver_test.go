package gitlab_api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/davarch/ci-pilot/internal/domain"
	"go.uber.org/zap"
)

func TestProjectPath(t *testing.T) {
	tests := []struct {
		remote string
		base   string
		want   string
		err    bool
	}{
		{"https://gitlab.com/group/project.git", "https://gitlab.com", "group/project", false},
		{"https://gitlab.com/group/sub/project", "https://gitlab.com", "group/sub/project", false},
		{"git@gitlab.com:group/project.git", "https://gitlab.com", "group/project", false},
		{"ssh://git@gitlab.example.com:2222/group/project.git", "https://gitlab.example.com", "group/project", false},
		{"https://example.com/gitlab/group/project.git/", "https://example.com/gitlab", "group/project", false},
		{"group/project", "https://gitlab.com", "group/project", false},
		{"https://gitlab.com/project", "https://gitlab.com", "", true},
		{"", "https://gitlab.com", "", true},
	}
	for _, tt := range tests {
		got, err := ProjectPath(tt.remote, tt.base)
		if (err != nil) != tt.err {
			t.Errorf("ProjectPath(%q) error = %v, want error %v", tt.remote, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ProjectPath(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

type fakeRemotes map[string]string

func (f fakeRemotes) RemoteURL(repo, _ string) (string, error) {
	if u, ok := f[repo]; ok {
		return u, nil
	}
	return "", errors.New("not a git repository")
}

func newTestResolver(t *testing.T, body string) (*Resolver, *hits) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, body)
	})
	srv, h := newServer(t, mux)
	conn := staticConn{BaseURL: srv.URL, Token: "t"}
	remotes := fakeRemotes{"/src/app": "git@gitlab.com:acme/app.git"}
	r := NewResolver(zap.NewNop(), NewClientCache(zap.NewNop(), nil), conn, remotes)
	t.Cleanup(r.Stop)
	return r, h
}

func TestResolver_ResolveCachesSuccess(t *testing.T) {
	r, h := newTestResolver(t, `[
		{"id":10,"path_with_namespace":"acme/app-legacy"},
		{"id":11,"path_with_namespace":"acme/app"}
	]`)

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), "https://gitlab.com/acme/app.git")
		if err != nil {
			t.Fatal(err)
		}
		if id != 11 {
			t.Fatalf("expected 11, got %d", id)
		}
	}
	if n := h.get("GET /api/v4/projects"); n != 1 {
		t.Errorf("expected one search, got %d", n)
	}

	r.Invalidate("https://gitlab.com/acme/app.git")
	if _, err := r.Resolve(context.Background(), "https://gitlab.com/acme/app.git"); err != nil {
		t.Fatal(err)
	}
	if n := h.get("GET /api/v4/projects"); n != 2 {
		t.Errorf("invalidate must force a new search, got %d", n)
	}
}

func TestResolver_AmbiguousAndMissing(t *testing.T) {
	r, h := newTestResolver(t, `[
		{"id":1,"path_with_namespace":"acme/app"},
		{"id":2,"path_with_namespace":"acme/app"}
	]`)

	_, err := r.Resolve(context.Background(), "git@gitlab.com:acme/app.git")
	var re *domain.ResolveError
	if !errors.As(err, &re) || re.Matches != 2 {
		t.Fatalf("expected ambiguous resolve error, got %v", err)
	}

	_, err = r.Resolve(context.Background(), "git@gitlab.com:acme/other.git")
	if !errors.As(err, &re) || re.Matches != 0 {
		t.Fatalf("expected missing resolve error, got %v", err)
	}

	if _, err := r.Resolve(context.Background(), "git@gitlab.com:acme/app.git"); err == nil {
		t.Fatal("failures must not be cached as success")
	}
	if n := h.get("GET /api/v4/projects"); n != 3 {
		t.Errorf("failures must not be cached, got %d searches", n)
	}
}

func TestResolver_ResolveProject(t *testing.T) {
	r, h := newTestResolver(t, `[{"id":42,"path_with_namespace":"acme/app"}]`)
	ctx := context.Background()

	if id, err := r.ResolveProject(ctx, domain.ProjectRef{ProjectID: 7, RemoteURL: "ignored"}); err != nil || id != 7 {
		t.Errorf("explicit id: %d, %v", id, err)
	}
	if n := h.get("GET /api/v4/projects"); n != 0 {
		t.Errorf("explicit id must not search, got %d", n)
	}

	if id, err := r.ResolveProject(ctx, domain.ProjectRef{RepoPath: "/src/app"}); err != nil || id != 42 {
		t.Errorf("repo path: %d, %v", id, err)
	}

	if _, err := r.ResolveProject(ctx, domain.ProjectRef{RepoPath: "/nowhere"}); !domain.IsResolveError(err) {
		t.Errorf("expected resolve error, got %v", err)
	}
	if _, err := r.ResolveProject(ctx, domain.ProjectRef{Name: "empty"}); !domain.IsResolveError(err) {
		t.Errorf("expected resolve error, got %v", err)
	}
}

func TestResolver_StopReleasesCache(t *testing.T) {
	r, h := newTestResolver(t, `[{"id":42,"path_with_namespace":"acme/app"}]`)
	ctx := context.Background()
	const remote = "git@gitlab.com:acme/app.git"

	if _, err := r.Resolve(ctx, remote); err != nil {
		t.Fatal(err)
	}

	r.Stop()
	r.Stop()
	r.Clear()
	r.Invalidate(remote)

	for i := 0; i < 2; i++ {
		if id, err := r.Resolve(ctx, remote); err != nil || id != 42 {
			t.Fatalf("resolve after stop: %d, %v", id, err)
		}
	}
	if n := h.get("GET /api/v4/projects"); n != 3 {
		t.Errorf("stopped resolver must look up without caching, got %d searches", n)
	}
}
