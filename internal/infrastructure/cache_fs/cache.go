package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/davarch/ci-pilot/internal/domain"
)

// Entry is what status bars read for one project.
type Entry struct {
	Project   string `json:"project"`
	ProjectID int64  `json:"project_id"`
	Ref       string `json:"ref"`
	Pipeline  int64  `json:"pipeline_id"`
	Status    string `json:"status"`
	Label     string `json:"label"`
	Duration  string `json:"duration"`
	URL       string `json:"url"`
	Active    int    `json:"active"`
	Retrieved int64  `json:"retrieved"`
}

type file struct {
	Projects []Entry `json:"projects"`
}

// FSCache keeps the newest pipeline of every project in one JSON file,
// replaced atomically on each write.
type FSCache struct {
	path string

	mu      sync.Mutex
	entries map[int64]Entry
}

func New(path string) *FSCache {
	return &FSCache{path: path, entries: make(map[int64]Entry)}
}

func (c *FSCache) Write(_ context.Context, s domain.Snapshot) error {
	if c.path == "" {
		return errors.New("cache path is empty")
	}

	p, ok := s.Latest()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[s.Project.ProjectID] = Entry{
		Project:   s.Project.Label(),
		ProjectID: s.Project.ProjectID,
		Ref:       p.Ref,
		Pipeline:  p.ID,
		Status:    p.Status.String(),
		Label:     p.StatusLabel(),
		Duration:  p.DurationLabel(),
		URL:       p.WebURL,
		Active:    s.Active(),
		Retrieved: s.Retrieved.Unix(),
	}

	out := file{Projects: make([]Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		out.Projects = append(out.Projects, e)
	}
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i].ProjectID < out.Projects[j].ProjectID })

	return c.replace(out)
}

func (c *FSCache) replace(v file) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	tmp := c.path + ".tmp" + strconv.Itoa(os.Getpid())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, c.path)
}

// Read loads the file written by Write.
func Read(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f.Projects, nil
}
