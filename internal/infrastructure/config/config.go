package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"go.uber.org/atomic"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL  = "https://gitlab.com"
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 10 * time.Second
	DefaultLimit    = 20
)

type Project struct {
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	ProjectID int64  `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	RemoteURL string `yaml:"remote_url,omitempty" json:"remote_url,omitempty"`
	RepoPath  string `yaml:"repo_path,omitempty" json:"repo_path,omitempty"`
	Remote    string `yaml:"remote,omitempty" json:"remote,omitempty"`
	Ref       string `yaml:"ref,omitempty" json:"ref,omitempty"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
}

func (p Project) ToRef() domain.ProjectRef {
	return domain.ProjectRef{
		Name:      p.Name,
		ProjectID: p.ProjectID,
		RemoteURL: p.RemoteURL,
		RepoPath:  expandHome(p.RepoPath),
		Remote:    p.Remote,
		Ref:       p.Ref,
	}
}

type Config struct {
	GitLab struct {
		BaseURL   string        `yaml:"base_url"`
		Token     string        `yaml:"token"`
		TokenType string        `yaml:"token_type,omitempty"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"gitlab"`

	Poll struct {
		Interval  time.Duration `yaml:"interval"`
		Enabled   bool          `yaml:"enabled"`
		Limit     int           `yaml:"limit,omitempty"`
		JobDepth  int           `yaml:"job_depth,omitempty"`
		Workers   int           `yaml:"workers,omitempty"`
		Projects  []Project     `yaml:"projects"`
		PauseFile string        `yaml:"pause_file"`
	} `yaml:"poll"`

	Notifications struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notifications"`

	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`

	Log struct {
		Level      string `yaml:"level,omitempty"`
		File       string `yaml:"file,omitempty"`
		MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
		MaxBackups int    `yaml:"max_backups,omitempty"`
	} `yaml:"log"`
}

func defaults() Config {
	var c Config
	c.GitLab.BaseURL = DefaultBaseURL
	c.GitLab.TokenType = string(domain.TokenPrivate)
	c.GitLab.Timeout = DefaultTimeout
	c.Poll.Interval = DefaultInterval
	c.Poll.Enabled = true
	c.Poll.Limit = DefaultLimit
	c.Poll.JobDepth = 1
	c.Poll.Workers = 4
	c.Notifications.Enabled = true
	c.Cache.Path = "~/.cache/ci_status.json"
	return c
}

// Load reads path (a missing file is fine) and applies env overrides on top.
func Load(path string) (Config, error) {
	c := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}

	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitLab.BaseURL = v
	}

	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}

	if v := os.Getenv("GITLAB_TOKEN_TYPE"); v != "" {
		c.GitLab.TokenType = v
	}

	if v := os.Getenv("GITLAB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitLab.Timeout = d
		}
	}

	if v := os.Getenv("INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poll.Interval = d
		}
	}

	if v := os.Getenv("POLL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Poll.Enabled = b
		}
	}

	if v := os.Getenv("NOTIFICATIONS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Notifications.Enabled = b
		}
	}

	if v := os.Getenv("CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if s := os.Getenv("GITLAB_PROJECTS"); s != "" {
		var ps []Project
		for _, item := range strings.Split(s, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			parts := strings.SplitN(item, ":", 2)
			id, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				continue
			}
			p := Project{ProjectID: id, Enabled: true}
			if len(parts) == 2 {
				p.Ref = parts[1]
			}
			ps = append(ps, p)
		}
		if len(ps) > 0 {
			c.Poll.Projects = ps
		}
	} else if v := os.Getenv("GITLAB_PROJECT_ID"); v != "" {
		if pid, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Poll.Projects = []Project{{ProjectID: pid, Ref: os.Getenv("GITLAB_REF"), Enabled: true}}
		}
	}

	c.Cache.Path = expandHome(c.Cache.Path)
	c.Log.File = expandHome(c.Log.File)
	c.GitLab.BaseURL = strings.TrimRight(c.GitLab.BaseURL, "/")
	if c.GitLab.BaseURL == "" {
		c.GitLab.BaseURL = DefaultBaseURL
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = DefaultInterval
	}

	if c.GitLab.Timeout <= 0 {
		c.GitLab.Timeout = DefaultTimeout
	}

	if c.Poll.Limit <= 0 {
		c.Poll.Limit = DefaultLimit
	}

	if c.Poll.JobDepth < 0 {
		c.Poll.JobDepth = 0
	}

	if c.Poll.Workers <= 0 {
		c.Poll.Workers = 4
	}

	if c.Poll.PauseFile == "" {
		c.Poll.PauseFile = "~/.cache/ci_paused"
	}
	c.Poll.PauseFile = expandHome(c.Poll.PauseFile)

	switch domain.TokenType(c.GitLab.TokenType) {
	case domain.TokenPrivate, domain.TokenOAuth, domain.TokenJob:
	default:
		return c, fmt.Errorf("unknown gitlab.token_type %q", c.GitLab.TokenType)
	}

	return c, nil
}

// Validate checks what the watcher needs on top of Load.
func (c Config) Validate() error {
	if strings.TrimSpace(c.GitLab.Token) == "" {
		return errors.New("GITLAB_TOKEN is required")
	}

	if len(c.EnabledProjects()) == 0 {
		return errors.New("no projects configured (YAML or ENV)")
	}

	for _, p := range c.EnabledProjects() {
		if p.ProjectID == 0 && p.RemoteURL == "" && p.RepoPath == "" {
			return fmt.Errorf("project %q needs project_id, remote_url or repo_path", p.Name)
		}
	}

	return nil
}

func (c Config) EnabledProjects() []Project {
	var out []Project
	for _, p := range c.Poll.Projects {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Connection() domain.ConnectionConfig {
	return domain.ConnectionConfig{
		BaseURL:              c.GitLab.BaseURL,
		Token:                c.GitLab.Token,
		TokenType:            domain.TokenType(c.GitLab.TokenType),
		Timeout:              c.GitLab.Timeout,
		PollInterval:         c.Poll.Interval,
		PollingEnabled:       c.Poll.Enabled,
		NotificationsEnabled: c.Notifications.Enabled,
	}
}

// Live holds the current configuration snapshot for concurrent readers.
type Live struct {
	v atomic.Pointer[Config]
}

func NewLive(c Config) *Live {
	l := &Live{}
	l.Store(c)
	return l
}

func (l *Live) Load() Config { return *l.v.Load() }

func (l *Live) Store(c Config) { l.v.Store(&c) }

func (l *Live) Connection() domain.ConnectionConfig { return l.Load().Connection() }

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
