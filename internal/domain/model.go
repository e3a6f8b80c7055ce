package domain

import (
	"fmt"
	"time"
)

const UnknownUser = "Unknown"

type Timestamps struct {
	Created  *time.Time
	Started  *time.Time
	Finished *time.Time
}

// Ordered reports whether the present timestamps satisfy created <= started <= finished.
func (t Timestamps) Ordered() bool {
	var prev *time.Time
	for _, ts := range []*time.Time{t.Created, t.Started, t.Finished} {
		if ts == nil {
			continue
		}
		if prev != nil && ts.Before(*prev) {
			return false
		}
		prev = ts
	}
	return true
}

type Pipeline struct {
	ID        int64
	ProjectID int64
	Ref       string
	SHA       string
	Status    Status
	RawStatus string
	Times     Timestamps
	Duration  *float64
	User      string
	WebURL    string
}

func (p Pipeline) DisplayName() string {
	return fmt.Sprintf("Pipeline #%d (%s)", p.ID, p.Ref)
}

func (p Pipeline) StatusLabel() string { return DisplayLabel(p.Status, p.RawStatus) }

func (p Pipeline) DurationLabel() string { return DurationLabel(p.Duration) }

type Job struct {
	ID           int64
	Name         string
	Stage        string
	Status       Status
	RawStatus    string
	Times        Timestamps
	Duration     *float64
	User         string
	PipelineID   int64
	AllowFailure bool
	WebURL       string
}

func (j Job) DisplayName() string {
	return fmt.Sprintf("%s (%s)", j.Name, j.Stage)
}

func (j Job) StatusLabel() string { return DisplayLabel(j.Status, j.RawStatus) }

func (j Job) DurationLabel() string { return DurationLabel(j.Duration) }

type TokenType string

const (
	TokenPrivate TokenType = "private"
	TokenOAuth   TokenType = "oauth"
	TokenJob     TokenType = "job"
)

type ConnectionConfig struct {
	BaseURL              string
	Token                string
	TokenType            TokenType
	Timeout              time.Duration
	PollInterval         time.Duration
	PollingEnabled       bool
	NotificationsEnabled bool
}

// ProjectRef describes a monitored project. ProjectID is zero until resolved
// from RemoteURL or from the git remote of the repository at RepoPath.
type ProjectRef struct {
	Name      string
	ProjectID int64
	RemoteURL string
	RepoPath  string
	Remote    string
	Ref       string
}

func (p ProjectRef) Label() string {
	if p.Name != "" {
		return p.Name
	}
	if p.ProjectID != 0 {
		return fmt.Sprintf("#%d", p.ProjectID)
	}
	if p.RemoteURL != "" {
		return p.RemoteURL
	}
	return p.RepoPath
}

// Snapshot is the full replacement set produced by one refresh. Jobs are only
// present for the newest pipelines, keyed by pipeline ID.
type Snapshot struct {
	Project   ProjectRef
	Seq       uint64
	Pipelines []Pipeline
	Jobs      map[int64][]Job
	Retrieved time.Time
}

func (s Snapshot) Latest() (Pipeline, bool) {
	if len(s.Pipelines) == 0 {
		return Pipeline{}, false
	}
	return s.Pipelines[0], true
}

func (s Snapshot) Active() int {
	n := 0
	for _, p := range s.Pipelines {
		if !IsFinished(p.Status) {
			n++
		}
	}
	return n
}
