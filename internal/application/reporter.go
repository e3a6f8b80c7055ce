package application

import (
	"context"
	"sync"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	lf "github.com/davarch/ci-pilot/internal/logfield"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

type lastSeen struct {
	id     int64
	status domain.Status
}

// Reporter is a Consumer that writes the status cache and sends a desktop
// notification whenever the newest pipeline of a project changes.
type Reporter struct {
	log   *zap.Logger
	note  domain.Notifier
	cache domain.StatusCache
	conn  domain.ConnectionSource

	mu   sync.Mutex
	last map[int64]lastSeen
}

func NewReporter(log *zap.Logger, note domain.Notifier, cache domain.StatusCache, conn domain.ConnectionSource) *Reporter {
	return &Reporter{
		log:   log.Named("reporter"),
		note:  note,
		cache: cache,
		conn:  conn,
		last:  make(map[int64]lastSeen),
	}
}

func (r *Reporter) OnSnapshot(s domain.Snapshot) {
	p, ok := s.Latest()
	if !ok {
		return
	}

	r.mu.Lock()
	prev, seen := r.last[s.Project.ProjectID]
	changed := !seen || prev.id != p.ID || prev.status != p.Status
	if changed {
		r.last[s.Project.ProjectID] = lastSeen{id: p.ID, status: p.Status}
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := r.cache.Write(ctx, s); err != nil {
		r.log.Warn("status cache write failed", lf.Project(s.Project), zap.Error(err))
	}

	r.log.Info("pipeline changed", lf.Project(s.Project), lf.PipelineID(p.ID), lf.Status(p.Status), lf.Seq(s.Seq))

	if !r.conn.Connection().NotificationsEnabled {
		return
	}

	err := r.note.Notify(ctx, domain.Notification{
		Title:   titleFor(p),
		Body:    bodyFor(s.Project, p),
		URL:     p.WebURL,
		Urgency: domain.Urgency(p.Status),
	})
	if err != nil {
		r.log.Warn("notify failed", lf.Project(s.Project), zap.Error(err))
	}
}

func (r *Reporter) OnFetchError(p domain.ProjectRef, err error) {
	r.log.Warn("poll failed", lf.Project(p), lf.ProjectID(p.ProjectID), lf.Ref(p.Ref), zap.Error(err))
}

// Forget drops the remembered state of a project that is no longer watched.
func (r *Reporter) Forget(projectID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, projectID)
}

func titleFor(p domain.Pipeline) string {
	switch p.Status {
	case domain.StatusSuccess:
		return "✅ CI: success"
	case domain.StatusFailed:
		return "❌ CI: failed"
	case domain.StatusRunning:
		return "▶️ CI: running"
	case domain.StatusCanceled:
		return "⛔ CI: canceled"
	case domain.StatusManual:
		return "⏸️ CI: manual"
	default:
		return "ℹ️ CI: " + p.StatusLabel()
	}
}

func bodyFor(project domain.ProjectRef, p domain.Pipeline) string {
	body := p.DisplayName()
	if project.Name != "" {
		body = project.Name + ": " + body
	}
	if d := p.DurationLabel(); p.Duration != nil {
		body += " in " + d
	}
	return body
}
