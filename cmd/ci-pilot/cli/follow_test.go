package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
)

func TestFollower_PrintsChangesUntilFinished(t *testing.T) {
	var out, errw bytes.Buffer
	f := newFollower(&out, &errw)

	snap := func(st domain.Status) domain.Snapshot {
		return domain.Snapshot{Pipelines: []domain.Pipeline{
			{ID: 8, Ref: "main", Status: domain.StatusSuccess},
			{ID: 7, Ref: "main", Status: st},
		}}
	}

	// Nothing is tracked before the action returns.
	f.OnSnapshot(snap(domain.StatusRunning))
	if out.Len() != 0 {
		t.Fatalf("untracked snapshot printed %q", out.String())
	}

	f.track(7, domain.StatusPending)
	f.OnSnapshot(snap(domain.StatusPending))
	f.OnSnapshot(snap(domain.StatusRunning))
	f.OnSnapshot(snap(domain.StatusRunning))

	select {
	case <-f.done:
		t.Fatal("running pipeline must not end the follow")
	default:
	}

	f.OnSnapshot(snap(domain.StatusFailed))
	f.OnSnapshot(snap(domain.StatusFailed))

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("finished pipeline must end the follow")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per status change, got %q", out.String())
	}
	if !strings.Contains(lines[0], "#7") || !strings.Contains(lines[1], "Failed") {
		t.Errorf("unexpected output %q", out.String())
	}

	f.OnFetchError(domain.ProjectRef{}, &domain.RemoteError{Op: "list pipelines", Reason: domain.RemoteTransport})
	if !strings.HasPrefix(errw.String(), "refresh failed:") {
		t.Errorf("unexpected error output %q", errw.String())
	}
}
