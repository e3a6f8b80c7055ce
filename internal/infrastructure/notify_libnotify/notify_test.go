package notify_libnotify

import (
	"context"
	"testing"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func TestArgs(t *testing.T) {
	n := New().WithExpire(3 * time.Second)

	got := n.args(domain.Notification{Title: "❌ CI: failed", Body: "Pipeline #1 (main)", URL: "https://gl/p/1", Urgency: "critical"})
	want := []string{
		"--app-name=ci-pilot",
		"--urgency=critical",
		"--expire-time=3000",
		"❌ CI: failed",
		"Pipeline #1 (main)\nhttps://gl/p/1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	got = New().args(domain.Notification{Title: "t", URL: "u"})
	if diff := cmp.Diff([]string{"--app-name=ci-pilot", "t", "u"}, got); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestNotify_SoftSwallowsFailures(t *testing.T) {
	msg := domain.Notification{Title: "t"}

	soft := &Notifier{bin: "ci-pilot-missing-notify-send", soft: true}
	if err := soft.Notify(context.Background(), msg); err != nil {
		t.Errorf("soft notifier returned %v", err)
	}

	hard := &Notifier{bin: "ci-pilot-missing-notify-send"}
	if err := hard.Notify(context.Background(), msg); err == nil {
		t.Error("expected error from missing binary")
	}
}
