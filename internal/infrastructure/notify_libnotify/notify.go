package notify_libnotify

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
)

const appName = "ci-pilot"

// Notifier shells out to notify-send. A soft notifier swallows failures, so
// a missing notification daemon never breaks polling.
type Notifier struct {
	bin    string
	soft   bool
	expire time.Duration
}

func New() *Notifier     { return &Notifier{bin: "notify-send"} }
func NewSoft() *Notifier { return &Notifier{bin: "notify-send", soft: true} }

// WithExpire sets how long the notification stays on screen.
func (n *Notifier) WithExpire(d time.Duration) *Notifier {
	n.expire = d
	return n
}

var _ domain.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, msg domain.Notification) error {
	cmd := exec.CommandContext(ctx, n.bin, n.args(msg)...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

func (n *Notifier) args(msg domain.Notification) []string {
	body := msg.Body
	if strings.TrimSpace(msg.URL) != "" {
		if body == "" {
			body = msg.URL
		} else {
			body = body + "\n" + msg.URL
		}
	}

	args := []string{"--app-name=" + appName}
	if msg.Urgency != "" {
		args = append(args, "--urgency="+msg.Urgency)
	}
	if n.expire > 0 {
		args = append(args, "--expire-time="+strconv.Itoa(int(n.expire/time.Millisecond)))
	}
	return append(args, msg.Title, body)
}
