package gitlab_api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/pkg/errors"
	"github.com/xanzy/go-gitlab"
)

// remoteError converts anything go-gitlab or the transport returns into a
// domain error. Domain errors pass through untouched.
func remoteError(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		re *domain.RemoteError
		ce *domain.ConfigError
		ne *domain.ResolveError
	)
	if errors.As(err, &re) || errors.As(err, &ce) || errors.As(err, &ne) {
		return err
	}

	var er *gitlab.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		reason := domain.RemoteServerRejected
		switch {
		case code == http.StatusNotFound:
			reason = domain.RemoteNotFound
		case code == http.StatusTooManyRequests, code >= 500:
			reason = domain.RemoteTransport
		}
		return &domain.RemoteError{Op: op, Reason: reason, Status: code, Cause: err}
	}

	return &domain.RemoteError{Op: op, Reason: domain.RemoteTransport, Cause: err}
}

func retryAfter(resp *gitlab.Response) time.Duration {
	if resp == nil || resp.Response == nil {
		return 0
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if sec, _ := strconv.Atoi(ra); sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 0
}
