package domain

import (
	"errors"
	"fmt"
)

type ConfigReason string

const (
	NotConfigured    ConfigReason = "not configured"
	ConnectionFailed ConfigReason = "connection failed"
)

type ConfigError struct {
	Reason ConfigReason
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gitlab %s: %v", e.Reason, e.Cause)
	}
	return "gitlab " + string(e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

type ResolveError struct {
	RemoteURL string
	Path      string
	Matches   int
	Cause     error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("project not found for %q", e.RemoteURL)
	if e.Matches > 1 {
		msg = fmt.Sprintf("project %q is ambiguous (%d matches)", e.Path, e.Matches)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Cause }

type RemoteReason string

const (
	RemoteNotFound       RemoteReason = "not found"
	RemoteTransport      RemoteReason = "transport"
	RemoteServerRejected RemoteReason = "rejected"
)

// RemoteError is a failure reported by, or on the way to, the GitLab server.
type RemoteError struct {
	Op     string
	Reason RemoteReason
	Status int
	Cause  error
}

func (e *RemoteError) Error() string {
	s := e.Op + ": " + string(e.Reason)
	if e.Status != 0 {
		s += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *RemoteError) Unwrap() error { return e.Cause }

type Action string

const (
	ActionRun    Action = "run"
	ActionRetry  Action = "retry"
	ActionCancel Action = "cancel"
	ActionPlay   Action = "play"
)

// InvalidTransitionError is a local precondition failure: no request was sent.
type InvalidTransitionError struct {
	Action Action
	Target string
	Status Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s %s: %s", e.Action, e.Target, e.Reason)
	}
	return fmt.Sprintf("cannot %s %s in status %s", e.Action, e.Target, e.Status)
}

func IsNotConfigured(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && ce.Reason == NotConfigured
}

func IsConnectionFailed(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && ce.Reason == ConnectionFailed
}

func IsResolveError(err error) bool {
	var re *ResolveError
	return errors.As(err, &re)
}

func isRemote(err error, reason RemoteReason) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Reason == reason
}

func IsNotFound(err error) bool { return isRemote(err, RemoteNotFound) }

func IsTransport(err error) bool { return isRemote(err, RemoteTransport) }

func IsServerRejected(err error) bool { return isRemote(err, RemoteServerRejected) }

func IsInvalidTransition(err error) bool {
	var ie *InvalidTransitionError
	return errors.As(err, &ie)
}
