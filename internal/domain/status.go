package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusCreated
	StatusPending
	StatusRunning
	StatusSuccess
	StatusFailed
	StatusCanceled
	StatusSkipped
	StatusManual
)

var rawStatuses = map[string]Status{
	"created":  StatusCreated,
	"pending":  StatusPending,
	"running":  StatusRunning,
	"success":  StatusSuccess,
	"failed":   StatusFailed,
	"canceled": StatusCanceled,
	"skipped":  StatusSkipped,
	"manual":   StatusManual,
}

var labels = map[Status]string{
	StatusCreated:  "Created",
	StatusPending:  "Pending",
	StatusRunning:  "Running",
	StatusSuccess:  "Success",
	StatusFailed:   "Failed",
	StatusCanceled: "Canceled",
	StatusSkipped:  "Skipped",
	StatusManual:   "Manual",
	StatusUnknown:  "Unknown",
}

// Classify maps a raw GitLab status onto the canonical enum. Matching is
// case-sensitive; anything unrecognized is StatusUnknown.
func Classify(raw string) Status {
	if s, ok := rawStatuses[raw]; ok {
		return s
	}
	return StatusUnknown
}

func (s Status) String() string {
	if l, ok := labels[s]; ok {
		return strings.ToLower(l)
	}
	return "unknown"
}

func IsFinished(s Status) bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled, StatusSkipped:
		return true
	}
	return false
}

func CanRetry(s Status) bool { return s == StatusFailed || s == StatusCanceled }

func CanCancel(s Status) bool { return s == StatusRunning || s == StatusPending }

// CanPlay only applies to jobs.
func CanPlay(s Status) bool { return s == StatusManual }

// DisplayLabel returns the human label. Unknown statuses show the capitalized
// raw value so that newer server statuses stay readable.
func DisplayLabel(s Status, raw string) string {
	if s != StatusUnknown {
		return labels[s]
	}
	if raw == "" {
		return labels[StatusUnknown]
	}
	r, size := utf8.DecodeRuneInString(raw)
	return string(unicode.ToUpper(r)) + raw[size:]
}

// DurationLabel renders seconds as M:SS or H:MM:SS, truncating fractions.
func DurationLabel(seconds *float64) string {
	if seconds == nil {
		return "N/A"
	}
	total := int64(*seconds)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// Urgency is the desktop notification urgency for a status change.
func Urgency(s Status) string {
	switch s {
	case StatusFailed:
		return "critical"
	case StatusSuccess, StatusCanceled, StatusSkipped:
		return "normal"
	default:
		return "low"
	}
}
