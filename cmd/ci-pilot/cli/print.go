package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/docker/go-units"
)

type pipelineView struct {
	ID       int64      `json:"id"`
	Ref      string     `json:"ref"`
	SHA      string     `json:"sha,omitempty"`
	Status   string     `json:"status"`
	Label    string     `json:"label"`
	Created  *time.Time `json:"created_at,omitempty"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
	Duration *float64   `json:"duration,omitempty"`
	User     string     `json:"user"`
	URL      string     `json:"web_url,omitempty"`
	Jobs     []jobView  `json:"jobs,omitempty"`
}

type jobView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Stage        string   `json:"stage"`
	Status       string   `json:"status"`
	Label        string   `json:"label"`
	Duration     *float64 `json:"duration,omitempty"`
	User         string   `json:"user"`
	PipelineID   int64    `json:"pipeline_id"`
	AllowFailure bool     `json:"allow_failure"`
	URL          string   `json:"web_url,omitempty"`
}

func viewPipeline(p domain.Pipeline) pipelineView {
	return pipelineView{
		ID:       p.ID,
		Ref:      p.Ref,
		SHA:      p.SHA,
		Status:   p.RawStatus,
		Label:    p.StatusLabel(),
		Created:  p.Times.Created,
		Started:  p.Times.Started,
		Finished: p.Times.Finished,
		Duration: p.Duration,
		User:     p.User,
		URL:      p.WebURL,
	}
}

func viewJob(j domain.Job) jobView {
	return jobView{
		ID:           j.ID,
		Name:         j.Name,
		Stage:        j.Stage,
		Status:       j.RawStatus,
		Label:        j.StatusLabel(),
		Duration:     j.Duration,
		User:         j.User,
		PipelineID:   j.PipelineID,
		AllowFailure: j.AllowFailure,
		URL:          j.WebURL,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPipelines(w io.Writer, ps []domain.Pipeline) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tREF\tSTATUS\tDURATION\tUSER\tCREATED")
	for _, p := range ps {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Ref, p.StatusLabel(), p.DurationLabel(), p.User, age(p.Times.Created))
	}
	_ = tw.Flush()
}

func printJobs(w io.Writer, js []domain.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTAGE\tNAME\tSTATUS\tDURATION\tALLOW_FAILURE")
	for _, j := range js {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", j.ID, j.Stage, j.Name, j.StatusLabel(), j.DurationLabel(), j.AllowFailure)
	}
	_ = tw.Flush()
}

func printPipeline(w io.Writer, p domain.Pipeline) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "%s\n", p.DisplayName())
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", p.StatusLabel())
	_, _ = fmt.Fprintf(tw, "Commit:\t%s\n", p.SHA)
	_, _ = fmt.Fprintf(tw, "User:\t%s\n", p.User)
	_, _ = fmt.Fprintf(tw, "Created:\t%s\n", stamp(p.Times.Created))
	_, _ = fmt.Fprintf(tw, "Started:\t%s\n", stamp(p.Times.Started))
	_, _ = fmt.Fprintf(tw, "Finished:\t%s\n", stamp(p.Times.Finished))
	_, _ = fmt.Fprintf(tw, "Duration:\t%s\n", p.DurationLabel())
	if p.WebURL != "" {
		_, _ = fmt.Fprintf(tw, "URL:\t%s\n", p.WebURL)
	}
	_ = tw.Flush()
}

func printJob(w io.Writer, j domain.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "%s\n", j.DisplayName())
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", j.StatusLabel())
	_, _ = fmt.Fprintf(tw, "Pipeline:\t#%d\n", j.PipelineID)
	_, _ = fmt.Fprintf(tw, "User:\t%s\n", j.User)
	_, _ = fmt.Fprintf(tw, "Started:\t%s\n", stamp(j.Times.Started))
	_, _ = fmt.Fprintf(tw, "Finished:\t%s\n", stamp(j.Times.Finished))
	_, _ = fmt.Fprintf(tw, "Duration:\t%s\n", j.DurationLabel())
	_, _ = fmt.Fprintf(tw, "Allow failure:\t%t\n", j.AllowFailure)
	if j.WebURL != "" {
		_, _ = fmt.Fprintf(tw, "URL:\t%s\n", j.WebURL)
	}
	_ = tw.Flush()
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// age renders how long ago t was, e.g. "10 minutes ago".
func age(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return units.HumanDuration(time.Since(*t)) + " ago"
}
