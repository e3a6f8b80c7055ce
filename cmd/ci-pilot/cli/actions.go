package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/spf13/cobra"
)

var actionOnJob bool

// runAction loads the current state of the target, then hands it to the
// orchestrator, which validates the transition before any write.
func runAction(ctx context.Context, action domain.Action, rawID string) error {
	what := "pipeline"
	if actionOnJob {
		what = "job"
	}
	id, err := parseID(rawID, what)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ref, err := a.project(ctx, projectSel)
	if err != nil {
		return err
	}

	o, f, release, err := a.orchestrator(ctx, ref, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer release()

	if actionOnJob || action == domain.ActionPlay {
		j, err := a.gateway.GetJob(ctx, ref.ProjectID, id)
		if err != nil {
			return err
		}

		switch action {
		case domain.ActionRetry:
			j, err = o.RetryJob(ctx, ref.ProjectID, j)
		case domain.ActionCancel:
			j, err = o.CancelJob(ctx, ref.ProjectID, j)
		case domain.ActionPlay:
			j, err = o.PlayJob(ctx, ref.ProjectID, j)
		}
		if err != nil {
			return err
		}
		if err := report(action, j.DisplayName(), j.StatusLabel(), func() error { return printJSON(os.Stdout, viewJob(j)) }); err != nil {
			return err
		}
		return followPipeline(ctx, f, j.PipelineID, domain.StatusUnknown)
	}

	p, err := a.gateway.GetPipeline(ctx, ref.ProjectID, id)
	if err != nil {
		return err
	}

	switch action {
	case domain.ActionRetry:
		p, err = o.RetryPipeline(ctx, p)
	case domain.ActionCancel:
		p, err = o.CancelPipeline(ctx, p)
	}
	if err != nil {
		return err
	}
	if err := report(action, p.DisplayName(), p.StatusLabel(), func() error { return printJSON(os.Stdout, viewPipeline(p)) }); err != nil {
		return err
	}
	return followPipeline(ctx, f, p.ID, p.Status)
}

// followPipeline waits for the pipeline to finish when --follow is set.
func followPipeline(ctx context.Context, f *follower, pipelineID int64, st domain.Status) error {
	if f == nil {
		return nil
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f.track(pipelineID, st)
	f.wait(ctx)
	return nil
}

func report(action domain.Action, target, status string, asJSON func() error) error {
	if outputJSON {
		return asJSON()
	}
	fmt.Printf("%s: %s, now %s\n", action, target, status)
	return nil
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <ref>",
	Short: "Run a new pipeline for a branch or tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ref, err := a.project(cmd.Context(), projectSel)
		if err != nil {
			return err
		}

		o, f, release, err := a.orchestrator(cmd.Context(), ref, os.Stdout, os.Stderr)
		if err != nil {
			return err
		}
		defer release()

		p, err := o.RunPipeline(cmd.Context(), ref.ProjectID, args[0])
		if err != nil {
			return err
		}
		if err := report(domain.ActionRun, p.DisplayName(), p.StatusLabel(), func() error { return printJSON(os.Stdout, viewPipeline(p)) }); err != nil {
			return err
		}
		return followPipeline(cmd.Context(), f, p.ID, p.Status)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed or canceled pipeline (or job with --job)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), domain.ActionRetry, args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running or pending pipeline (or job with --job)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), domain.ActionCancel, args[0])
	},
}

var playCmd = &cobra.Command{
	Use:   "play <job_id>",
	Short: "Start a manual job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), domain.ActionPlay, args[0])
	},
}

func init() {
	retryCmd.Flags().BoolVar(&actionOnJob, "job", false, "the id is a job id")
	cancelCmd.Flags().BoolVar(&actionOnJob, "job", false, "the id is a job id")
	addFollowFlags(triggerCmd, retryCmd, cancelCmd, playCmd)

	rootCmd.AddCommand(triggerCmd, retryCmd, cancelCmd, playCmd)
}
