package cli

import (
	"fmt"
	"os"

	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/spf13/cobra"
)

var (
	projectSel   string
	outputJSON   bool
	listRef      string
	listLimit    int
	pipelineJobs bool
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List recent pipelines of a project",
	Args:  cobra.NoArgs,
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

		filter := listRef
		if filter == "" {
			filter = ref.Ref
		}
		limit := listLimit
		if limit <= 0 {
			limit = a.live.Load().Poll.Limit
		}

		ps, err := a.gateway.ListPipelines(cmd.Context(), ref.ProjectID, domain.ListOptions{Limit: limit, Ref: filter})
		if err != nil {
			return err
		}

		if outputJSON {
			out := make([]pipelineView, 0, len(ps))
			for _, p := range ps {
				out = append(out, viewPipeline(p))
			}
			return printJSON(os.Stdout, out)
		}

		printPipelines(os.Stdout, ps)
		return nil
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <pipeline_id>",
	Short: "Show one pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "pipeline")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ref, err := a.project(cmd.Context(), projectSel)
		if err != nil {
			return err
		}

		p, err := a.gateway.GetPipeline(cmd.Context(), ref.ProjectID, id)
		if err != nil {
			return err
		}

		var jobs []domain.Job
		if pipelineJobs {
			if jobs, err = a.gateway.ListJobs(cmd.Context(), ref.ProjectID, id); err != nil {
				return err
			}
		}

		if outputJSON {
			v := viewPipeline(p)
			for _, j := range jobs {
				v.Jobs = append(v.Jobs, viewJob(j))
			}
			return printJSON(os.Stdout, v)
		}

		printPipeline(os.Stdout, p)
		if len(jobs) > 0 {
			fmt.Println()
			printJobs(os.Stdout, jobs)
		}
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs <pipeline_id>",
	Short: "List jobs of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "pipeline")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ref, err := a.project(cmd.Context(), projectSel)
		if err != nil {
			return err
		}

		jobs, err := a.gateway.ListJobs(cmd.Context(), ref.ProjectID, id)
		if err != nil {
			return err
		}

		if outputJSON {
			out := make([]jobView, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, viewJob(j))
			}
			return printJSON(os.Stdout, out)
		}

		printJobs(os.Stdout, jobs)
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <job_id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "job")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ref, err := a.project(cmd.Context(), projectSel)
		if err != nil {
			return err
		}

		j, err := a.gateway.GetJob(cmd.Context(), ref.ProjectID, id)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(os.Stdout, viewJob(j))
		}
		printJob(os.Stdout, j)
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log <job_id>",
	Short: "Print the log of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0], "job")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ref, err := a.project(cmd.Context(), projectSel)
		if err != nil {
			return err
		}

		trace, err := a.gateway.JobLog(cmd.Context(), ref.ProjectID, id)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, trace)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectSel, "project", "p", "", "project id, configured name or remote url (default: first enabled project, then the current repository)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print JSON")

	pipelinesCmd.Flags().StringVar(&listRef, "ref", "", "only pipelines for this branch or tag")
	pipelinesCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "number of pipelines (default: poll.limit)")
	pipelineCmd.Flags().BoolVar(&pipelineJobs, "jobs", false, "include jobs")

	rootCmd.AddCommand(pipelinesCmd, pipelineCmd, jobsCmd, jobCmd, logCmd)
}
