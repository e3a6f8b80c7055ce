package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davarch/ci-pilot/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var (
	listOnlyEnabled  bool
	listOnlyDisabled bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects from config.yaml",
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if listOnlyEnabled && listOnlyDisabled {
			return fmt.Errorf("flags --enabled and --disabled are mutually exclusive")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		items := make([]config.Project, 0, len(cfg.Poll.Projects))
		for _, p := range cfg.Poll.Projects {
			if listOnlyEnabled && !p.Enabled || listOnlyDisabled && p.Enabled {
				continue
			}
			items = append(items, p)
		}

		if outputJSON {
			return printJSON(os.Stdout, items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tPROJECT_ID\tSOURCE\tREF\tENABLED")
		for _, p := range items {
			name := p.Name
			if name == "" {
				name = "(unnamed)"
			}
			id := "-"
			if p.ProjectID != 0 {
				id = fmt.Sprint(p.ProjectID)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", name, id, source(p), p.Ref, p.Enabled)
		}
		return w.Flush()
	},
}

func source(p config.Project) string {
	switch {
	case p.RemoteURL != "":
		return p.RemoteURL
	case p.RepoPath != "":
		return p.RepoPath
	case p.ProjectID != 0:
		return "id"
	default:
		return "-"
	}
}

func init() {
	listCmd.Flags().BoolVar(&listOnlyEnabled, "enabled", false, "show only enabled projects")
	listCmd.Flags().BoolVar(&listOnlyDisabled, "disabled", false, "show only disabled projects")

	rootCmd.AddCommand(listCmd)
}
