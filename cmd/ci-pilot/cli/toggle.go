package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/davarch/ci-pilot/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

// setEnabled flips every project matching sel (name or numeric project_id)
// and saves the file. A running watcher picks the change up on reload.
func setEnabled(sel string, enabled bool) (bool, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return false, err
	}

	id, _ := strconv.ParseInt(sel, 10, 64)
	changed := false
	for i := range cfg.Poll.Projects {
		p := &cfg.Poll.Projects[i]
		if p.Name != sel && (id == 0 || p.ProjectID != id) {
			continue
		}
		if p.Enabled != enabled {
			p.Enabled = enabled
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	return true, config.Save(cfgPath, cfg)
}

func toggleCmd(use string, enabled bool) *cobra.Command {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}

	return &cobra.Command{
		Use:               use + " <project_name>",
		Short:             strings.ToUpper(use[:1]) + use[1:] + " project by name in config.yaml",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProjects,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed, err := setEnabled(args[0], enabled)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Printf("no change (project %q already %s or not found)\n", args[0], verb)
				return nil
			}
			fmt.Printf("%s: %s\n", verb, args[0])
			return nil
		},
	}
}

func completeProjects(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(cfg.Poll.Projects))
	for _, p := range cfg.Poll.Projects {
		if p.Name != "" && strings.HasPrefix(p.Name, toComplete) {
			out = append(out, p.Name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(toggleCmd("enable", true), toggleCmd("disable", false))
	_ = rootCmd.RegisterFlagCompletionFunc("project", completeProjects)
}
