package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"prodbench/internal/config"
	"prodbench/internal/tui/styles"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, name := range config.PresetNames() {
			plan, err := config.Preset(name, os.LookupEnv)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, styles.Active.Render(name))
			for _, sc := range plan.ScenarioNames() {
				s := plan.Scenarios[sc]
				fmt.Fprintf(out, "   %-18s %s  %d VUs  %s  %s\n", sc, s.Executor, s.VUs, s.Span(), s.Exec)
			}
			metrics := make([]string, 0, len(plan.Thresholds))
			for m := range plan.Thresholds {
				metrics = append(metrics, m)
			}
			sort.Strings(metrics)
			for _, m := range metrics {
				fmt.Fprintf(out, "   %s %v\n", styles.Subtle.Render(m), plan.Thresholds[m])
			}
		}
		return nil
	},
}
