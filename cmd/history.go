package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodbench/internal/storage"
	"prodbench/internal/tui/history"
	"prodbench/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List()
		if err != nil {
			return err
		}
		if tui, _ := cmd.Flags().GetBool("tui"); tui {
			return history.Browse(items)
		}

		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, styles.Subtle.Render("no runs recorded yet"))
			return nil
		}
		fmt.Fprintln(out, styles.Subtle.Render(fmt.Sprintf("%-36s  %-19s  %-12s  %8s  %8s  %8s  %s",
			"ID", "TIME", "PLAN", "REQS", "RPS", "P95 MS", "RESULT")))
		for i, row := range history.Rows(items) {
			fmt.Fprintf(out, "%-36s  %-19s  %-12s  %8s  %8s  %8s  %s\n",
				items[i].ID, row[0], row[1], row[2], row[3], row[4], row[5])
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		item, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("run %s: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), history.Detail(*item))
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().String("history-db", "", "history database (default is $HOME/.prodbench/history.db)")
	historyCmd.Flags().Bool("tui", false, "browse runs interactively")
	historyCmd.AddCommand(historyShowCmd)
}

func openHistory() (*storage.Store, error) {
	path, _ := historyCmd.PersistentFlags().GetString("history-db")
	if path == "" {
		path = viper.GetString("history-db")
	}
	if path == "" {
		p, err := storage.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return storage.Open(path)
}
