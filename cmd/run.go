package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodbench/internal/cli"
	"prodbench/internal/config"
	"prodbench/internal/storage"
)

const defaultTarget = "benchmarks"

var runCmd = &cobra.Command{
	Use:   "run [preset|plan-file]",
	Short: "Run a built-in preset or a plan file",
	Long: `Run a load plan. The argument is either a preset name (see "prodbench presets")
or the path to a YAML/JSON plan file. Without an argument the benchmarks
preset runs both product scenarios side by side.

Exit codes: 0 success, 99 thresholds failed, 105 interrupted, 1 invalid plan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := defaultTarget
		if len(args) > 0 {
			target = args[0]
		}
		opts, err := runOptions(target)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := cli.Start(ctx, opts)
		if err != nil {
			return err
		}
		if outcome.ExitCode != cli.ExitOK {
			return &ExitError{Code: outcome.ExitCode}
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String("base-url", "", "API base URL (overrides BASE_URL and the plan)")
	f.Int("vus", 0, "VUs for every scenario")
	f.Duration("duration", 0, "steady duration for every scenario (e.g. 30s)")
	f.Int("limit", 0, "page size for the cached listing (the non-cached listing always sends limit=20)")
	f.StringP("out", "o", "", "output filename prefix for reports")
	f.Bool("tui", false, "show the live dashboard")
	f.Bool("strict-checks", false, "exit 99 when any check failed")
	f.String("metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9464)")
	f.String("history-db", "", "history database (default is $HOME/.prodbench/history.db)")
	f.Bool("no-history", false, "do not record this run")

	for _, name := range []string{
		"base-url", "vus", "duration", "limit", "out", "tui",
		"strict-checks", "metrics-addr", "history-db", "no-history",
	} {
		_ = viper.BindPFlag(name, f.Lookup(name))
	}
}

func runOptions(target string) (cli.Options, error) {
	plan, err := config.Resolve(target)
	if err != nil {
		return cli.Options{}, err
	}
	plan.Apply(config.Overrides{
		BaseURL:  viper.GetString("base-url"),
		VUs:      viper.GetInt("vus"),
		Duration: viper.GetDuration("duration"),
		Limit:    viper.GetInt("limit"),
	})

	return cli.Options{
		Plan:         plan,
		OutPrefix:    viper.GetString("out"),
		TUI:          viper.GetBool("tui"),
		StrictChecks: viper.GetBool("strict-checks"),
		MetricsAddr:  viper.GetString("metrics-addr"),
		HistoryPath:  historyPath(),
	}, nil
}

func historyPath() string {
	if viper.GetBool("no-history") {
		return ""
	}
	if p := viper.GetString("history-db"); p != "" {
		return p
	}
	p, err := storage.DefaultPath()
	if err != nil {
		log.WithError(err).Warn("no home directory, history disabled")
		return ""
	}
	return p
}
