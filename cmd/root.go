package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodbench/internal/banner"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "prodbench",
	Short: "prodbench - load tests for the products API",
	Long: `
prodbench drives load against the products API and reports k6-style results.

It ships three plans (cached, non-cached, benchmarks), accepts YAML/JSON plan
files, evaluates thresholds and exits non-zero when they fail, which makes it
usable as a CI gate.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		_ = cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.prodbench.yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(runCmd, presetsCmd, dummyCmd, historyCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".prodbench")
		}
	}
	viper.SetEnvPrefix("PRODBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config:", err)
		}
	}

	log.SetOutput(os.Stderr)
	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = log.WarnLevel
	}
	log.SetLevel(level)
	log.WithField("config", viper.ConfigFileUsed()).Debug("configuration loaded")
}
