package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prodbench/internal/dummy"
)

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a local products API to test against",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		port, _ := f.GetInt("port")
		ttl, _ := f.GetDuration("cache-ttl")
		latency, _ := f.GetDuration("db-latency")
		jitter, _ := f.GetDuration("db-jitter")
		catalog, _ := f.GetInt("catalog")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return dummy.NewServer(dummy.ServerConfig{
			Port:      port,
			CacheTTL:  ttl,
			DBLatency: latency,
			DBJitter:  jitter,
			Catalog:   catalog,
		}).ListenAndServe(ctx)
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", dummy.DefaultPort, "Port to run dummy server on")
	dummyCmd.Flags().Duration("cache-ttl", dummy.DefaultCacheTTL, "how long cached pages live")
	dummyCmd.Flags().Duration("db-latency", 20*time.Millisecond, "simulated query latency")
	dummyCmd.Flags().Duration("db-jitter", 10*time.Millisecond, "random extra query latency")
	dummyCmd.Flags().Int("catalog", dummy.DefaultCatalog, "number of products")
}
