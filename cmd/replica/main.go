// Command replica runs one member of the auction ring.
//
// Grounded on ployzd's rootCmd() pattern (cmd/ployzd/main.go in the
// retrieval pack): a single cobra.Command with flags bound by closure,
// PersistentPreRunE for cross-cutting setup (here, logging), and a RunE
// that does the actual work. The teacher's own entrypoint (flag.String
// for --id/--host/--port/--peers, then n.Start(); go n.MonitorLeader())
// is replaced outright rather than adapted: spec.md §6.3 fixes the CLI
// shape to one required positional argument (the replica id) plus a
// membership file, which doesn't fit the teacher's flat flag set.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"auctionring/internal/config"
	"auctionring/internal/telemetry/logging"
	"auctionring/internal/telemetry/metrics"
	"auctionring/node"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var metricsAddr string
	var logLevel string
	var logFormat string

	cmd := &cobra.Command{
		Use:   "replica <id>",
		Short: "Run one ring replica of the auction service",
		Long:  "Starts a single replica (id must be one of the ids in the membership table) that bootstraps the ring, elects a leader, and accepts bidder connections.",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.Config{Level: logLevel, Format: logFormat})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("replica id must be an integer: %w", err)
			}

			membership, err := config.Load(configPath)
			if err != nil {
				return err
			}

			m := metrics.New("auctionring")
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, m)
			}

			rep, err := node.NewReplica(id, membership, m)
			if err != nil {
				return err
			}
			return rep.Run()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML membership file (defaults to the built-in 3-replica table)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables the server)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log format: console, json")
	return cmd
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}
