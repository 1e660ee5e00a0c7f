// Package main implements the feedcurate CLI: it collects search-feed
// records, curates a premium subset and hands it to the analysis stage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, set via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Persistent flags shared by every command.
var (
	configPath  string
	logLevel    string
	resultsDir  string
	metricsAddr string
	natsURL     string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "feedcurate",
		Short: "Collect and curate search feed notes",
		Long: `feedcurate collects notes from a search results feed, deduplicates and
normalizes them, and selects a diverse premium subset for downstream analysis.

Configuration is read from feedcurate.yaml (or --config), then FEEDCURATE_*
environment variables, then command-line flags.`,
		Version:      version,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./feedcurate.yaml or ~/.config/feedcurate/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&resultsDir, "results-dir", "", "directory for session output")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&natsURL, "nats-url", "", "hand curated records off to this NATS server")

	root.AddCommand(newSearchCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newCurateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "feedcurate by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
