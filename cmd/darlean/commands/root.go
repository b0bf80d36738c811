// Package commands implements the darlean CLI surface of spec §6:
// --config, --app-id and --runtime-apps, wired through cobra/pflag the
// way substrate's own cmd/substrate/commands/root.go binds its persistent
// flags.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/darlean-io/darlean-go/pkg/node"
)

var (
	configPath  string
	appID       string
	runtimeApps string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "darlean",
	Short: "Run a darlean application node",
	Long: `darlean runs one application node of a darlean cluster: it hosts
whatever actor types the embedding build registers, and participates in
the cluster's distributed registry, lock and persistence services
according to the given configuration file.`,
	RunE: run,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the JSON configuration file (required)")
	rootCmd.PersistentFlags().StringVar(&appID, "app-id", "", "This node's application id; overrides appId from --config")
	rootCmd.PersistentFlags().StringVar(&runtimeApps, "runtime-apps", "", "Comma-separated list of peer application ids; overrides runtimeApps from --config")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus /metrics on (empty disables it)")
}

func run(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("darlean: --config is required")
	}
	cfg, err := node.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if appID != "" {
		cfg.AppID = appID
	}
	if runtimeApps != "" {
		cfg.RuntimeApps = strings.Split(runtimeApps, ",")
	}

	n, err := node.New(cfg, metricsAddr)
	if err != nil {
		return fmt.Errorf("darlean: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "darlean: received %v, shutting down (send again to force exit)\n", sig)
		cancel()

		sig = <-sigCh
		fmt.Fprintf(os.Stderr, "darlean: received %v again, forcing immediate exit\n", sig)
		os.Exit(1)
	}()

	return n.Run(ctx)
}
