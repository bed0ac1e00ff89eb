package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/burrowvirt/burrow/pkg/config"
	"github.com/burrowvirt/burrow/pkg/daemon"
	"github.com/burrowvirt/burrow/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - Xen VM lifecycle scheduler",
	Long: `Burrow schedules VM lifecycle operations against a Xen host.

Lifecycle requests (start, stop, reboot, migrate) are split into
micro-ops that run on per-VM FIFO queues over a shared worker pool, so
one VM waiting for memory never blocks operations on another.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(vmCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the burrow daemon",
	Long: `Run the burrow daemon: the micro-op scheduler, the HTTP API and
the Prometheus metrics endpoint. Configuration comes from an optional
config file, BURROW_* environment variables and built-in defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dryRun {
			cfg.DryRun = true
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := daemon.New(ctx, cfg)
		if err != nil {
			return err
		}
		return d.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to config file")
	serveCmd.Flags().Bool("dry-run", false, "Use a fake hypervisor backend (no xl required)")
}
