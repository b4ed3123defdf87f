// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/gltrace/internal/config"
	"firestige.xyz/gltrace/internal/ctype"
	"firestige.xyz/gltrace/internal/entrypoint"
	"firestige.xyz/gltrace/internal/log"
	"firestige.xyz/gltrace/internal/metrics"
	"firestige.xyz/gltrace/internal/packet"
)

var (
	// Global flags
	configFile string

	cfg           *config.Config
	metricsServer *metrics.Server
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gltrace",
	Short: "gltrace - graphics API call trace codec and replayer",
	Long: `gltrace reads, writes and replays recorded graphics API call streams.

A trace is a sequence of self-describing binary call packets, optionally
followed by an archive of large blobs such as state snapshots. Replay maps
every object handle recorded at capture time onto the handle the replay
driver returns, per context and share group.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(trimCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(infoCmd)
}

// setup loads configuration, initializes logging and starts the metrics
// endpoint when enabled.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg = c
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := metricsServer.Start(cmd.Context()); err != nil {
			return err
		}
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Stop(ctx); err != nil {
		log.GetLogger().WithError(err).Warn("stopping metrics server")
	}
	metricsServer = nil
}

// currentConfig returns the loaded configuration, or the defaults when a
// command runs without the root pre-run.
func currentConfig() *config.Config {
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg
}

// loadRegistry builds the call registry from the configured schema file, or
// the built-in table.
func loadRegistry(c *config.Config) (*entrypoint.Registry, error) {
	if c.Registry.SchemaFile == "" {
		return entrypoint.Builtin(ctype.Builtin()), nil
	}
	calls, err := entrypoint.LoadSchemaFile(c.Registry.SchemaFile, ctype.Builtin())
	if err != nil {
		return nil, fmt.Errorf("load registry %s: %w", c.Registry.SchemaFile, err)
	}
	return calls, nil
}

func newDecoder(c *config.Config, calls *entrypoint.Registry) *packet.Decoder {
	return packet.NewDecoder(calls, packet.WithCRC(c.Codec.VerifyCRC))
}
