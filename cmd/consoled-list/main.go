// Command consoled-list connects to a consoled server, waits for its
// general status, and prints the available stream names. It is a thin
// demonstration front-end for the consoled package, not part of the
// library's specified behavior.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gynnantonix/consoled-client"
	"github.com/gynnantonix/consoled-client/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "consoled-list",
	Short: "List the streams a consoled server currently exposes",
	Long: `consoled-list connects to a consoled server and prints the names of
every stream it currently advertises, one per line.

Configuration is loaded from consoled.yaml in the current directory,
$HOME/.consoled/, or /etc/consoled/. Environment variables override
config values with the CONSOLED_ prefix, e.g. CONSOLED_SERVER=10.0.0.5.`,
	RunE: runList,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./consoled.yaml)")
	rootCmd.Flags().String("server", "", "consoled server host")
	rootCmd.Flags().Int("port", 0, "consoled server port")
	rootCmd.Flags().String("filter", "", "CEL expression to filter the printed streams")
}

func runList(cmd *cobra.Command, args []string) error {
	config.InitViper(cfgFile)
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.Server = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("filter"); v != "" {
		cfg.StreamFilter = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFor(cfg.Verbose),
	}))

	opts := []consoled.Option{
		consoled.WithServer(cfg.Server),
		consoled.WithPort(cfg.Port),
		consoled.WithTimeout(cfg.TimeoutDuration()),
		consoled.WithLogger(logger),
	}
	if cfg.Debug {
		opts = append(opts, consoled.WithDebug())
	}
	if cfg.Verbose {
		opts = append(opts, consoled.WithVerbose())
	}

	session, err := consoled.New(opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s:%d: %w", cfg.Server, cfg.Port, err)
	}
	defer func() { _ = session.Disconnect() }()

	names := session.AvailableStreams()
	if cfg.StreamFilter != "" {
		names, err = session.SelectStreams(cfg.StreamFilter)
		if err != nil {
			return fmt.Errorf("evaluating stream filter %q: %w", cfg.StreamFilter, err)
		}
	}

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
