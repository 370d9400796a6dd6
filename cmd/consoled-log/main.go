// Command consoled-log subscribes to a single stream on a consoled server
// and copies its data to stdout until interrupted. With --write, lines
// read from stdin are forwarded to the stream instead. It is a thin
// demonstration front-end for the consoled package, not part of the
// library's specified behavior.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gynnantonix/consoled-client"
	"github.com/gynnantonix/consoled-client/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "consoled-log <stream>",
	Short: "Tail (or feed) a single consoled stream",
	Long: `consoled-log subscribes to a stream on a consoled server and copies its
data to stdout, continuously, until interrupted.

With --write, consoled-log instead reads lines from stdin and writes
each one to the stream.

Configuration is loaded from consoled.yaml in the current directory,
$HOME/.consoled/, or /etc/consoled/. Environment variables override
config values with the CONSOLED_ prefix, e.g. CONSOLED_SERVER=10.0.0.5.`,
	Args: cobra.ExactArgs(1),
	RunE: runLog,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./consoled.yaml)")
	rootCmd.Flags().String("server", "", "consoled server host")
	rootCmd.Flags().Int("port", 0, "consoled server port")
	rootCmd.Flags().Bool("write", false, "forward stdin to the stream instead of printing it")
}

func runLog(cmd *cobra.Command, args []string) error {
	stream := args[0]

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
	write, _ := cmd.Flags().GetBool("write")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFor(cfg.Verbose),
	}))

	opts := []consoled.Option{
		consoled.WithServer(cfg.Server),
		consoled.WithPort(cfg.Port),
		consoled.WithTimeout(cfg.TimeoutDuration()),
		consoled.WithLogger(logger),
		consoled.WithTimestampData(""),
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

	mode := "read"
	if write {
		mode = "write"
	}
	if !session.Subscribe(stream, mode) {
		return fmt.Errorf("subscribing to %s: %s", stream, session.GetError())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if write {
		return feedStream(ctx, session, stream)
	}
	return tailStream(ctx, session, stream)
}

func tailStream(ctx context.Context, session *consoled.Session, stream string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, err := session.ReadStream(stream)
		if err != nil {
			return fmt.Errorf("reading %s: %w", stream, err)
		}
		if data != "" {
			fmt.Print(data)
		}
		if msg := session.GetError(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func feedStream(ctx context.Context, session *consoled.Session, stream string) error {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := session.WriteStream(stream, line); err != nil {
				return fmt.Errorf("writing to %s: %w", stream, err)
			}
		}
	}
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
