package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "parleyd",
	Short: "Streaming persona chat service",
	Long: `parleyd - a streaming chat service with personas, tool calls and debates.

The service exposes conversations over HTTP: turns stream back as
server-sent events (or one JSON body in poll mode, or websocket frames),
personas shape the assistant's voice, and paid plans unlock image
generation.

Examples:
  # Run the service with a config file
  parleyd serve -f parleyd.yaml

  # Chat from the terminal without a server
  parleyd chat -f parleyd.yaml --persona scholar`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "parleyd.yaml", "config file path")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}
