package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/zasr/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "zasr",
	Short: "Streaming speech recognition gateway",
	Long: `zasr - A WebSocket gateway for streaming speech recognition.

Clients stream 16 kHz s16le PCM audio over a WebSocket channel and
receive incremental transcription events. Finalized sentences can be
tagged with a speaker identity from a persistent voice-print catalog.

Examples:
  # Start the gateway with a config file
  zasr serve -f zasr.yaml

  # Manage the voice-print catalog
  zasr voiceprint list
  zasr voiceprint add --name Alice sample1.wav sample2.wav
  zasr voiceprint rename speaker-001 "Alice Chen"
  zasr voiceprint validate`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the configured file, or returns the defaults when no
// file is given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// setupLogging installs the default slog logger according to the config
// and the --verbose flag.
func setupLogging(cfg *config.Config) error {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}
