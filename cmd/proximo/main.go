// Package main provides the CLI entry point for proximo, a headless client
// for the proximity chat service.
//
// proximo logs in, keeps the chat, groups, location and notifications
// channels connected, streams the device location and renders who is nearby.
//
// # Basic Usage
//
// Stream location and watch the radar until interrupted:
//
//	proximo run --config proximo.yaml --email me@example.com
//
// Print the nearby users once and exit:
//
//	proximo radar --email me@example.com
//
// Check credentials:
//
//	proximo login --email me@example.com
//
// # Environment Variables
//
//   - PROXIMO_CONFIG: Path to configuration file (default: ~/.proximo/config.yaml)
//   - PROXIMO_EMAIL: Account email when --email is not given
//   - PROXIMO_PASSWORD: Account password; prompted for when unset
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRootCmd constructs the root command with every subcommand attached.
// Separated from main for testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proximo",
		Short: "Headless proximity chat client",
		Long: `proximo is a terminal client for the proximity chat service.

It authenticates, connects the realtime channels, streams the device
location and shows the people within the 50 m discovery radius.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML or JSON5 configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildRadarCmd(),
		buildLoginCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
