// Package main provides the CLI entry point for the chatkit client.
//
// chatctl is a terminal front end for the community chat: it connects
// to the portal's websocket fanout, prints the live message stream,
// and sends messages typed on stdin.
//
// # Basic Usage
//
// Join the community room:
//
//	chatctl connect --config chat.yaml --user wanjiru
//
// Print one page of history without connecting:
//
//	chatctl history --config chat.yaml
//
// # Environment Variables
//
//   - CHATKIT_CONFIG: Path to configuration file (default: chat.yaml)
//   - CHAT_TOKEN: Credential token, referenced from the config file
//     as ${CHAT_TOKEN}
//
// A .env file in the working directory is loaded before the config so
// tokens can live outside version control.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Token and endpoint overrides commonly live in a local .env.
	_ = godotenv.Load()

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chatctl",
		Short:        "chatctl - terminal client for the community chat",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildConnectCmd(),
		buildHistoryCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the CHATKIT_CONFIG override when the flag
// was left at its default.
func resolveConfigPath(path string) string {
	if path != "" && path != defaultConfigPath {
		return path
	}
	if env := os.Getenv("CHATKIT_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}
