// commands.go contains the cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its
// handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "chat.yaml"

// buildConnectCmd creates the "connect" command: join the room, stream
// messages to the terminal, send lines typed on stdin.
func buildConnectCmd() *cobra.Command {
	var (
		configPath string
		username   string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the community chat and stream messages",
		Long: `Connect to the community chat room.

Incoming messages, presence changes, and errors print to the terminal.
Lines typed on stdin are sent as messages. Commands:

  /edit <id> <text>    edit one of your messages
  /delete <id>         delete one of your messages
  /older               load one page of older history
  /who                 print the online roster
  /quit                disconnect and exit`,
		Example: `  # Connect with token from .env
  chatctl connect --user wanjiru

  # Custom config
  chatctl connect --config /etc/chatkit/chat.yaml --user otieno`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), resolveConfigPath(configPath), userID, username)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().StringVarP(&username, "user", "u", "",
		"Display name for sent messages")
	cmd.Flags().StringVar(&userID, "user-id", "",
		"User id; defaults to the display name")

	return cmd
}

// buildHistoryCmd creates the "history" command: fetch and print one
// page of message history over REST, without opening the websocket.
func buildHistoryCmd() *cobra.Command {
	var (
		configPath string
		pages      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent message history and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), resolveConfigPath(configPath), pages)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().IntVarP(&pages, "pages", "n", 1,
		"Number of history pages to fetch")

	return cmd
}
