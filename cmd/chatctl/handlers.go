// handlers.go contains the command implementations.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/ksucu-mc/chatkit/internal/config"
	"github.com/ksucu-mc/chatkit/internal/store"
	"github.com/ksucu-mc/chatkit/pkg/chat"
	"github.com/ksucu-mc/chatkit/pkg/models"
)

// runConnect joins the room and bridges the terminal to the session.
func runConnect(ctx context.Context, configPath, userID, username string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if username == "" {
		username = os.Getenv("USER")
	}
	if userID == "" {
		userID = username
	}
	if cfg.Auth.Token == "" {
		cfg.Auth.Token = promptToken("Token")
	}

	session := chat.NewSessionFromConfig(cfg, chat.Identity{UserID: userID, Username: username})
	defer session.Close()

	out := os.Stdout
	session.OnMessagesChanged(func(entries []store.Entry) {
		if len(entries) == 0 {
			return
		}
		printEntry(out, entries[len(entries)-1])
	})
	session.OnPresenceChanged(func(online []models.OnlineUser, typing []string) {
		if len(typing) > 0 {
			fmt.Fprintf(out, "-- typing: %s\n", strings.Join(typing, ", "))
		}
	})
	session.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "!! %v\n", err)
	})

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Fprintf(out, "connected to %s as %s\n", cfg.Room, username)

	// Backfill the most recent page before streaming.
	if _, err := session.LoadOlder(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "!! history backfill: %v\n", err)
	}
	for _, entry := range session.Messages() {
		printEntry(out, entry)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			fmt.Fprintln(out, "disconnecting")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(session, out, line); done {
				return nil
			}
		}
	}
}

// handleLine dispatches one stdin line. Returns true on /quit.
func handleLine(session *chat.Session, out *os.File, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		session.SendMessage(line, models.KindText, nil)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/edit":
		if len(fields) < 3 {
			fmt.Fprintln(out, "usage: /edit <id> <text>")
			return false
		}
		session.EditMessage(fields[1], strings.Join(fields[2:], " "))
	case "/delete":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: /delete <id>")
			return false
		}
		session.DeleteMessage(fields[1])
	case "/older":
		result, err := session.LoadOlder(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "!! %v\n", err)
			return false
		}
		fmt.Fprintf(out, "-- loaded %d older messages (more: %v)\n", result.Count, result.HasMore)
	case "/who":
		for _, user := range session.OnlineUsers() {
			fmt.Fprintf(out, "-- %s (%s)\n", user.Name, user.Status)
		}
	default:
		fmt.Fprintf(out, "unknown command %s\n", fields[0])
	}
	return false
}

// runHistory fetches history pages over REST and prints them.
func runHistory(ctx context.Context, configPath string, pages int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	session := chat.NewSessionFromConfig(cfg, chat.Identity{})
	defer session.Close()

	for i := 0; i < pages; i++ {
		result, err := session.LoadOlder(ctx)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		if !result.HasMore {
			break
		}
	}

	for _, entry := range session.Messages() {
		printEntry(os.Stdout, entry)
	}
	return nil
}

// printEntry renders one message line.
func printEntry(out *os.File, entry store.Entry) {
	message := entry.Message
	stamp := message.CreatedAt.Format("15:04:05")

	switch {
	case entry.Pending && entry.State == models.PendingFailed:
		fmt.Fprintf(out, "[%s] %s: %s (failed)\n", stamp, message.AuthorName, message.Body)
	case entry.Pending:
		fmt.Fprintf(out, "[%s] %s: %s (sending)\n", stamp, message.AuthorName, message.Body)
	case message.Deleted:
		fmt.Fprintf(out, "[%s] %s: (deleted)\n", stamp, message.AuthorName)
	case message.Kind != models.KindText:
		fmt.Fprintf(out, "[%s] %s: [%s] %s\n", stamp, message.AuthorName, message.Kind, message.MediaURL)
	case message.Edited:
		fmt.Fprintf(out, "[%s] %s: %s (edited)\n", stamp, message.AuthorName, message.Body)
	default:
		fmt.Fprintf(out, "[%s] %s: %s\n", stamp, message.AuthorName, message.Body)
	}
	if !entry.Pending && message.ID != "" && message.AuthorID != "" {
		// id printed so /edit and /delete have something to target
		fmt.Fprintf(out, "    id=%s\n", message.ID)
	}
}

// promptToken prompts for a credential without echoing it when stdin
// is a terminal.
func promptToken(label string) string {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(text))
		}
	}
	reader := bufio.NewReader(os.Stdin)
	text, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
