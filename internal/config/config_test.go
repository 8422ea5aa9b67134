package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "chat.yaml", `
server:
  events_url: wss://portal.example.org/chat/events
  history_url: https://portal.example.org/api/messages
  upload_url: https://portal.example.org/api/upload
room: community
history:
  page_size: 50
timeouts:
  reconnect_interval_ms: 3000
  reconciliation_ms: 5000
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.EventsURL != "wss://portal.example.org/chat/events" {
		t.Errorf("events_url = %q", cfg.Server.EventsURL)
	}
	if cfg.History.PageSize != 50 {
		t.Errorf("page_size = %d, want 50", cfg.History.PageSize)
	}
	if cfg.Timeouts.ReconnectInterval() != 3*time.Second {
		t.Errorf("reconnect_interval = %v, want 3s", cfg.Timeouts.ReconnectInterval())
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeFile(t, "chat.yaml", `
server:
  events_url: ws://localhost:8080/events
  history_url: http://localhost:8080/messages
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Room != "community" {
		t.Errorf("room = %q, want community", cfg.Room)
	}
	if cfg.Timeouts.ReconnectMaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Timeouts.ReconnectMaxAttempts)
	}
	if cfg.Timeouts.Reconciliation() != 10*time.Second {
		t.Errorf("reconciliation = %v, want 10s", cfg.Timeouts.Reconciliation())
	}
	if cfg.Timeouts.TypingWindow() != 2*time.Second {
		t.Errorf("typing window = %v, want 2s", cfg.Timeouts.TypingWindow())
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_TOKEN", "tok-from-env")
	path := writeFile(t, "chat.yaml", `
server:
  events_url: ws://localhost:8080/events
  history_url: http://localhost:8080/messages
auth:
  token: ${TEST_CHAT_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "tok-from-env" {
		t.Errorf("token = %q, want tok-from-env", cfg.Auth.Token)
	}
}

func TestLoad_JSON5(t *testing.T) {
	path := writeFile(t, "chat.json5", `{
  // comments are allowed here
  server: {
    events_url: "ws://localhost:8080/events",
    history_url: "http://localhost:8080/messages",
  },
  room: "community",
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.EventsURL != "ws://localhost:8080/events" {
		t.Errorf("events_url = %q", cfg.Server.EventsURL)
	}
}

func TestLoad_MissingEventsURL(t *testing.T) {
	path := writeFile(t, "chat.yaml", `
server:
  history_url: http://localhost:8080/messages
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_BadScheme(t *testing.T) {
	path := writeFile(t, "chat.yaml", `
server:
  events_url: http://localhost:8080/events
  history_url: http://localhost:8080/messages
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected scheme validation error")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
