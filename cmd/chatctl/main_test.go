package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"connect", "history"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CHATKIT_CONFIG", "/etc/chatkit/chat.yaml")
	if got := resolveConfigPath(defaultConfigPath); got != "/etc/chatkit/chat.yaml" {
		t.Errorf("resolveConfigPath = %q, want env override", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("resolveConfigPath = %q, want explicit flag to win", got)
	}
}
