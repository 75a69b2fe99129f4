package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Sandbox.Kind != "Bubblewrap" {
		t.Fatalf("expected default sandbox kind Bubblewrap, got %q", cfg.Sandbox.Kind)
	}
	if cfg.Command.Mode != "Blacklist" {
		t.Fatalf("expected default command mode Blacklist, got %q", cfg.Command.Mode)
	}
	if cfg.Command.TimeoutS != 30 {
		t.Fatalf("expected default timeout 30s, got %d", cfg.Command.TimeoutS)
	}
}

func TestLoadFrom_ParsesFolderPolicies(t *testing.T) {
	dir := t.TempDir()
	body := `
sandbox:
  kind: Container
  container_image: alpine:3.20
command:
  mode: Whitelist
  allowed: ["git", "ls"]
folder_policies:
  - path: /work
    access: ReadWrite
  - path: /work/secret
    access: Deny
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Sandbox.Kind != "Container" {
		t.Fatalf("expected sandbox kind Container, got %q", cfg.Sandbox.Kind)
	}
	if len(cfg.FolderPolicies) != 2 {
		t.Fatalf("expected 2 folder policies, got %d", len(cfg.FolderPolicies))
	}

	engine, err := cfg.BuildEngine()
	if err != nil {
		t.Fatalf("BuildEngine: %v", err)
	}
	if got := engine.Effective("/work/secret/a.txt").Access.String(); got != "deny" {
		t.Fatalf("expected deny for /work/secret/a.txt, got %q", got)
	}
}

func TestFingerprint_ChangesWithSandboxKind(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	b.Sandbox.Kind = "Container"

	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected fingerprint to change when sandbox kind differs")
	}
}

func TestApplyEnvOverrides_AllowedDirectories(t *testing.T) {
	t.Setenv("SANDBOXCORE_ALLOWED_DIRECTORIES", "/work, /tmp/scratch")

	cfg := defaultConfig()
	applyEnvOverrides(&cfg)

	if len(cfg.AllowedDirectories) != 2 || cfg.AllowedDirectories[0] != "/work" || cfg.AllowedDirectories[1] != "/tmp/scratch" {
		t.Fatalf("unexpected allowed directories: %v", cfg.AllowedDirectories)
	}
}
