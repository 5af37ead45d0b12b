package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	if err := RegisterFlags(cmd); err != nil {
		t.Fatalf("RegisterFlags: %v", err)
	}
	cmd.SetArgs(args)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("IMAP_PASS", "")
	cmd := newCommand(t, "--state-dir", t.TempDir())

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IMAPPort != 993 || !cfg.UseTLS {
		t.Fatalf("unexpected connection defaults: %+v", cfg)
	}
	if cfg.NotesFolder != "Notes" {
		t.Fatalf("expected Notes folder, got %q", cfg.NotesFolder)
	}
	if cfg.RelocateAttempts != 21 || cfg.RelocateInterval != 500*time.Millisecond {
		t.Fatalf("unexpected relocate defaults: %d %s", cfg.RelocateAttempts, cfg.RelocateInterval)
	}
	if cfg.StagingDir() != filepath.Join(cfg.StateDir, "staging") {
		t.Fatalf("unexpected staging dir %q", cfg.StagingDir())
	}
}

func TestLoadConfigNormalisesLogLevel(t *testing.T) {
	cmd := newCommand(t, "--log-level", "WARNING")
	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected warn, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("IMAP_NOTES_IMAP_HOST", "mail.example.com")
	t.Setenv("IMAP_PASS", "from-env")
	cmd := newCommand(t)

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IMAPHost != "mail.example.com" {
		t.Fatalf("expected host from env, got %q", cfg.IMAPHost)
	}
	if cfg.IMAPPass != "from-env" {
		t.Fatalf("expected IMAP_PASS fallback, got %q", cfg.IMAPPass)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("imap-user: jane\nrelocate-attempts: 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := newCommand(t, "--config", path, "--relocate-attempts", "5")

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IMAPUser != "jane" {
		t.Fatalf("expected user from file, got %q", cfg.IMAPUser)
	}
	if cfg.RelocateAttempts != 5 {
		t.Fatalf("explicit flag should win over file, got %d", cfg.RelocateAttempts)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := Config{IMAPPort: 993, NotesFolder: "Notes", LocalDB: "x.db", LogLevel: "info", RelocateAttempts: 1}
	if err := validateConfig(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.IMAPPort = 70000 }},
		{"folder", func(c *Config) { c.NotesFolder = "" }},
		{"attempts", func(c *Config) { c.RelocateAttempts = 0 }},
		{"interval", func(c *Config) { c.RelocateInterval = -time.Second }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRequireIMAP(t *testing.T) {
	cfg := Config{IMAPHost: "mail.example.com", IMAPUser: "jane"}
	lookup := func(user, host string) (string, error) {
		if user != "jane" || host != "mail.example.com" {
			t.Fatalf("unexpected lookup %s@%s", user, host)
		}
		return "secret", nil
	}
	if err := cfg.RequireIMAP(lookup); err != nil {
		t.Fatalf("RequireIMAP: %v", err)
	}
	if cfg.IMAPPass != "secret" {
		t.Fatalf("expected password from lookup, got %q", cfg.IMAPPass)
	}

	failing := func(string, string) (string, error) { return "", errors.New("locked") }
	missing := Config{IMAPHost: "h", IMAPUser: "u"}
	if err := missing.RequireIMAP(failing); err == nil {
		t.Fatalf("expected lookup error")
	}
	if err := missing.RequireIMAP(nil); err == nil {
		t.Fatalf("expected missing password error")
	}
	noHost := Config{IMAPUser: "u", IMAPPass: "p"}
	if err := noHost.RequireIMAP(nil); err == nil {
		t.Fatalf("expected missing host error")
	}
}
