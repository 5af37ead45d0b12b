package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. IMAP_NOTES_IMAP_HOST.
const EnvPrefix = "IMAP_NOTES"

// Config captures all options shared by the subcommands.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	NotesFolder        string
	StateDir           string
	LocalDB            string
	PrefsPath          string
	LogDir             string
	LogLevel           string
	RelocateAttempts   int
	RelocateInterval   time.Duration
}

// StagingDir holds replacement copies written before import.
func (c Config) StagingDir() string {
	return filepath.Join(c.StateDir, "staging")
}

// EditorsDir holds the open-editor registry.
func (c Config) EditorsDir() string {
	return filepath.Join(c.StateDir, "editors")
}

// PasswordLookup returns a stored IMAP password for user at host.
type PasswordLookup func(user, host string) (string, error)

// RegisterFlags attaches the shared CLI flags to the root command.
func RegisterFlags(cmd *cobra.Command) error {
	baseDir, err := defaultBaseDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file providing flag defaults")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the keyring)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("notes-folder", "Notes", "IMAP folder holding the notes")
	flags.String("state-dir", filepath.Join(baseDir, "state"), "Directory for the replacement journal, staged copies and editor registry")
	flags.String("local-db", filepath.Join(baseDir, "local.db"), "SQLite database backing the local folders account")
	flags.String("prefs", "", "Preferences file (default ~/.config/imap-notes/prefs.yaml)")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.Int("relocate-attempts", 21, "Lookups of the moved replacement before giving up")
	flags.Duration("relocate-interval", 500*time.Millisecond, "Delay between relocate lookups")

	return nil
}

// LoadConfig merges the parsed Cobra flags, IMAP_NOTES_* environment
// variables and the optional config file into a Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		NotesFolder:        v.GetString("notes-folder"),
		StateDir:           v.GetString("state-dir"),
		LocalDB:            v.GetString("local-db"),
		PrefsPath:          v.GetString("prefs"),
		LogDir:             v.GetString("log-dir"),
		LogLevel:           v.GetString("log-level"),
		RelocateAttempts:   v.GetInt("relocate-attempts"),
		RelocateInterval:   v.GetDuration("relocate-interval"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.StateDir == "" {
		base, err := defaultBaseDir()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = filepath.Join(base, "state")
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// RequireIMAP checks the connection settings and fills a missing password
// from lookup. lookup may be nil.
func (c *Config) RequireIMAP(lookup PasswordLookup) error {
	if c.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if c.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if c.IMAPPass == "" && lookup != nil {
		pass, err := lookup(c.IMAPUser, c.IMAPHost)
		if err != nil {
			return fmt.Errorf("look up stored password: %w", err)
		}
		c.IMAPPass = pass
	}
	if c.IMAPPass == "" {
		return errors.New("IMAP password must be provided via --imap-pass, IMAP_PASS env var or the keyring")
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.NotesFolder == "" {
		return fmt.Errorf("--notes-folder must not be empty")
	}
	if cfg.LocalDB == "" {
		return fmt.Errorf("--local-db must not be empty")
	}
	if cfg.RelocateAttempts < 1 {
		return fmt.Errorf("--relocate-attempts must be at least 1")
	}
	if cfg.RelocateInterval < 0 {
		return fmt.Errorf("--relocate-interval must not be negative")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".imap-notes"), nil
}
