// Package prefs reads the user's editor preferences from a YAML file. The
// file is read again on every lookup so edits apply to the next save.
package prefs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	KeyKeepBackup = "keep_backup"

	// DefaultKeepBackup applies when the file or key is missing.
	DefaultKeepBackup = true
)

type Preferences struct {
	KeepBackup bool `mapstructure:"keep_backup"`
}

type File struct {
	path   string
	logger *slog.Logger
}

func NewFile(path string, logger *slog.Logger) *File {
	return &File{path: path, logger: logger}
}

// DefaultPath returns ~/.config/imap-notes/prefs.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "prefs.yaml")
	}
	return filepath.Join(home, ".config", "imap-notes", "prefs.yaml")
}

func (f *File) Path() string {
	return f.path
}

func (f *File) viper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("yaml")
	v.SetDefault(KeyKeepBackup, DefaultKeepBackup)
	return v
}

// Load reads the file. A missing file yields the defaults.
func (f *File) Load() (Preferences, error) {
	v := f.viper()
	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return Preferences{KeepBackup: DefaultKeepBackup}, fmt.Errorf("reading preferences %s: %w", f.path, err)
		}
	}

	var p Preferences
	if err := v.Unmarshal(&p); err != nil {
		return Preferences{KeepBackup: DefaultKeepBackup}, fmt.Errorf("parsing preferences %s: %w", f.path, err)
	}
	return p, nil
}

// KeepBackup reports whether replaced originals go to the local trash
// instead of being deleted. Unreadable files fall back to the default.
func (f *File) KeepBackup() bool {
	p, err := f.Load()
	if err != nil && f.logger != nil {
		f.logger.Warn("preferences unreadable, using default", "path", f.path, "keepBackup", DefaultKeepBackup, "err", err)
	}
	return p.KeepBackup
}

func (f *File) SetKeepBackup(keep bool) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating preferences directory %s: %w", dir, err)
	}

	v := f.viper()
	if _, err := os.Stat(f.path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading preferences %s: %w", f.path, err)
		}
	}
	v.Set(KeyKeepBackup, keep)

	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("writing preferences to %s: %w", f.path, err)
	}
	return nil
}
