// Package cmd holds the imap-notes subcommands and the wiring between the
// configured stores and the editor session.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/config"
	"github.com/dhcgn/imap-notes/credential"
	"github.com/dhcgn/imap-notes/imap"
	"github.com/dhcgn/imap-notes/local"
	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/prefs"
	"github.com/dhcgn/imap-notes/replace"
	"github.com/dhcgn/imap-notes/state"
)

var rootCmd = &cobra.Command{
	Use:           "imap-notes",
	Short:         "Edit Apple Notes stored in an IMAP mailbox",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Root returns the command tree with every subcommand attached.
func Root() *cobra.Command {
	return rootCmd
}

// runtime is the per-invocation state set up before a subcommand runs.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func() error
}

var rt *runtime

// Init records the loaded configuration and logger. cleanup runs last on
// Shutdown.
func Init(cfg config.Config, logger *slog.Logger, cleanup func() error) {
	rt = &runtime{cfg: cfg, logger: logger}
	if cleanup != nil {
		rt.closers = append(rt.closers, cleanup)
	}
}

// Shutdown closes everything opened during the run, newest first.
func Shutdown() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func current() (*runtime, error) {
	if rt == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return rt, nil
}

func (r *runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *runtime) credentials() (*credential.Store, error) {
	return credential.Open(filepath.Join(r.cfg.StateDir, "keyring"))
}

func (r *runtime) lookupPassword(user, host string) (string, error) {
	store, err := r.credentials()
	if err != nil {
		return "", err
	}
	pass, err := store.Get(credential.Key(user, host))
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	return pass, err
}

func (r *runtime) openIMAP() (*imap.Backend, error) {
	if err := r.cfg.RequireIMAP(r.lookupPassword); err != nil {
		return nil, err
	}
	b, err := imap.New(imap.Options{
		Host:               r.cfg.IMAPHost,
		Port:               r.cfg.IMAPPort,
		Username:           r.cfg.IMAPUser,
		Password:           r.cfg.IMAPPass,
		UseTLS:             r.cfg.UseTLS,
		InsecureSkipVerify: r.cfg.InsecureSkipVerify,
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("imap.New: %w", err)
	}
	return b, nil
}

func (r *runtime) openLocal() (*local.Backend, error) {
	b, err := local.Open(r.cfg.LocalDB, r.logger)
	if err != nil {
		return nil, fmt.Errorf("local.Open: %w", err)
	}
	return b, nil
}

// openStore routes over the IMAP account and the local folders. The router
// owns both backends.
func (r *runtime) openStore() (*mailstore.Router, *imap.Backend, error) {
	remote, err := r.openIMAP()
	if err != nil {
		return nil, nil, err
	}
	localBackend, err := r.openLocal()
	if err != nil {
		_ = remote.Close()
		return nil, nil, err
	}
	router, err := mailstore.NewRouter(r.logger, remote, localBackend)
	if err != nil {
		_ = remote.Close()
		_ = localBackend.Close()
		return nil, nil, err
	}
	r.onClose(router.Close)
	return router, remote, nil
}

func (r *runtime) openJournal() (*state.FileJournal, error) {
	journal, err := state.NewFileJournal(r.cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("state.NewFileJournal: %w", err)
	}
	r.onClose(journal.Close)
	return journal, nil
}

func (r *runtime) openReplacer(store mailstore.Store) (*replace.Replacer, *state.FileJournal, error) {
	journal, err := r.openJournal()
	if err != nil {
		return nil, nil, err
	}
	replacer, err := replace.New(store, replace.Options{
		RelocateAttempts: r.cfg.RelocateAttempts,
		RelocateInterval: r.cfg.RelocateInterval,
		StagingDir:       r.cfg.StagingDir(),
	}, journal, r.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("replace.New: %w", err)
	}
	return replacer, journal, nil
}

func (r *runtime) prefs() *prefs.File {
	path := r.cfg.PrefsPath
	if path == "" {
		path = prefs.DefaultPath()
	}
	return prefs.NewFile(path, r.logger)
}

func (r *runtime) notesFolder(b *imap.Backend) model.Folder {
	return model.Folder{
		Account: b.Account().ID,
		Path:    r.cfg.NotesFolder,
		Name:    mailstore.FolderName(r.cfg.NotesFolder),
	}
}
