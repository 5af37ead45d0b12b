package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/session"
)

const draftFileName = "note.html"

var (
	editTab   int64
	editForce bool
)

var editCmd = &cobra.Command{
	Use:   "edit <message-id>",
	Short: "Open a note in $EDITOR and save it every time the file is written",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseMessageID(args[0])
		if err != nil {
			return err
		}
		r, err := current()
		if err != nil {
			return err
		}

		registry, err := session.NewRegistry(r.cfg.EditorsDir())
		if err != nil {
			return err
		}
		target := session.TargetURL(editTab, id)
		if existing, found, err := registry.Find(target); err != nil {
			return err
		} else if found && !editForce {
			return fmt.Errorf("note is already open in process %d (use --force to open it anyway)", existing.PID)
		}
		release, err := registry.Register(target)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(); err != nil {
				r.logger.Warn("failed to release editor registration", "err", err)
			}
		}()

		s, err := r.openSession(cmd, id, editTab)
		if err != nil {
			return err
		}
		return runEditor(cmd.Context(), r, s)
	},
}

// draftSaver saves the draft file whenever its digest differs from the
// last saved one.
type draftSaver struct {
	path    string
	session *session.Session
	r       *runtime
	last    uint64
}

func (d *draftSaver) save(ctx context.Context) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		d.r.logger.Warn("failed to read draft", "path", d.path, "err", err)
		return
	}
	digest := xxhash.Sum64(data)
	if digest == d.last {
		return
	}

	subject, fragment := parseDraft(data, d.session.Note().Subject)
	next, err := d.session.Save(ctx, fragment, subject)
	if err != nil {
		d.r.logger.Error("save failed", "id", d.session.Note().Identity.ID, "err", err)
		fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
		return
	}
	d.last = digest
	fmt.Fprintf(os.Stderr, "saved %s\n", next.Identity.ID)
}

func runEditor(ctx context.Context, r *runtime, s *session.Session) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	loop := &editLoop{r: r, session: s, launch: launchEditor, signals: signals}
	return loop.run(ctx)
}

// editLoop runs one editor over a draft file and saves the draft on every
// change until the editor exits or an interrupt arrives.
type editLoop struct {
	r       *runtime
	session *session.Session
	launch  func(ctx context.Context, path string) error
	signals <-chan os.Signal
}

func (l *editLoop) run(ctx context.Context) error {
	r, s := l.r, l.session
	dir, err := os.MkdirTemp("", "imap-notes-edit-*")
	if err != nil {
		return fmt.Errorf("create draft directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, draftFileName)
	draft := renderDraft(s.Note())
	if err := os.WriteFile(path, draft, 0o600); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()
	// Editors often replace the file on write, so the directory is watched.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch draft directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	saver := &draftSaver{path: path, session: s, r: r, last: xxhash.Sum64(draft)}
	triggers := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range triggers {
			saver.save(ctx)
		}
	}()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(evt.Name) != draftFileName || !evt.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				select {
				case triggers <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("file watcher error", "err", err)
			}
		}
	}()

	// An interrupt only stops the editor. The session is closed after the
	// final save below, so a draft written just before still reaches the
	// store.
	var interrupted atomic.Bool
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.signals:
				if s.Busy() {
					fmt.Fprintln(os.Stderr, "a save is in progress, wait for it to finish")
					continue
				}
				interrupted.Store(true)
				cancel()
				return
			}
		}
	}()

	editorErr := l.launch(ctx, path)

	cancel()
	<-watchDone
	// Catch a final write the watcher may not have delivered yet.
	triggers <- struct{}{}
	close(triggers)
	wg.Wait()

	s.RequestClose()
	if editorErr != nil && !interrupted.Load() {
		return editorErr
	}
	return nil
}

func launchEditor(ctx context.Context, path string) error {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	c := exec.CommandContext(ctx, "sh", "-c", editor+` "$1"`, "sh", path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("run editor: %w", err)
	}
	return nil
}

func init() {
	editCmd.Flags().Int64Var(&editTab, "tab", 0, "Tab id recorded with the editor registration")
	editCmd.Flags().BoolVar(&editForce, "force", false, "Open even if another editor holds the note")
	rootCmd.AddCommand(editCmd)
}
