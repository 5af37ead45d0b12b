package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/session"
)

var (
	saveID          string
	saveSubject     string
	saveContentFile string
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Replace a note's content and subject",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := model.ParseMessageID(saveID)
		if err != nil {
			return err
		}
		fragment, err := readContent(saveContentFile)
		if err != nil {
			return err
		}

		r, err := current()
		if err != nil {
			return err
		}
		s, err := r.openSession(cmd, id, 0)
		if err != nil {
			return err
		}

		subject := saveSubject
		if !cmd.Flags().Changed("subject") {
			subject = s.Note().Subject
		}

		next, err := s.Save(cmd.Context(), fragment, subject)
		if err != nil {
			return err
		}
		fmt.Printf("saved %s\n", next.Identity.ID)
		return nil
	},
}

func readContent(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read content from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read content file: %w", err)
	}
	return string(data), nil
}

// openSession wires the store, the replacer and the preferences file into
// an editor session for id.
func (r *runtime) openSession(cmd *cobra.Command, id model.MessageID, tabID int64) (*session.Session, error) {
	store, _, err := r.openStore()
	if err != nil {
		return nil, err
	}
	replacer, _, err := r.openReplacer(store)
	if err != nil {
		return nil, err
	}
	return session.Open(cmd.Context(), session.Deps{
		Store:    store,
		Replacer: replacer,
		Prefs:    r.prefs(),
		Logger:   r.logger,
	}, id, tabID)
}

func init() {
	saveCmd.Flags().StringVar(&saveID, "id", "", "Message id of the note (account/folder/uid)")
	saveCmd.Flags().StringVar(&saveSubject, "subject", "", "New subject (default: keep the current one)")
	saveCmd.Flags().StringVar(&saveContentFile, "content-file", "-", "File holding the new HTML fragment, - for stdin")
	_ = saveCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(saveCmd)
}
