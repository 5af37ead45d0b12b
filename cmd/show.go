package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/note"
)

var showCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Print a note's subject, title and editable content",
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
		store, _, err := r.openStore()
		if err != nil {
			return err
		}

		n, err := note.NewParser(store, r.logger).Parse(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("Subject: %s\n", n.Subject)
		fmt.Printf("Title:   %s\n", n.TitleInBody)
		fmt.Printf("HTML:    %t\n", n.HTML)
		fmt.Printf("Headers: %d\n\n", n.Headers.Len())
		fmt.Println(n.Content)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
