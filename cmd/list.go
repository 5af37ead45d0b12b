package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/stats"
)

var listTop int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the notes in the notes folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := current()
		if err != nil {
			return err
		}
		remote, err := r.openIMAP()
		if err != nil {
			return err
		}
		r.onClose(remote.Close)

		folder := r.notesFolder(remote)
		notes, err := remote.ListNotes(cmd.Context(), folder)
		if err != nil {
			return fmt.Errorf("list notes: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATE\tSUBJECT")
		authors := make(map[string]int)
		for _, h := range notes {
			date := ""
			if !h.Date.IsZero() {
				date = h.Date.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", h.ID, date, h.Subject)
			if h.Author != "" {
				authors[h.Author]++
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d notes in %s\n", len(notes), folder.Path)
		if listTop > 0 && len(authors) > 0 {
			fmt.Printf("\nTop %d authors:\n", listTop)
			stats.PrettyPrintTop(os.Stdout, authors, listTop)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listTop, "top", "t", 5, "Number of top authors to display (0 disables)")
	rootCmd.AddCommand(listCmd)
}
