package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/state"
)

var orphansRemoveStaged bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List saves that left an extra copy of a note behind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := current()
		if err != nil {
			return err
		}
		journal, err := r.openJournal()
		if err != nil {
			return err
		}

		orphans := journal.Orphans()
		if len(orphans) == 0 {
			fmt.Println("no orphaned replacements")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tOUTCOME\tORIGINAL\tMESSAGE-ID\tSTAGED")
		for _, rec := range orphans {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.Time.Local().Format("2006-01-02 15:04:05"), rec.Outcome, rec.Original, rec.HeaderMessageID, rec.StagedPath)
		}
		return tw.Flush()
	},
}

var orphansDismissCmd = &cobra.Command{
	Use:   "dismiss <header-message-id>",
	Short: "Mark an orphan as handled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := current()
		if err != nil {
			return err
		}
		journal, err := r.openJournal()
		if err != nil {
			return err
		}

		var match *state.Record
		for _, rec := range journal.Orphans() {
			if rec.HeaderMessageID == args[0] {
				rec := rec
				match = &rec
			}
		}
		if match == nil {
			return fmt.Errorf("no orphan with message id %s", args[0])
		}

		if err := journal.Record(state.Record{
			Original:        match.Original,
			HeaderMessageID: match.HeaderMessageID,
			Outcome:         state.OutcomeDismissed,
		}); err != nil {
			return err
		}
		if orphansRemoveStaged && match.StagedPath != "" {
			if err := os.Remove(match.StagedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove staged copy: %w", err)
			}
		}
		r.logger.Info("orphan dismissed", "messageId", match.HeaderMessageID, "original", match.Original)
		return nil
	},
}

func init() {
	orphansDismissCmd.Flags().BoolVar(&orphansRemoveStaged, "remove-staged", false, "Also delete the staged copy on disk")
	orphansCmd.AddCommand(orphansDismissCmd)
	rootCmd.AddCommand(orphansCmd)
}
