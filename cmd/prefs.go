package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change editor preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := current()
		if err != nil {
			return err
		}
		file := r.prefs()
		p, err := file.Load()
		if err != nil {
			return err
		}
		fmt.Printf("file:        %s\n", file.Path())
		fmt.Printf("keep-backup: %t\n", p.KeepBackup)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set keep-backup <true|false>",
	Short: "Change a preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "keep-backup" {
			return fmt.Errorf("unknown preference %q", args[0])
		}
		keep, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("keep-backup wants true or false: %w", err)
		}
		r, err := current()
		if err != nil {
			return err
		}
		if err := r.prefs().SetKeepBackup(keep); err != nil {
			return err
		}
		r.logger.Info("preference updated", "keepBackup", keep)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}
