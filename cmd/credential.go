package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dhcgn/imap-notes/credential"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the IMAP password kept in the system keyring",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the password for --imap-user at --imap-host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, key, err := credentialTarget()
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Password for %s: ", key)
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if strings.TrimSpace(string(pass)) == "" {
			return fmt.Errorf("password is empty")
		}

		store, err := r.credentials()
		if err != nil {
			return err
		}
		if err := store.Set(key, string(pass)); err != nil {
			return err
		}
		r.logger.Info("password stored", "key", key)
		return nil
	},
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored password for --imap-user at --imap-host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, key, err := credentialTarget()
		if err != nil {
			return err
		}
		store, err := r.credentials()
		if err != nil {
			return err
		}
		if err := store.Delete(key); err != nil {
			return err
		}
		r.logger.Info("password removed", "key", key)
		return nil
	},
}

func credentialTarget() (*runtime, string, error) {
	r, err := current()
	if err != nil {
		return nil, "", err
	}
	if r.cfg.IMAPHost == "" || r.cfg.IMAPUser == "" {
		return nil, "", fmt.Errorf("--imap-host and --imap-user are required")
	}
	return r, credential.Key(r.cfg.IMAPUser, r.cfg.IMAPHost), nil
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd, credentialDeleteCmd)
	rootCmd.AddCommand(credentialCmd)
}
