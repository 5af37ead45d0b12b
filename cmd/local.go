package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap-notes/local"
	"github.com/dhcgn/imap-notes/mailstore"
	"github.com/dhcgn/imap-notes/mbox"
	"github.com/dhcgn/imap-notes/model"
	"github.com/dhcgn/imap-notes/replace"
)

var (
	localFolder    string
	localNotesOnly bool
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Back up or restore the local folders that hold replaced notes",
}

var localFoldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List the local folders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openLocalOnly()
		if err != nil {
			return err
		}
		folders, err := b.Folders(cmd.Context())
		if err != nil {
			return err
		}
		for _, f := range folders {
			if f.Path == "" {
				continue
			}
			line := f.Path
			if f.Type != "" {
				line += " (" + f.Type + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var localExportCmd = &cobra.Command{
	Use:   "export <file.mbox>",
	Short: "Write a local folder to an mbox file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openLocalOnly()
		if err != nil {
			return err
		}
		out, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer out.Close()

		n, err := mbox.Export(cmd.Context(), b, localFolderRef(), out, rt.logger)
		if err != nil {
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Printf("exported %d messages from %s\n", n, localFolder)
		return nil
	},
}

var localImportCmd = &cobra.Command{
	Use:   "import <file.mbox>",
	Short: "Append the messages of an mbox file to a local folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openLocalOnly()
		if err != nil {
			return err
		}
		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		folder, err := b.CreateFolder(cmd.Context(), model.Folder{Account: local.AccountID}, localFolder)
		if err != nil {
			return err
		}

		var opts mbox.Options
		if localNotesOnly {
			opts.IncludeHeader = []string{mbox.NotesOnly}
		}
		res, err := mbox.Import(cmd.Context(), b, folder, in, opts, rt.logger)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d messages into %s (%d failed)\n", res.Imported, folder.Path, res.Failed)
		return nil
	},
}

func openLocalOnly() (*local.Backend, error) {
	r, err := current()
	if err != nil {
		return nil, err
	}
	b, err := r.openLocal()
	if err != nil {
		return nil, err
	}
	r.onClose(b.Close)
	return b, nil
}

func localFolderRef() model.Folder {
	return model.Folder{Account: local.AccountID, Path: localFolder, Name: mailstore.FolderName(localFolder)}
}

func init() {
	localCmd.PersistentFlags().StringVar(&localFolder, "folder", replace.TrashFolderName, "Local folder to read or fill")
	localImportCmd.Flags().BoolVar(&localNotesOnly, "notes-only", true, "Import only Apple Notes messages")
	localCmd.AddCommand(localFoldersCmd, localExportCmd, localImportCmd)
	rootCmd.AddCommand(localCmd)
}
