package main

import (
	"fmt"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <archive-id>",
	Short: "Open a local archive in a ZIM reader",
	Long: `Open an archive stored on this device in the configured reader
(reader.command), a detected Kiwix install, or the system default handler.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, ok := a.Records.Get(args[0])
	if !ok {
		return fmt.Errorf("%s: %w", args[0], domain.ErrArchiveNotFound)
	}
	if err := a.Reader.Open(rec); err != nil {
		return fmt.Errorf("failed to open %s: %w", rec.Title, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Opened %s\n", rec.Title)
	return nil
}
