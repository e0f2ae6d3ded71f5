package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/spf13/cobra"
)

var bookmarkCmd = &cobra.Command{
	Use:     "bookmark",
	Aliases: []string{"bm"},
	Short:   "Manage bookmarks",
}

var bookmarkAddCmd = &cobra.Command{
	Use:   "add <archive-id> <page-id> [title...]",
	Short: "Bookmark a page",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entry := domain.BookmarkEntry{
			ArchiveID: args[0],
			PageID:    args[1],
			Title:     strings.Join(args[2:], " "),
		}
		if err := a.Bookmarks.AddBookmark(entry); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Bookmarked %s/%s\n", entry.ArchiveID, entry.PageID)
		return nil
	},
}

var bookmarkRmCmd = &cobra.Command{
	Use:     "rm <archive-id> <page-id>",
	Aliases: []string{"remove"},
	Short:   "Remove a bookmark",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, ok := a.Bookmarks.Bookmark(args[0], args[1]); !ok {
			return fmt.Errorf("no bookmark for %s/%s", args[0], args[1])
		}
		a.Bookmarks.RemoveBookmark(args[0], args[1])
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s\n", args[0], args[1])
		return nil
	},
}

var bookmarkLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List bookmarks in creation order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.Bookmarks.ListBookmarks()
		if archiveID, _ := cmd.Flags().GetString("archive"); archiveID != "" {
			entries = a.Bookmarks.BookmarksForArchive(archiveID)
		}

		w := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(w, "No bookmarks")
			return nil
		}

		table := newTable(w, "ARCHIVE", "PAGE", "TITLE", "ADDED")
		rows := make([][]string, 0, len(entries))
		for _, b := range entries {
			archive := b.ArchiveID
			if rec, ok := a.Records.Get(b.ArchiveID); ok && rec.Title != "" {
				archive = rec.Title
			}
			rows = append(rows, []string{archive, b.PageID, b.Title, humanize.Time(b.CreatedAt)})
		}
		if err := table.Bulk(rows); err != nil {
			return err
		}
		return table.Render()
	},
}

func init() {
	rootCmd.AddCommand(bookmarkCmd)
	bookmarkCmd.AddCommand(bookmarkAddCmd, bookmarkRmCmd, bookmarkLsCmd)

	bookmarkLsCmd.Flags().String("archive", "", "only bookmarks of this archive")
}
