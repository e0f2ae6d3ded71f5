package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recentCmd = &cobra.Command{
	Use:   "recent [text]",
	Short: "Show recent searches",
	Long: `Show recent searches, most recent first. With text, show the recent
searches that fuzzy-match it, best match first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecent,
}

func init() {
	rootCmd.AddCommand(recentCmd)

	recentCmd.Flags().Bool("clear", false, "forget all recent searches")
	recentCmd.Flags().String("add", "", "record a search")
}

func runRecent(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	if clearAll, _ := cmd.Flags().GetBool("clear"); clearAll {
		a.Bookmarks.ClearRecentSearches()
		fmt.Fprintln(w, "Recent searches cleared")
		return nil
	}
	if text, _ := cmd.Flags().GetString("add"); text != "" {
		a.Bookmarks.RecordSearch(text)
	}

	searches := a.Bookmarks.RecentSearches()
	if len(args) == 1 {
		searches = a.Bookmarks.MatchRecentSearches(args[0])
	}
	for _, s := range searches {
		fmt.Fprintln(w, s)
	}
	return nil
}
