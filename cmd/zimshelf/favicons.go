package main

import (
	"fmt"
	"time"

	"github.com/mmcdole/zimshelf/internal/favicon"
	"github.com/spf13/cobra"
)

var faviconsCmd = &cobra.Command{
	Use:   "favicons [archive-id...]",
	Short: "Download missing favicons",
	Long: `Download favicons for the given archives, or for every archive without
one. Archives whose download failed before are skipped unless --retry is set.`,
	RunE: runFavicons,
}

func init() {
	rootCmd.AddCommand(faviconsCmd)

	faviconsCmd.Flags().Bool("retry", false, "retry archives that failed before")
}

func runFavicons(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ids := args
	if len(ids) == 0 {
		for _, rec := range a.Records.All() {
			if !rec.HasFavicon() {
				ids = append(ids, rec.ID)
			}
		}
	}
	if retry, _ := cmd.Flags().GetBool("retry"); retry {
		a.Favicons.Reset(ids...)
	}

	a.Favicons.Ensure(ctx, ids...)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for pending(a.Favicons, ids) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	fetched, failed := 0, 0
	for _, id := range ids {
		if rec, ok := a.Records.Get(id); ok && rec.HasFavicon() {
			fetched++
		} else if a.Favicons.State(id) == favicon.StateFailed {
			failed++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d favicons present, %d failed\n", fetched, failed)
	return nil
}

func pending(c *favicon.Coordinator, ids []string) int {
	n := 0
	for _, id := range ids {
		switch c.State(id) {
		case favicon.StateQueued, favicon.StateInFlight:
			n++
		}
	}
	return n
}
