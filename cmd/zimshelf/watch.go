package main

import (
	"fmt"
	"sync"

	"github.com/mmcdole/zimshelf/internal/archive"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan whenever library directories change",
	Long: `Scan the library directories, then keep watching them and rescan after
ZIM files are added, removed or renamed. Every change to the library is
printed as it happens. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("debounce", 0, "quiet period before rescanning (default 500ms)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	w := cmd.OutOrStdout()
	var mu sync.Mutex // Serializes output
	token := a.Bus.Subscribe(func(e domain.Event) {
		if e.Entity != domain.EntityArchive {
			return
		}
		title := e.ID
		if rec, ok := a.Records.Get(e.ID); ok && rec.Title != "" {
			title = rec.Title
		}
		mu.Lock()
		defer mu.Unlock()
		if e.Kind == domain.EventUpdated {
			fmt.Fprintf(w, "%s %s %v\n", e.Kind, title, e.Fields)
		} else {
			fmt.Fprintf(w, "%s %s\n", e.Kind, title)
		}
	})
	defer a.Bus.Unsubscribe(token)

	rescan := func() {
		res, err := a.Ingestor.Scan(ctx)
		if err != nil {
			logger.Error("failed to rescan library", "error", err)
			return
		}
		mu.Lock()
		fmt.Fprintf(w, "scanned: %d on disk, %d new, %d missing, %d removed\n", res.Found, res.Added, res.Missing, res.Removed)
		mu.Unlock()
	}
	rescan()

	debounce, _ := cmd.Flags().GetDuration("debounce")
	watcher := archive.NewWatcher(a.Scanner.Dirs(), debounce, rescan, logger)
	return watcher.Run(ctx)
}
