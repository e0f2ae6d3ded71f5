package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/zimshelf/internal/app"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// autoRefreshAge is how old the catalog may get before browse refreshes it
const autoRefreshAge = 24 * time.Hour

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List archives",
	Long: `List archives matching a filter. Without flags the saved browser query is used.

Examples:
  zimshelf list                        # Saved query
  zimshelf list --lang en,fr           # English and French archives
  zimshelf list --search wiki          # Titles containing "wiki" (ignoring case and accents)
  zimshelf list --sort size --desc     # Largest first
  zimshelf list --suggest wikpedia     # Fuzzy title suggestions
  zimshelf list --json                 # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse the library interactively",
	Long: `Open the interactive library browser. The view updates live as the catalog
refreshes, files appear on disk and favicons arrive.

When standard output is not a terminal this behaves like "list".`,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

func init() {
	rootCmd.AddCommand(listCmd, browseCmd)

	listCmd.Flags().StringSlice("lang", nil, "language codes to include")
	listCmd.Flags().String("search", "", "title substring")
	listCmd.Flags().Bool("on-device", false, "only archives stored on this device")
	listCmd.Flags().String("sort", "", "sort key: title, size or date")
	listCmd.Flags().Bool("desc", false, "sort descending")
	listCmd.Flags().Bool("asc", false, "sort ascending")
	listCmd.Flags().String("suggest", "", "fuzzy-match titles instead of listing")
	listCmd.Flags().Int("limit", 0, "maximum number of rows (0 = all)")
	listCmd.Flags().Bool("json", false, "output as JSON")
}

// querySpec merges list flags into the saved query.
func querySpec(cmd *cobra.Command, a *app.App) (domain.QuerySpec, error) {
	spec := a.DefaultQuery()
	flags := cmd.Flags()

	if flags.Changed("lang") {
		spec.Languages, _ = flags.GetStringSlice("lang")
	}
	if flags.Changed("search") {
		spec.TitleSubstring, _ = flags.GetString("search")
	}
	if flags.Changed("on-device") {
		spec.OnDeviceOnly, _ = flags.GetBool("on-device")
	}
	if flags.Changed("sort") {
		raw, _ := flags.GetString("sort")
		key, err := domain.ParseSortKey(raw)
		if err != nil {
			return spec, err
		}
		spec.SortKey = key
		spec.Ascending = cfg.Query.DefaultAscending(key)
	}
	if desc, _ := flags.GetBool("desc"); desc {
		spec.Ascending = false
	}
	if asc, _ := flags.GetBool("asc"); asc {
		spec.Ascending = true
	}
	return spec, nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	spec, err := querySpec(cmd, a)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()

	if text, _ := cmd.Flags().GetString("suggest"); text != "" {
		return outputSuggestions(cmd, a, spec, text, limit)
	}

	recs := a.Queries.Run(spec)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	if jsonOutput {
		return writeArchivesJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No archives match")
		return nil
	}

	colors := useColors(w)
	table := newTable(w, "STATE", "TITLE", "LANG", "SIZE", "DATE", "ARTICLES", "ICON", "ID")
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, archiveRow(rec, colors))
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func outputSuggestions(cmd *cobra.Command, a *app.App, spec domain.QuerySpec, text string, limit int) error {
	// Suggestions search every title; only the non-text filters apply
	spec.TitleSubstring = ""
	candidates := a.Queries.Run(spec)
	if limit <= 0 {
		limit = 10
	}

	w := cmd.OutOrStdout()
	suggestions := a.Queries.Suggest(text, candidates, limit)
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Fprintf(w, "%s\t%s\n", s.Record.Title, s.Record.ID)
	}
	return nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return runList(listCmd, args)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan struct{})
	defer func() {
		cancel()
		<-done
	}()

	// Bring the library up to date in the background; the view follows
	go func() {
		defer close(done)
		if _, err := a.Ingestor.Scan(ctx); err != nil {
			logger.Warn("startup scan failed", "error", err)
		}
		if a.AutoRefreshDue(autoRefreshAge) {
			if _, err := a.Ingestor.Refresh(ctx, nil); err != nil {
				logger.Warn("startup refresh failed", "error", err)
			}
		}
	}()

	model := tui.NewModel(tui.Services{
		Queries:          a.Queries,
		Records:          a.Records,
		Favicons:         a.Favicons,
		Bookmarks:        a.Bookmarks,
		Ingestor:         a.Ingestor,
		Prefs:            a.Prefs,
		Reader:           a.Reader,
		Logger:           logger,
		DefaultAscending: cfg.Query.DefaultAscending,
	}, a.DefaultQuery())

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	logger.Info("starting TUI")
	final, err := p.Run()
	if m, ok := final.(tui.Model); ok {
		m.Close()
	} else {
		model.Close()
	}
	if err != nil {
		logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
