package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// newTable creates a borderless, left-aligned table
func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap: tw.WrapNone,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{
					ShowHeader: tw.Off,
				},
			},
		}),
	)
	table.Header(headers)
	return table
}

// useColors reports whether w should get colored output
func useColors(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && f == os.Stdout && !color.NoColor
}

var (
	localColor   = color.New(color.FgGreen)
	cloudColor   = color.New(color.FgBlue)
	missingColor = color.New(color.FgRed)
)

// stateLabel renders an on-device state, colored when colors is set
func stateLabel(s domain.OnDeviceState, colors bool) string {
	label := string(s)
	if !colors {
		return label
	}
	switch s {
	case domain.StateLocal:
		return localColor.Sprint(label)
	case domain.StateMissing:
		return missingColor.Sprint(label)
	default:
		return cloudColor.Sprint(label)
	}
}

// archiveRow formats one record for table output
func archiveRow(rec domain.ArchiveRecord, colors bool) []string {
	size := ""
	if rec.SizeBytes > 0 {
		size = humanize.Bytes(rec.SizeBytes)
	}
	date := ""
	if !rec.CreationDate.IsZero() {
		date = rec.CreationDate.Format("2006-01-02")
	}
	favicon := ""
	if rec.HasFavicon() {
		favicon = "yes"
	}
	return []string{
		stateLabel(rec.OnDeviceState, colors),
		rec.Title,
		rec.LanguageCode,
		size,
		date,
		rec.ArticleCountDescription(),
		favicon,
		rec.ID,
	}
}

// archiveJSON is the --json shape of a record
type archiveJSON struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Language     string  `json:"language"`
	SizeBytes    uint64  `json:"sizeBytes"`
	CreationDate string  `json:"creationDate,omitempty"`
	ArticleCount *uint64 `json:"articleCount,omitempty"`
	State        string  `json:"state"`
	FilePath     string  `json:"filePath,omitempty"`
	HasFavicon   bool    `json:"hasFavicon"`
}

func writeArchivesJSON(w io.Writer, recs []domain.ArchiveRecord) error {
	out := make([]archiveJSON, 0, len(recs))
	for _, rec := range recs {
		a := archiveJSON{
			ID:           rec.ID,
			Title:        rec.Title,
			Language:     rec.LanguageCode,
			SizeBytes:    rec.SizeBytes,
			ArticleCount: rec.ArticleCount,
			State:        string(rec.OnDeviceState),
			FilePath:     rec.FilePath,
			HasFavicon:   rec.HasFavicon(),
		}
		if !rec.CreationDate.IsZero() {
			a.CreationDate = rec.CreationDate.Format("2006-01-02")
		}
		out = append(out, a)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
