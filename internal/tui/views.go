package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/tui/styles"
)

// Column widths (the title takes what is left)
const (
	langWidth  = 5
	sizeWidth  = 10
	dateWidth  = 12
	iconsWidth = 4
)

// View renders the browser
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderSearch())
	b.WriteString("\n")
	for _, s := range m.Suggestions {
		b.WriteString("  " + styles.DimStyle.Render("↺ "+s) + "\n")
	}
	b.WriteString(m.renderColumns())
	b.WriteString("\n")
	b.WriteString(m.renderRows())
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	dir := "↑"
	if !m.Spec.Ascending {
		dir = "↓"
	}
	sortKey := m.Spec.SortKey
	if sortKey == "" {
		sortKey = domain.SortByTitle
	}

	parts := []string{fmt.Sprintf("%d archives", len(m.Results)), fmt.Sprintf("sort: %s %s", sortKey, dir)}
	if m.Spec.OnDeviceOnly {
		parts = append(parts, "on device")
	}
	if len(m.Spec.Languages) > 0 {
		parts = append(parts, "lang: "+strings.Join(m.Spec.Languages, ","))
	}
	if m.Refreshing {
		progress := ""
		if m.Progress.Total > 0 {
			progress = fmt.Sprintf(" %d/%d", m.Progress.Loaded, m.Progress.Total)
		}
		parts = append(parts, styles.SpinnerFrames[m.SpinnerFrame]+" refreshing"+progress)
	}

	title := styles.HeaderStyle.Render("zimshelf")
	return title + " " + styles.SubtitleStyle.Render(strings.Join(parts, " · "))
}

func (m Model) renderSearch() string {
	if m.State == StateSearching || m.Spec.TitleSubstring != "" {
		return m.Search.View()
	}
	return styles.DimStyle.Render("press / to search")
}

func (m Model) titleWidth() int {
	width := m.Width
	if width <= 0 {
		width = 80
	}
	return max(width-langWidth-sizeWidth-dateWidth-iconsWidth-4, 10)
}

func (m Model) renderColumns() string {
	return styles.DimStyle.Render(fmt.Sprintf("%-*s %-*s %-*s %*s %*s",
		iconsWidth, "",
		m.titleWidth(), "Title",
		langWidth, "Lang",
		sizeWidth, "Size",
		dateWidth, "Date",
	))
}

func (m Model) renderRows() string {
	if !m.Loaded {
		return styles.DimStyle.Render("Loading...") + "\n"
	}
	if len(m.Results) == 0 {
		return styles.DimStyle.Render("No archives match") + "\n"
	}

	var b strings.Builder
	for i, rec := range m.visible() {
		line := m.renderRow(rec)
		if m.Offset+i == m.Cursor {
			line = styles.SelectedItemStyle.Render(line)
		} else {
			line = styles.NormalItemStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) renderRow(rec domain.ArchiveRecord) string {
	icons := stateDot(rec.OnDeviceState) + " "
	if rec.HasFavicon() {
		icons += styles.FaviconDot
	} else {
		icons += " "
	}

	size := ""
	if rec.SizeBytes > 0 {
		size = humanize.Bytes(rec.SizeBytes)
	}
	date := ""
	if !rec.CreationDate.IsZero() {
		date = rec.CreationDate.Format("2006-01-02")
	}

	title := truncate(rec.Title, m.titleWidth())
	return fmt.Sprintf("%s  %s %-*s %*s %*s",
		icons,
		padRight(title, m.titleWidth()),
		langWidth, rec.LanguageCode,
		sizeWidth, size,
		dateWidth, date,
	)
}

func stateDot(s domain.OnDeviceState) string {
	switch s {
	case domain.StateLocal:
		return styles.LocalDot
	case domain.StateMissing:
		return styles.MissingDot
	default:
		return styles.CloudDot
	}
}

func (m Model) renderFooter() string {
	if m.StatusMsg != "" {
		if m.StatusIsErr {
			return styles.ErrorStyle.Render(m.StatusMsg)
		}
		return styles.AccentStyle.Render(m.StatusMsg)
	}

	if rec, ok := m.Selected(); ok && m.State == StateBrowsing {
		var detail []string
		if c := rec.ArticleCountDescription(); c != "" {
			detail = append(detail, c)
		}
		if rec.FilePath != "" {
			detail = append(detail, rec.FilePath)
		}
		line := styles.TitleStyle.Render(rec.Title)
		if len(detail) > 0 {
			line += styles.DimStyle.Render(" · " + strings.Join(detail, " · "))
		}
		return line + "\n" + renderHelp(footerBindings())
	}
	return renderHelp(footerBindings())
}

func renderHelp(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, styles.HelpKeyStyle.Render(h.Key)+" "+styles.HelpDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

// truncate shortens s to width cells, adding an ellipsis
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// padRight pads s with spaces to width cells
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
