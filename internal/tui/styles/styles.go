package styles

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	KiwixGreen = lipgloss.Color("#2E8B57")
	SlateDark  = lipgloss.Color("#1F2937")
	SlateLight = lipgloss.Color("#374151")
	DimGray    = lipgloss.Color("#6B7280")
	LightGray  = lipgloss.Color("#9CA3AF")
	White      = lipgloss.Color("#F9FAFB")
	Amber      = lipgloss.Color("#E5A00D")
	Red        = lipgloss.Color("#EF4444")
	Blue       = lipgloss.Color("#3B82F6")
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	AccentStyle = lipgloss.NewStyle().
			Foreground(KiwixGreen)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(White).
			Background(KiwixGreen).
			Bold(true).
			Padding(0, 1)
)

// Raw on-device state characters (unstyled)
const (
	LocalChar   = "●"
	CloudChar   = "○"
	MissingChar = "✗"
	FaviconChar = "◆"
)

// On-device state indicators
var (
	LocalDot   = lipgloss.NewStyle().Foreground(KiwixGreen).Render(LocalChar)
	CloudDot   = lipgloss.NewStyle().Foreground(Blue).Render(CloudChar)
	MissingDot = lipgloss.NewStyle().Foreground(Red).Render(MissingChar)
	FaviconDot = lipgloss.NewStyle().Foreground(Amber).Render(FaviconChar)
)

// List item styles
var (
	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(White).
				Background(SlateLight)

	NormalItemStyle = lipgloss.NewStyle().
			Foreground(LightGray)
)

// Footer styles
var (
	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(KiwixGreen).
			Bold(true)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(DimGray)
)

// SpinnerFrames animates long-running work
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
