// Package output renders the live terminal view of in-progress
// acquisitions, adapted from the teacher's utils/output-manager.go:
// same lipgloss styling and ticker-driven redraw, generalized from
// "functions" in a batch download run to "acquisitions" driven by the
// scheduler.
package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))

	basePadding = 2
)

var symbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"bullet":  "•",
	"hline":   "━",
}

func PrintSuccess(text string) { fmt.Println(successStyle.Render(text)) }
func PrintError(text string)   { fmt.Println(errorStyle.Render(text)) }
func PrintWarning(text string) { fmt.Println(warningStyle.Render(text)) }
func PrintInfo(text string)    { fmt.Println(infoStyle.Render(text)) }
func PrintHeader(text string)  { fmt.Println(headerStyle.Render(text)) }

// Table is a thin wrapper around lipgloss/table that owns header styling
// so callers never touch the lipgloss API directly.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers []string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() string {
	tbl := table.New().Headers(t.headers...).StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})
	for _, row := range t.rows {
		tbl = tbl.Row(row...)
	}
	return tbl.String()
}

func (t *Table) Print() {
	fmt.Println(t.Render())
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// progressBar renders a bar plus a percentage, the way the teacher's
// PrintProgressBar does, sized to the terminal so a narrow window
// doesn't wrap a long acquisition line, and generalized to accept
// total == 0 (size unknown) by rendering bytes loaded with no fill.
func progressBar(loaded, total int64, width int) string {
	if width <= 0 {
		width = terminalWidth() - 50
		if width > 30 {
			width = 30
		}
		if width < 10 {
			width = 10
		}
	}
	if total <= 0 {
		return debugStyle.Render(fmt.Sprintf("%s %d bytes %s ", symbols["bullet"], loaded, symbols["bullet"]))
	}
	percent := float64(loaded) / float64(total)
	if percent > 1 {
		percent = 1
	}
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	bar := symbols["bullet"] + strings.Repeat(symbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += symbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, symbols["bullet"]))
}

// formatSpeed renders a bytes/sec rate the way progressBar renders a
// percentage: a debugStyle-rendered human-readable unit, scaled up from
// B/s through KB/s, MB/s, GB/s.
func formatSpeed(bytesPerSec int64) string {
	const unit = 1000
	speed := float64(bytesPerSec)
	if speed < unit {
		return debugStyle.Render(fmt.Sprintf("%.0f B/s", speed))
	}
	units := []string{"KB/s", "MB/s", "GB/s"}
	div, exp := float64(unit), 0
	for n := speed / unit; n >= unit && exp < len(units)-1; n /= unit {
		div *= unit
		exp++
	}
	return debugStyle.Render(fmt.Sprintf("%.1f %s", speed/div, units[exp]))
}

func statusIndicator(status string) string {
	switch status {
	case "completed":
		return successStyle.Render(symbols["pass"])
	case "failed":
		return errorStyle.Render(symbols["fail"])
	case "paused", "cancelled":
		return warningStyle.Render(symbols["warning"])
	case "running":
		return pendingStyle.Render(symbols["pending"])
	default:
		return infoStyle.Render(symbols["bullet"])
	}
}
