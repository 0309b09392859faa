package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/pgxdash/internal/models"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	geneStyle    = lipgloss.NewStyle().Bold(true).Width(10)
)

// TextRenderer prints one line per event, for non-interactive terminals.
type TextRenderer struct {
	w     io.Writer
	plain bool
}

// NewTextRenderer writes to w. plain disables colors.
func NewTextRenderer(w io.Writer, plain bool) *TextRenderer {
	return &TextRenderer{w: w, plain: plain}
}

// Render implements RenderFunc.
func (r *TextRenderer) Render(snap Snapshot, evs []models.ProgressEvent) {
	for _, ev := range evs {
		fmt.Fprintln(r.w, r.line(snap, ev))
	}
}

func (r *TextRenderer) line(snap Snapshot, ev models.ProgressEvent) string {
	gene := ev.Gene
	if gene == "" {
		gene = "run"
	}
	counter := fmt.Sprintf("[%d/%d]", snap.Completed, snap.Total)
	stage := fmt.Sprintf("%-11s", ev.Stage)
	msg := ev.Message

	if r.plain {
		return strings.Join([]string{ev.Timestamp.Format("15:04:05"), counter, fmt.Sprintf("%-10s", gene), stage, msg}, " ")
	}

	style := infoStyle
	switch ev.Level {
	case models.LevelWarning:
		style = warnStyle
	case models.LevelError:
		style = errorStyle
	case models.LevelSuccess:
		style = successStyle
	}
	return strings.Join([]string{
		infoStyle.Render(ev.Timestamp.Format("15:04:05")),
		counter,
		geneStyle.Render(gene),
		style.Render(stage),
		msg,
	}, " ")
}
