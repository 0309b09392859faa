package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/progress"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	geneLabelStyle = lipgloss.NewStyle().Bold(true).Width(10)
	successStyle   = lipgloss.NewStyle().Foreground(successColor)
	warningStyle   = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
)

func levelStyle(l models.Level) lipgloss.Style {
	switch l {
	case models.LevelSuccess:
		return successStyle
	case models.LevelWarning:
		return warningStyle
	case models.LevelError:
		return errorStyle
	}
	return mutedStyle
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("PGx Multi-Gene Analysis")
	if a.snap.RunID != "" {
		header += "  " + mutedStyle.Render(a.snap.RunID)
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	b.WriteString(a.renderOverall() + "\n\n")
	if a.done && a.report != nil {
		b.WriteString(panelStyle.Render(renderReport(a.report)) + "\n")
	} else {
		b.WriteString(renderGenes(a.snap) + "\n")
	}
	b.WriteString(a.viewport.View() + "\n")

	if a.message != "" {
		style := successStyle
		if strings.HasPrefix(a.message, "Error") {
			style = errorStyle
		} else if a.cancelling || strings.HasPrefix(a.message, "Run in progress") {
			style = warningStyle
		}
		b.WriteString(style.Render(a.message))
	}
	b.WriteString("\n")

	status := " c:cancel | ↑↓:scroll log | ctrl+c:abort"
	if a.done {
		status = " q:quit | ↑↓:scroll log"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))
	return b.String()
}

func (a *App) renderOverall() string {
	icon := a.spinner.View()
	if a.done {
		icon = successStyle.Render("✓")
		if a.err != nil || (a.report != nil && a.report.OverallStatus == models.OverallAllFailed) {
			icon = errorStyle.Render("✗")
		}
	}
	elapsed := time.Duration(0)
	if !a.started.IsZero() {
		elapsed = a.now().Sub(a.started).Truncate(time.Second)
	}
	counts := fmt.Sprintf("%d/%d genes", a.snap.Completed, a.snap.Total)
	if a.snap.Failed > 0 {
		counts += errorStyle.Render(fmt.Sprintf(" (%d failed)", a.snap.Failed))
	}
	return fmt.Sprintf("%s %s  %s  %s", icon, a.bar.ViewAs(a.snap.Fraction()), counts, mutedStyle.Render(elapsed.String()))
}

func renderGenes(snap progress.Snapshot) string {
	if len(snap.Genes) == 0 {
		return mutedStyle.Render("  Waiting for the run to start...")
	}
	var lines []string
	for _, g := range snap.Genes {
		icon := mutedStyle.Render("○")
		switch {
		case g.Done && g.Stage == models.StageSucceeded:
			icon = successStyle.Render("●")
		case g.Done:
			icon = errorStyle.Render("●")
		case g.Stage != "pending":
			icon = warningStyle.Render("◐")
		}
		warn := ""
		if g.Warnings > 0 {
			warn = warningStyle.Render(fmt.Sprintf(" ⚠%d", g.Warnings))
		}
		lines = append(lines, fmt.Sprintf("  %s %s %-11s %3.0f%%%s  %s",
			icon, geneLabelStyle.Render(g.Gene), g.Stage, g.Progress*100, warn, mutedStyle.Render(truncate(g.Message, 60))))
	}
	return strings.Join(lines, "\n")
}

func renderReport(rep *models.MultiGeneReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %d succeeded, %d failed\n\n",
		levelStyle(statusLevel(rep)).Render(strings.ToUpper(string(rep.OverallStatus))),
		rep.Summary.Succeeded, rep.Summary.Failed)
	fmt.Fprintf(&b, "%-10s %-10s %8s %6s %12s  %s\n", "GENE", "STATE", "VARIANTS", "DRUGS", "INTERACTIONS", "NOTES")
	for _, o := range rep.Outcomes {
		if o.Result != nil {
			notes := ""
			if len(o.Result.Warnings) > 0 {
				notes = fmt.Sprintf("%d warnings", len(o.Result.Warnings))
			}
			fmt.Fprintf(&b, "%-10s %-10s %8d %6d %12d  %s\n", o.Gene, successStyle.Render(fmt.Sprintf("%-10s", o.State)),
				len(o.Result.Variants), len(o.Result.Drugs), len(o.Result.Interactions), notes)
			continue
		}
		kind := ""
		if o.Failure != nil {
			kind = string(o.Failure.Kind)
		}
		fmt.Fprintf(&b, "%-10s %-10s %8s %6s %12s  %s\n", o.Gene, errorStyle.Render(fmt.Sprintf("%-10s", o.State)), "-", "-", "-", kind)
	}
	if len(rep.Summary.Drugs) > 0 {
		fmt.Fprintf(&b, "\nDrugs: %s\n", truncate(strings.Join(rep.Summary.Drugs, ", "), 200))
	}
	if rep.Summary.Interactions > 0 {
		b.WriteString(renderAlerts(rep))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderAlerts(rep *models.MultiGeneReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nAlerts: %s, %s\n",
		errorStyle.Render(fmt.Sprintf("%d actionable", rep.Summary.ActionableAlerts)),
		warningStyle.Render(fmt.Sprintf("%d informative", rep.Summary.InformativeAlerts)))
	for _, o := range rep.Outcomes {
		if o.Result == nil {
			continue
		}
		for _, in := range o.Result.Interactions {
			if in.Alert != models.AlertActionable {
				continue
			}
			fmt.Fprintf(&b, "  %s %s / %s %s\n", errorStyle.Render("!"), in.Medication, geneLabelStyle.Render(in.Gene),
				mutedStyle.Render(in.LevelOfEvidence))
		}
	}
	return b.String()
}

func statusLevel(rep *models.MultiGeneReport) models.Level {
	switch {
	case rep.OverallStatus == models.OverallAllFailed:
		return models.LevelError
	case rep.Cancelled || rep.OverallStatus == models.OverallPartialFailure:
		return models.LevelWarning
	}
	return models.LevelSuccess
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
