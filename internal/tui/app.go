// Package tui provides the interactive terminal dashboard for a multi-gene run.
package tui

import (
	"context"
	"fmt"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fentz26/pgxdash/internal/models"
	"github.com/fentz26/pgxdash/internal/progress"
	"github.com/fentz26/pgxdash/internal/service"
)

// maxLogLines bounds the event log kept for the viewport.
const maxLogLines = 500

// Runner executes the analysis, reporting consumer updates to obs.
// *service.Service.Execute bound to a request satisfies it.
type Runner func(ctx context.Context, obs service.Observer) (*models.MultiGeneReport, error)

// App is the dashboard model.
type App struct {
	runner  Runner
	ctx     context.Context
	cancel  context.CancelFunc
	send    func(tea.Msg)
	started time.Time
	now     func() time.Time

	spinner  spinner.Model
	bar      progressbar.Model
	viewport viewport.Model
	width    int
	height   int

	snap       progress.Snapshot
	logLines   []string
	report     *models.MultiGeneReport
	err        error
	cancelling bool
	done       bool
	message    string
}

// New creates the dashboard for one run. Cancelling ctx cancels the run.
func New(ctx context.Context, runner Runner) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	rctx, cancel := context.WithCancel(ctx)
	return &App{
		runner:   runner,
		ctx:      rctx,
		cancel:   cancel,
		now:      time.Now,
		spinner:  sp,
		bar:      progressbar.New(progressbar.WithGradient("#7C3AED", "#10B981")),
		viewport: viewport.New(80, 10),
		width:    80,
		height:   24,
	}
}

// Run starts the TUI and blocks until the user quits. It returns the report
// if the run finished.
func (a *App) Run() (*models.MultiGeneReport, error) {
	p := tea.NewProgram(a, tea.WithAltScreen())
	a.send = p.Send
	_, err := p.Run()
	a.cancel()
	if err != nil {
		return a.report, err
	}
	return a.report, a.err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	a.started = a.now()
	return tea.Batch(a.spinner.Tick, a.startRun(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.cancel()
			return a, tea.Quit

		case "q":
			if a.done {
				return a, tea.Quit
			}
			a.message = "Run in progress. Press c to cancel, ctrl+c to abort."

		case "c", "esc":
			if !a.done && !a.cancelling {
				a.cancelling = true
				a.message = "Cancelling: waiting for running genes to finish..."
				a.cancel()
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.bar.Width = max(10, msg.Width-30)
		a.viewport.Width = msg.Width
		a.viewport.Height = max(3, msg.Height-len(a.snap.Genes)-12)
		a.refreshLog()

	case progressMsg:
		a.snap = msg.update.Snapshot
		for _, ev := range msg.update.Pending {
			a.appendLog(formatEvent(ev))
		}
		a.refreshLog()

	case runDoneMsg:
		a.done = true
		a.report = msg.report
		a.err = msg.err
		switch {
		case msg.err != nil:
			a.message = "Error: " + msg.err.Error()
		case msg.report.Cancelled:
			a.message = "Run cancelled. Press q to quit."
		default:
			a.message = "Analysis complete. Press q to quit."
		}

	case tickMsg:
		if !a.done {
			cmds = append(cmds, a.tickCmd())
		}

	case spinner.TickMsg:
		if !a.done {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

type progressMsg struct {
	update progress.Update
}

type runDoneMsg struct {
	report *models.MultiGeneReport
	err    error
}

type tickMsg time.Time

// startRun runs the analysis on a command goroutine; consumer updates reach
// the model through the program's message queue.
func (a *App) startRun() tea.Cmd {
	return func() tea.Msg {
		rep, err := a.runner(a.ctx, func(up progress.Update) {
			if a.send != nil {
				a.send(progressMsg{update: up})
			}
		})
		return runDoneMsg{report: rep, err: err}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) appendLog(line string) {
	a.logLines = append(a.logLines, line)
	if len(a.logLines) > maxLogLines {
		a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
	}
}

func (a *App) refreshLog() {
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(joinLines(a.logLines))
	if atBottom {
		a.viewport.GotoBottom()
	}
}

func formatEvent(ev models.ProgressEvent) string {
	gene := ev.Gene
	if gene == "" {
		gene = "run"
	}
	return fmt.Sprintf("%s %s %s %s",
		mutedStyle.Render(ev.Timestamp.Format("15:04:05")),
		geneLabelStyle.Render(gene),
		levelStyle(ev.Level).Render(fmt.Sprintf("%-11s", ev.Stage)),
		ev.Message)
}
