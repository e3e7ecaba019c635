package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertwitch/mirrord/internal/engine"
	"github.com/dustin/go-humanize"
)

const maxLogLines = 100

//nolint:gochecknoglobals
var (
	// titleStyle defines the style for a panel's title.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	// borderStyle defines the style for a panel's borders.
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))

	// infoStyle defines the style for a panel's text.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	// helpStyle defines the style for the help panel's text.
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1)
)

// ProgressMsg is a [tea.Msg] containing [engine.Progress] information.
type ProgressMsg struct {
	t    time.Time
	data engine.Progress
}

// TeaModel is the principal [tea.Model] for the command-line user interface.
type TeaModel struct {
	width  int
	height int

	cancel context.CancelFunc

	uiHandler *Handler

	fullWidthWithBorders  int
	splitWidthWithBorders int

	data engine.Progress

	passProgress progress.Model
	logsViewport viewport.Model
	logs         []string

	ready bool
}

// NewTeaModel returns an initial new [TeaModel].
//
//nolint:mnd
func NewTeaModel(uiHandler *Handler, cancel context.CancelFunc) TeaModel {
	return TeaModel{
		uiHandler: uiHandler,
		passProgress: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(80),
		),
		logsViewport: viewport.New(80, 20),
		logs:         make([]string, 0, maxLogLines),
		cancel:       cancel,
	}
}

// Init initializes the model within a [tea.Program].
func (m TeaModel) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		updateProgress(m.uiHandler.progressProvider),
	)
}

// updateProgress produces a [tea.Cmd] returning a [ProgressMsg] when
// executed, which is about every 100 milliseconds.
func updateProgress(p progressProvider) tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { //nolint:mnd
		return ProgressMsg{
			t:    t,
			data: p.Progress(),
		}
	})
}

// Update is the principal message handling method of the model.
// It sets the internal state of the model, for later rendering.
//
//nolint:mnd,ireturn
func (m TeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()

			return m, tea.Quit
		case "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		m.fullWidthWithBorders = m.width - 2
		m.splitWidthWithBorders = (m.width / 2) - 2

		m.passProgress.Width = m.splitWidthWithBorders

		// Upper panels take about 40% of the height.
		upperHeight := m.height * 2 / 5
		lowerHeight := m.height - upperHeight

		m.logsViewport.Width = m.fullWidthWithBorders
		m.logsViewport.Height = lowerHeight - 3

		m.refreshLogs()

		if !m.ready {
			m.ready = true
			m.uiHandler.Ready.Store(true)
		}

	case ProgressMsg:
		m.data = msg.data

		cmds = append(cmds,
			m.passProgress.SetPercent(m.data.ProgressPct/100),
			updateProgress(m.uiHandler.progressProvider),
		)

	case LogMsg:
		if len(m.logs) >= maxLogLines {
			m.logs = m.logs[1:]
		}
		m.logs = append(m.logs, string(msg))

		m.refreshLogs()

	case progress.FrameMsg:
		updated, cmd := m.passProgress.Update(msg)
		if progressModel, ok := updated.(progress.Model); ok {
			m.passProgress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	m.logsViewport, cmd = m.logsViewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *TeaModel) refreshLogs() {
	if len(m.logs) == 0 {
		return
	}

	logs := lipgloss.NewStyle().
		Width(m.logsViewport.Width).
		Render(strings.TrimSuffix(strings.Join(m.logs, ""), "\n"))

	m.logsViewport.SetContent(logs)
	m.logsViewport.GotoBottom()
}

// View is the principal rendering function of the model.
func (m TeaModel) View() string {
	if !m.ready {
		return "Loading the GUI..."
	}

	var s strings.Builder

	progressSection := lipgloss.JoinHorizontal(
		lipgloss.Top,
		borderStyle.Width(m.splitWidthWithBorders).Render(m.formatPassView()),
		borderStyle.Width(m.splitWidthWithBorders).Render(m.formatReportView()),
	)

	logsSection := borderStyle.
		Width(m.fullWidthWithBorders).
		Render(
			lipgloss.JoinVertical(
				lipgloss.Left,
				titleStyle.Width(m.fullWidthWithBorders).Render("Process Information"),
				lipgloss.NewStyle().Width(m.fullWidthWithBorders).Render(m.logsViewport.View()),
			),
		)

	helpSection := helpStyle.
		Width(m.fullWidthWithBorders).
		Render("q: quit gui • ctrl+c: quit program")

	s.WriteString(lipgloss.JoinVertical(
		lipgloss.Left,
		progressSection,
		logsSection,
		helpSection,
	))

	return s.String()
}

// formatPassView renders the panel of the current pass.
func (m TeaModel) formatPassView() string {
	p := m.data

	var details string

	switch {
	case !p.HasStarted:
		details = "Waiting for the first pass...\n"

	case !p.HasFinished:
		var timeLeftMin float64
		if !p.ETA.IsZero() {
			timeLeftMin = p.TimeLeft.Minutes()
		}

		details = fmt.Sprintf(
			"State: %s (pass #%d)\n"+
				"Progress: %.2f%% (%d/%d)\n"+
				"Items: Success=%d, Failed=%d\n"+
				"Time: Started=%v, ETA=%v (%.1f%s left)\n"+
				"To copy: %s\n",
			p.State,
			p.Passes,
			p.ProgressPct,
			p.ProcessedItems,
			p.TotalItems,
			p.SuccessItems,
			p.FailedItems,
			p.StartTime.Format("15:04:05"),
			p.ETA.Format("15:04:05"),
			timeLeftMin, "min",
			humanize.IBytes(p.BytesToCopy),
		)

	default:
		details = fmt.Sprintf(
			"State: %s (pass #%d)\n"+
				"Progress: %.2f%% (%d/%d)\n"+
				"Items: Success=%d, Failed=%d\n"+
				"Time: Started=%v, Finished=%v\n",
			p.State,
			p.Passes,
			p.ProgressPct,
			p.ProcessedItems,
			p.TotalItems,
			p.SuccessItems,
			p.FailedItems,
			p.StartTime.Format("15:04:05"),
			p.FinishTime.Format("15:04:05"),
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Width(m.splitWidthWithBorders).Render("Pass"),
		"", // Empty line for spacing.
		m.passProgress.View(),
		"", // Empty line for spacing.
		infoStyle.Width(m.splitWidthWithBorders).Render(details),
	)
}

// formatReportView renders the panel of the last finished pass.
func (m TeaModel) formatReportView() string {
	r := m.data.LastReport

	details := "No pass has finished yet.\n"

	if r != nil {
		details = fmt.Sprintf(
			"Result: %s\n"+
				"Operations: Created=%d, Copied=%d, Deleted=%d\n"+
				"Transferred: %s\n"+
				"Errors: %d (skipped: %d, rollback: %d)\n"+
				"Took: %v\n",
			r.State,
			r.Created,
			r.Copied,
			r.Deleted,
			humanize.IBytes(r.BytesCopied),
			len(r.Errors),
			len(r.Skipped),
			len(r.RollbackErrors),
			r.Duration().Round(time.Millisecond),
		)

		if r.Err != nil {
			details += fmt.Sprintf("Reason: %v\n", r.Err)
		}
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Width(m.splitWidthWithBorders).Render("Last Pass"),
		"", // Empty line for spacing.
		infoStyle.Width(m.splitWidthWithBorders).Render(details),
	)
}
