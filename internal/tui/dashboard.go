// Package tui renders the live run dashboard: progress snapshots while the
// test runs, then the final summary.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmeter/rmeter/internal/engine"
	"github.com/rmeter/rmeter/internal/results"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(18)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// eventMsg wraps an engine event for the bubbletea update loop.
type eventMsg engine.Event

// closedMsg signals that the event stream ended.
type closedMsg struct{}

// Model is the dashboard state.
type Model struct {
	planName string
	events   <-chan engine.Event

	spin     spinner.Model
	status   engine.Status
	progress *results.Progress
	summary  *results.Summary
	done     bool

	// onStop is invoked when the user requests a stop (q / ctrl+c while
	// running); a second request forces the stop.
	onStop      func(force bool)
	stopPressed bool
}

// NewModel creates a dashboard bound to an engine event subscription.
func NewModel(planName string, events <-chan engine.Event, onStop func(force bool)) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		planName: planName,
		events:   events,
		spin:     sp,
		status:   engine.StatusRunning,
		onStop:   onStop,
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update handles key presses and engine events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if m.onStop != nil {
				m.onStop(m.stopPressed)
				m.stopPressed = true
			}
			return m, nil
		case "enter":
			if m.done {
				return m, tea.Quit
			}
		}
	case eventMsg:
		switch msg.Type {
		case engine.EventStatus:
			m.status = msg.Status
		case engine.EventProgress:
			m.progress = msg.Progress
		case engine.EventComplete:
			m.summary = msg.Summary
			m.done = true
		}
		return m, m.waitForEvent()
	case closedMsg:
		m.done = true
		if m.summary != nil {
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("rmeter — "+m.planName) + "\n\n")

	if m.done && m.summary != nil {
		b.WriteString(renderSummary(m.summary))
		b.WriteString("\n" + hintStyle.Render("press q or enter to exit") + "\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("%s %s\n\n", m.spin.View(), statusStyle.Render(string(m.status))))

	p := m.progress
	if p == nil {
		b.WriteString(hintStyle.Render("waiting for the first snapshot…") + "\n")
		return b.String()
	}

	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	line("Completed", fmt.Sprintf("%d", p.CompletedRequests))
	if p.TotalErrors > 0 {
		b.WriteString(labelStyle.Render("Errors") + failStyle.Render(fmt.Sprintf("%d", p.TotalErrors)) + "\n")
	} else {
		b.WriteString(labelStyle.Render("Errors") + okStyle.Render("0") + "\n")
	}
	line("Active VUs", fmt.Sprintf("%d", p.ActiveVUs))
	line("Elapsed", fmt.Sprintf("%.1fs", float64(p.ElapsedMs)/1000))
	line("Current RPS", fmt.Sprintf("%.1f", p.CurrentRPS))
	line("Mean / p95", fmt.Sprintf("%.1f / %.1f ms", p.MeanMs, p.P95Ms))
	line("Min / Max", fmt.Sprintf("%d / %d ms", p.MinMs, p.MaxMs))

	b.WriteString("\n" + hintStyle.Render("q to stop · q again to force stop") + "\n")
	return b.String()
}

func renderSummary(s *results.Summary) string {
	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	line("Total requests", fmt.Sprintf("%d", s.TotalRequests))
	b.WriteString(labelStyle.Render("Successful") + okStyle.Render(fmt.Sprintf("%d", s.SuccessfulRequests)) + "\n")
	failRender := okStyle
	if s.FailedRequests > 0 {
		failRender = failStyle
	}
	b.WriteString(labelStyle.Render("Failed") + failRender.Render(fmt.Sprintf("%d (%.1f%%)", s.FailedRequests, s.ErrorRate()*100)) + "\n")
	line("Throughput", fmt.Sprintf("%.2f req/s", s.RequestsPerSecond))
	line("Mean", fmt.Sprintf("%.2f ms", s.MeanResponseMs))
	line("Min / Max", fmt.Sprintf("%d / %d ms", s.MinResponseMs, s.MaxResponseMs))
	line("P50 / P95 / P99", fmt.Sprintf("%d / %d / %d ms", s.P50ResponseMs, s.P95ResponseMs, s.P99ResponseMs))
	line("Bytes received", fmt.Sprintf("%d", s.TotalBytesReceived))
	line("Duration", s.FinishedAt.Sub(s.StartedAt).Round(10*time.Millisecond).String())
	return summaryStyle.Render(b.String())
}
