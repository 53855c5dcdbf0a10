package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PageRow is the display state of one page.
type PageRow struct {
	Location string
	Label    string
	Percent  float64 // 0..100
	Current  bool
}

// Done reports whether every visual of the page is resolved.
func (r PageRow) Done() bool {
	return r.Percent >= 100
}

// PagesMsg replaces the page rows.
type PagesMsg struct {
	Rows []PageRow
}

// StatusMsg reports the report session status line.
type StatusMsg struct {
	Text string
	Idle bool
}

// DoneMsg signals that the run completed successfully.
type DoneMsg struct{}

// ErrorMsg signals that the run failed with an error.
type ErrorMsg struct {
	Err error
}

// Model is the Bubble Tea model for page warm-up progress.
type Model struct {
	rows       []PageRow
	spinner    spinner.Model
	bar        progress.Model
	keys       keyMap
	help       help.Model
	status     string
	idle       bool
	done       bool
	aborting   bool
	err        error
	width      int
	cancelFunc func()
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithCancelFunc sets the function called on the first abort keypress.
// A second keypress quits immediately.
func WithCancelFunc(fn func()) ModelOption {
	return func(m *Model) { m.cancelFunc = fn }
}

// NewModel creates a Model with the given initial rows.
func NewModel(rows []PageRow, opts ...ModelOption) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	m := Model{
		rows:    rows,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
		keys:    defaultKeyMap(),
		help:    help.New(),
		status:  "connecting",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts the spinner tick.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case PagesMsg:
		m.rows = msg.Rows
		return m, nil

	case StatusMsg:
		m.status = msg.Text
		m.idle = msg.Idle
		return m, nil

	case DoneMsg:
		m.done = true
		m.aborting = false
		return m, tea.Quit

	case ErrorMsg:
		m.done = true
		m.aborting = false
		m.err = msg.Err
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.done {
			return m, nil
		}
		if key.Matches(msg, m.keys.Quit) {
			if m.cancelFunc == nil || m.aborting {
				m.done = true
				return m, tea.Quit
			}
			m.aborting = true
			m.cancelFunc()
			return m, nil
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders one line per page followed by the status line.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("vizcache") + "\n\n")

	labelWidth := 0
	for _, r := range m.rows {
		labelWidth = max(labelWidth, lipgloss.Width(r.Label))
	}

	for _, r := range m.rows {
		label := r.Label + strings.Repeat(" ", labelWidth-lipgloss.Width(r.Label))
		if r.Current {
			label = currentStyle.Render(label)
		}
		fmt.Fprintf(&b, "  %s %s  %s %s\n",
			m.indicator(r), label, m.bar.ViewAs(r.Percent/100), percentStyle.Render(fmt.Sprintf("%3.0f%%", r.Percent)))
	}
	if len(m.rows) == 0 {
		b.WriteString(pendingStyle.Render("  no pages") + "\n")
	}

	b.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		b.WriteString(failedStyle.Render(fmt.Sprintf("  Error: %s", m.err)) + "\n")
	case m.aborting:
		b.WriteString(failedStyle.Render("  Aborting... press q again to force quit") + "\n")
	default:
		b.WriteString(statusStyle.Render("  "+m.status) + "\n")
	}
	if !m.done {
		b.WriteString("\n  " + m.help.View(m.keys) + "\n")
	}

	return b.String()
}

func (m Model) indicator(r PageRow) string {
	switch {
	case r.Done():
		return passedStyle.Render("✓")
	case m.idle:
		return pendingStyle.Render("○")
	default:
		return m.spinner.View()
	}
}
