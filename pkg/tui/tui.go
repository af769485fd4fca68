// Package tui renders calibration progress in the terminal.
//
// Usage:
//
//	relay := tui.NewRelay()
//	p := tea.NewProgram(tui.New("left.mp4", relay, cancel))
//	go func() { ...; relay.Update(pct, phase); ...; relay.Finish(msg, err) }()
//	p.Run()
package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressMsg carries the latest progress.
type ProgressMsg struct {
	Percent int
	Phase   string
}

// DoneMsg ends the program.
type DoneMsg struct {
	Message string
	Err     error
}

// Relay hands progress from a worker goroutine to the program. Updates
// coalesce: the program only sees the most recent one. It never blocks the
// caller.
type Relay struct {
	mu     sync.Mutex
	latest ProgressMsg
	signal chan struct{}
	done   chan DoneMsg
	once   sync.Once
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{
		signal: make(chan struct{}, 1),
		done:   make(chan DoneMsg, 1),
	}
}

// Update stores new progress.
func (r *Relay) Update(percent int, phase string) {
	r.mu.Lock()
	r.latest = ProgressMsg{Percent: percent, Phase: phase}
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Finish delivers the terminal message. Later calls are ignored.
func (r *Relay) Finish(message string, err error) {
	r.once.Do(func() {
		r.done <- DoneMsg{Message: message, Err: err}
	})
}

// wait blocks for the next message. Pending progress is delivered before
// the terminal message.
func (r *Relay) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-r.signal:
			return r.take()
		default:
		}
		select {
		case <-r.signal:
			return r.take()
		case d := <-r.done:
			return d
		}
	}
}

func (r *Relay) take() ProgressMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	phaseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	quitKeys = key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit"))
)

const maxBarWidth = 60

// Model is the bubbletea model for one calibration.
type Model struct {
	title  string
	relay  *Relay
	cancel func()

	bar  progress.Model
	spin spinner.Model

	percent int
	phase   string

	done     bool
	message  string
	err      error
	quitting bool
}

// New creates the model. cancel, if set, is called when the user quits.
func New(title string, relay *Relay, cancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = maxBarWidth

	return Model{
		title:  title,
		relay:  relay,
		cancel: cancel,
		bar:    bar,
		spin:   s,
		phase:  "Starting",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.relay.wait())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-4))
		return m, nil

	case ProgressMsg:
		m.percent = min(100, max(0, msg.Percent))
		m.phase = msg.Phase
		return m, m.relay.wait()

	case DoneMsg:
		m.done = true
		m.message = msg.Message
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(failStyle.Render("✗ " + m.message))
		b.WriteString("\n")
		b.WriteString(phaseStyle.Render(m.err.Error()))
	case m.done:
		b.WriteString(okStyle.Render("✓ " + m.message))
	default:
		fmt.Fprintf(&b, "%s %s\n", m.spin.View(), phaseStyle.Render(m.phase))
		b.WriteString(m.bar.ViewAs(float64(m.percent) / 100))
		if !m.quitting {
			b.WriteString("\n\n")
			b.WriteString(helpStyle.Render(quitKeys.Help().Key + " " + quitKeys.Help().Desc))
		}
	}
	b.WriteString("\n")
	return b.String()
}

// Err returns the run error once done.
func (m Model) Err() error {
	return m.err
}

// Done reports whether the run finished (as opposed to the user quitting).
func (m Model) Done() bool {
	return m.done
}

// Percent returns the last shown percent.
func (m Model) Percent() int {
	return m.percent
}
