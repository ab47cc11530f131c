// Package tui holds the bubbletea views: the live run dashboard and the
// history browser.
package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"prodbench/internal/runner"
	"prodbench/internal/tui/live"
	"prodbench/internal/tui/styles"
)

type doneMsg struct{}

// Dashboard follows a run until its done channel closes.
type Dashboard struct {
	Title string
	Live  live.Model

	updates runner.StatsUpdateChan
	done    <-chan struct{}
	cancel  context.CancelFunc

	Quitting bool
	Finished bool
}

func NewDashboard(title string, updates runner.StatsUpdateChan, done <-chan struct{}, cancel context.CancelFunc) Dashboard {
	return Dashboard{
		Title:   title,
		Live:    live.NewModel(),
		updates: updates,
		done:    done,
		cancel:  cancel,
	}
}

func waitForUpdate(updates runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func (m Dashboard) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), waitForDone(m.done))
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case doneMsg:
		m.Finished = true
		return m, tea.Quit

	case runner.StatsSnapshot:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, tea.Batch(cmd, waitForUpdate(m.updates))
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Dashboard) View() string {
	if m.Quitting {
		return "Stopping run...\n"
	}
	if m.Finished {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("🚀 " + m.Title))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "stop run"))
	return s.String()
}

// RunDashboard blocks until the run finishes or the user stops it.
func RunDashboard(title string, updates runner.StatsUpdateChan, done <-chan struct{}, cancel context.CancelFunc) error {
	_, err := tea.NewProgram(NewDashboard(title, updates, done, cancel), tea.WithAltScreen()).Run()
	return err
}
