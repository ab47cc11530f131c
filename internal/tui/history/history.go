package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"prodbench/internal/storage"
	"prodbench/internal/tui/styles"
)

// Model is a table of stored runs; enter toggles the detail of the selected one.
type Model struct {
	Items []storage.HistoryItem
	Table table.Model

	Detail bool
	Width  int
	Height int
}

func NewModel(items []storage.HistoryItem) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Plan", Width: 14},
		{Title: "Reqs", Width: 10},
		{Title: "RPS", Width: 10},
		{Title: "P95 (ms)", Width: 10},
		{Title: "Result", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorSubtle).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(styles.ColorSelected).
		Bold(false)
	t.SetStyles(s)

	m := Model{Items: items, Table: t}
	m.Table.SetRows(Rows(items))
	return m
}

func Rows(items []storage.HistoryItem) []table.Row {
	rows := make([]table.Row, len(items))
	for i, item := range items {
		result := "PASS"
		if !item.Passed {
			result = fmt.Sprintf("FAIL %d", item.ExitCode)
		}
		rows[i] = table.Row{
			item.Timestamp.Local().Format("2006-01-02 15:04:05"),
			item.Plan,
			fmt.Sprintf("%d", item.Summary.TotalRequests),
			fmt.Sprintf("%.1f", item.Summary.RPS),
			fmt.Sprintf("%.2f", item.Summary.P95LatencyMs),
			result,
		}
	}
	return rows
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if !m.Detail {
				return m, tea.Quit
			}
			m.Detail = false
			return m, nil
		case "enter":
			m.Detail = !m.Detail && len(m.Items) > 0
			return m, nil
		}
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) Selected() (storage.HistoryItem, bool) {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return storage.HistoryItem{}, false
	}
	return m.Items[i], true
}

func (m Model) View() string {
	if len(m.Items) == 0 {
		return styles.Box.Render("No runs recorded yet.") + "\n" + styles.RenderKey("q", "quit")
	}
	if m.Detail {
		if item, ok := m.Selected(); ok {
			return styles.Box.Render(Detail(item)) + "\n" + styles.RenderKey("esc", "back")
		}
	}
	return styles.Box.Render(m.Table.View()) + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Center,
			styles.RenderKey("enter", "details"), "  ",
			styles.RenderKey("q", "quit"))
}

// Detail renders one run: totals, per-scenario rows and thresholds.
func Detail(item storage.HistoryItem) string {
	s := strings.Builder{}
	fmt.Fprintf(&s, "%s  %s\n", styles.Active.Render(item.Plan), styles.Subtle.Render(item.ID))
	fmt.Fprintf(&s, "Started  : %s\n", item.Timestamp.Local().Format(time.RFC1123))
	fmt.Fprintf(&s, "Base URL : %s\n", item.BaseURL)
	fmt.Fprintf(&s, "Duration : %s\n", item.Duration.Round(time.Millisecond))
	fmt.Fprintf(&s, "Exit code: %d\n\n", item.ExitCode)

	fmt.Fprintf(&s, "%-22s %8s %8s %9s %9s\n", "scenario", "reqs", "fail", "avg ms", "p95 ms")
	names := make([]string, 0, len(item.Scenarios))
	for n := range item.Scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		sc := item.Scenarios[n]
		fmt.Fprintf(&s, "%-22s %8d %8d %9.2f %9.2f\n", n, sc.TotalRequests, sc.Fail, sc.AvgLatencyMs, sc.P95LatencyMs)
	}

	if len(item.Thresholds) > 0 {
		s.WriteString("\n")
		for _, th := range item.Thresholds {
			mark := styles.Success.Render("✓")
			if !th.Passed {
				mark = styles.Error.Render("✗")
			}
			fmt.Fprintf(&s, "%s %s (%.2f)\n", mark, th.Threshold, th.Observed)
		}
	}
	return strings.TrimRight(s.String(), "\n")
}

// Browse runs the browser until the user quits.
func Browse(items []storage.HistoryItem) error {
	_, err := tea.NewProgram(NewModel(items)).Run()
	return err
}
