package live

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"prodbench/internal/runner"
	"prodbench/internal/tui/components"
	"prodbench/internal/tui/styles"
)

// Model renders runner snapshots: totals, one card per scenario, RPS and
// p95 sparklines and the status breakdown.
type Model struct {
	Stats    runner.StatsSnapshot
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	LastUpdate time.Time
	LastReqs   uint64

	Width  int
	Height int
}

func NewModel() Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "RPS", "req/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P95", "ms", styles.Warn),
		LastUpdate:  time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.StatsSnapshot:
		now := time.Now()
		dt := now.Sub(m.LastUpdate).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}

		rps := float64(msg.Requests-m.LastReqs) / dt
		m.RpsLine.Add(rps)
		m.LatencyLine.Add(msg.P95Ms)

		m.Stats = msg
		m.LastReqs = msg.Requests
		m.LastUpdate = now

		pct := 1.0
		if msg.Total > 0 {
			pct = min(float64(msg.Elapsed)/float64(msg.Total), 1.0)
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := max((msg.Width/2)-6, 10)
		m.RpsLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	errRate := 0.0
	if st.Requests > 0 {
		errRate = float64(st.Fail) / float64(st.Requests) * 100
	}

	col1 := fmt.Sprintf("REQ: %d\nINF: %d", st.Requests, st.Inflight)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, st.Fail)

	lagStyle := styles.Active
	if st.AvgQueueWaitMs > 2.0 {
		lagStyle = styles.Warn
	}
	if st.AvgQueueWaitMs > 10.0 {
		lagStyle = styles.Error
	}
	col3 := fmt.Sprintf("LAG: %s\nRECV: %d KB",
		lagStyle.Render(fmt.Sprintf("%.2f ms", st.AvgQueueWaitMs)),
		st.Bytes/1024,
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(styles.Rate(errRate).Render(col2)),
		styles.Box.Render(col3),
	))
	s.WriteString("\n")

	if cards := m.scenarioCards(); cards != "" {
		s.WriteString(cards)
		s.WriteString("\n")
	}

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P90: %.2f ms  |  P95: %.2f ms  |  P99: %.2f ms  |  Max: %d ms",
		st.P50Ms, st.P90Ms, st.P95Ms, st.P99Ms, st.MaxMs,
	)
	s.WriteString(styles.Box.Width(max(m.Width-4, 20)).Render(latencies))
	s.WriteString("\n")

	if codes := statusLine(st.StatusCodes); codes != "" {
		s.WriteString(styles.Subtle.Render("  status  " + codes))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.Progress.View())
	s.WriteString("  ")
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s / %s",
		st.Elapsed.Round(time.Second), st.Total)))

	return s.String()
}

func (m Model) scenarioCards() string {
	cards := make([]string, 0, len(m.Stats.Scenarios))
	for _, sc := range m.Stats.Scenarios {
		body := fmt.Sprintf("%s\nreqs %d  fail %d\nvus %d  p95 %.1f ms",
			styles.Active.Render(sc.Name), sc.Requests, sc.Fail, sc.ActiveVUs, sc.P95Ms)
		if sc.HasChecks {
			body += fmt.Sprintf("\nchecks %.1f%%", sc.CheckRate*100)
		}
		style := styles.Card
		if sc.Fail > 0 {
			style = styles.CardFailing
		}
		cards = append(cards, style.Render(body))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func statusLine(codes map[int]int) string {
	keys := make([]int, 0, len(codes))
	for c := range codes {
		keys = append(keys, c)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, c := range keys {
		label := fmt.Sprintf("%d", c)
		if c == 0 {
			label = "error"
		}
		parts = append(parts, fmt.Sprintf("%s=%d", label, codes[c]))
	}
	return strings.Join(parts, "  ")
}
