package history

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodbench/internal/storage"
)

func items() []storage.HistoryItem {
	return []storage.HistoryItem{
		{
			ID:        "0002",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Plan:      "benchmarks",
			Passed:    false,
			ExitCode:  99,
			Summary:   storage.RunSummary{TotalRequests: 1000, RPS: 100, P95LatencyMs: 250.5},
			Scenarios: map[string]storage.RunSummary{
				"non_cached_products": {TotalRequests: 500, P95LatencyMs: 480},
				"cached_products":     {TotalRequests: 500, P95LatencyMs: 20},
			},
			Thresholds: []storage.ThresholdOutcome{
				{Threshold: "http_req_duration{scenario:cached_products}: p(95)<200", Observed: 20, Passed: true},
			},
		},
		{ID: "0001", Plan: "cached", Passed: true, Summary: storage.RunSummary{TotalRequests: 10}},
	}
}

func TestRows(t *testing.T) {
	rows := Rows(items())
	require.Len(t, rows, 2)
	assert.Equal(t, "benchmarks", rows[0][1])
	assert.Equal(t, "1000", rows[0][2])
	assert.Equal(t, "250.50", rows[0][4])
	assert.Equal(t, "FAIL 99", rows[0][5])
	assert.Equal(t, "PASS", rows[1][5])
}

func TestDetail(t *testing.T) {
	out := Detail(items()[0])
	assert.Contains(t, out, "benchmarks")
	assert.Contains(t, out, "Exit code: 99")
	assert.Contains(t, out, "p(95)<200")
	assert.Less(t, strings.Index(out, "cached_products"), strings.Index(out, "non_cached_products"))
}

func TestEnterTogglesDetail(t *testing.T) {
	var m tea.Model = NewModel(items())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, m.(Model).Detail)
	assert.Contains(t, m.View(), "Exit code: 99")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.False(t, m.(Model).Detail)
}

func TestEmptyHistory(t *testing.T) {
	m := NewModel(nil)
	assert.Contains(t, m.View(), "No runs recorded yet.")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}
