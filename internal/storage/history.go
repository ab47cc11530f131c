package storage

import (
	"time"

	"github.com/google/uuid"
)

// HistoryItem is one finished run as kept in the history database.
type HistoryItem struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Plan      string        `json:"plan"`
	BaseURL   string        `json:"base_url"`
	Duration  time.Duration `json:"duration"`
	Passed    bool          `json:"passed"`
	ExitCode  int           `json:"exit_code"`

	Summary    RunSummary            `json:"summary"`
	Scenarios  map[string]RunSummary `json:"scenarios"`
	Thresholds []ThresholdOutcome    `json:"thresholds,omitempty"`
}

type RunSummary struct {
	TotalRequests uint64  `json:"total_requests"`
	Success       uint64  `json:"success"`
	Fail          uint64  `json:"fail"`
	RPS           float64 `json:"rps"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	CheckRate     float64 `json:"check_rate"`
}

type ThresholdOutcome struct {
	Threshold string  `json:"threshold"`
	Observed  float64 `json:"observed"`
	Passed    bool    `json:"passed"`
}

// NewID returns a time-ordered run ID, so bbolt keys sort by start time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
