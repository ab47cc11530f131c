package runner

import (
	"time"
)

// Result is one iteration as seen by the load generator.
type Result struct {
	TimeStamp    time.Time     `json:"timestamp"`
	Scenario     string        `json:"scenario"`
	VU           int           `json:"vu"`
	Iteration    uint64        `json:"iter"`
	URL          string        `json:"url"`
	Latency      time.Duration `json:"latency"`    // http_req_duration
	Blocked      time.Duration `json:"blocked"`    // waiting for a connection
	QueueWait    time.Duration `json:"queue_wait"` // schedule lag
	Status       int           `json:"status"`
	Success      bool          `json:"success"`
	Bytes        int64         `json:"bytes"`
	Err          string        `json:"error,omitempty"`
	FailedChecks []string      `json:"failed_checks,omitempty"`
	ResponseBody string        `json:"response_body,omitempty"`
}

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	Elapsed  time.Duration
	Total    time.Duration
	Requests uint64
	Success  uint64
	Fail     uint64
	Bytes    uint64
	Inflight int64

	// Pre-calculated percentiles for the UI (cheap copy)
	P50Ms  float64
	P90Ms  float64
	P95Ms  float64
	P99Ms  float64
	MaxMs  int64
	MeanMs float64

	AvgQueueWaitMs float64

	StatusCodes map[int]int
	Scenarios   []ScenarioSnapshot
}

type ScenarioSnapshot struct {
	Name      string
	Requests  uint64
	Fail      uint64
	ActiveVUs int64
	P95Ms     float64
	CheckRate float64
	HasChecks bool
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

// Observer receives every sample as it is recorded. The metrics package
// implements it for Prometheus.
type Observer interface {
	ObserveRequest(scenario string, status int, d time.Duration)
	ObserveCheck(name string, ok bool)
	SetActiveVUs(scenario string, n int64)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}
func (nopObserver) ObserveCheck(string, bool)                 {}
func (nopObserver) SetActiveVUs(string, int64)                {}
