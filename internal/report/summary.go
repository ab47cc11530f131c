// Package report turns a finished run into the end-of-test summary and the
// files written by --out.
package report

import (
	"sort"
	"sync/atomic"
	"time"

	"prodbench/internal/stats"
	"prodbench/internal/storage"
	"prodbench/internal/threshold"
)

type Summary struct {
	Plan        string
	BaseURL     string
	Elapsed     time.Duration
	Interrupted bool
	// AbortedBy is set when an abort-on-fail threshold stopped the run.
	AbortedBy string
	// StrictChecks makes any failed check fail the run.
	StrictChecks bool

	Total      ScenarioSummary
	Scenarios  []ScenarioSummary
	Checks     []CheckSummary
	Thresholds []threshold.Result
}

type ScenarioSummary struct {
	Name        string
	Requests    uint64
	Fail        uint64
	Interrupted uint64
	Dropped     uint64
	FailedIters uint64
	Bytes       uint64
	RPS         float64
	FailedRate  float64
	CheckRate   float64
	HasChecks   bool

	Duration  stats.Trend
	Blocked   stats.Trend
	Iteration stats.Trend

	StatusCodes map[int]int
	Errors      map[string]int
}

type CheckSummary struct {
	Name   string
	Passes uint64
	Fails  uint64
}

func (c CheckSummary) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// Build snapshots the registry. Results are the final threshold evaluation.
func Build(plan, baseURL string, reg *stats.Registry, elapsed time.Duration, results []threshold.Result) Summary {
	s := Summary{
		Plan:       plan,
		BaseURL:    baseURL,
		Elapsed:    elapsed,
		Total:      summarize("", reg.Total, elapsed),
		Thresholds: results,
	}
	for _, name := range reg.Names() {
		st, _ := reg.Lookup(name)
		s.Scenarios = append(s.Scenarios, summarize(name, st, elapsed))
	}

	checks := reg.Total.Checks()
	for _, name := range reg.Total.CheckNames() {
		t := checks[name]
		s.Checks = append(s.Checks, CheckSummary{Name: name, Passes: t.Passes, Fails: t.Fails})
	}
	return s
}

func summarize(name string, st *stats.Stats, elapsed time.Duration) ScenarioSummary {
	out := ScenarioSummary{
		Name:        name,
		Requests:    st.RequestCount(),
		Fail:        st.FailCount(),
		Interrupted: atomic.LoadUint64(&st.Interrupted),
		Dropped:     atomic.LoadUint64(&st.Dropped),
		FailedIters: atomic.LoadUint64(&st.FailedIterations),
		Bytes:       atomic.LoadUint64(&st.Bytes),
		FailedRate:  st.FailedRate(),
		Duration:    st.Duration.Trend(),
		Blocked:     st.Blocked.Trend(),
		Iteration:   st.Iteration.Trend(),
		StatusCodes: st.GetStatusCodes(),
		Errors:      st.GetErrorCounts(),
	}
	out.CheckRate, out.HasChecks = st.CheckRate()
	if elapsed > 0 {
		out.RPS = float64(out.Requests) / elapsed.Seconds()
	}
	return out
}

// ThresholdsPassed is false when any threshold failed or one aborted the run.
func (s Summary) ThresholdsPassed() bool {
	return s.AbortedBy == "" && !threshold.Breached(s.Thresholds)
}

func (s Summary) ChecksFailed() bool {
	for _, c := range s.Checks {
		if c.Fails > 0 {
			return true
		}
	}
	return false
}

// Passed is the verdict behind exit code 0 for a run that was not interrupted.
func (s Summary) Passed() bool {
	return s.ThresholdsPassed() && !(s.StrictChecks && s.ChecksFailed())
}

// SortedStatusCodes returns the codes in ascending order.
func (s ScenarioSummary) SortedStatusCodes() []int {
	codes := make([]int, 0, len(s.StatusCodes))
	for c := range s.StatusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// HistoryItem is the record kept in the history database.
func (s Summary) HistoryItem(started time.Time, exitCode int) *storage.HistoryItem {
	item := &storage.HistoryItem{
		Timestamp: started,
		Plan:      s.Plan,
		BaseURL:   s.BaseURL,
		Duration:  s.Elapsed,
		Passed:    exitCode == 0,
		ExitCode:  exitCode,
		Summary:   runSummary(s.Total),
		Scenarios: make(map[string]storage.RunSummary, len(s.Scenarios)),
	}
	for _, sc := range s.Scenarios {
		item.Scenarios[sc.Name] = runSummary(sc)
	}
	for _, r := range s.Thresholds {
		item.Thresholds = append(item.Thresholds, storage.ThresholdOutcome{
			Threshold: r.Threshold.String(),
			Observed:  r.Observed,
			Passed:    r.Passed,
		})
	}
	return item
}

func runSummary(sc ScenarioSummary) storage.RunSummary {
	return storage.RunSummary{
		TotalRequests: sc.Requests,
		Success:       sc.Requests - sc.Fail,
		Fail:          sc.Fail,
		RPS:           sc.RPS,
		AvgLatencyMs:  sc.Duration.Avg,
		P95LatencyMs:  sc.Duration.P95,
		P99LatencyMs:  sc.Duration.P99,
		CheckRate:     sc.CheckRate,
	}
}
