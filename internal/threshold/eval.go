package threshold

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prodbench/internal/stats"
)

// Input is the state a threshold is judged against.
type Input struct {
	Registry *stats.Registry
	Elapsed  time.Duration
	// VUsMax per scenario; the untagged value is the sum.
	VUsMax map[string]int
}

type Result struct {
	Threshold Threshold
	Observed  float64
	NoData    bool
	Passed    bool
}

// Evaluate judges every threshold. A metric without samples passes.
func (s Set) Evaluate(in Input) []Result {
	out := make([]Result, 0, len(s))
	for _, th := range s {
		out = append(out, evaluate(th, in))
	}
	return out
}

func evaluate(th Threshold, in Input) Result {
	res := Result{Threshold: th}

	var st *stats.Stats
	if th.Selector.Scenario == "" {
		st = in.Registry.Total
	} else if found, ok := in.Registry.Lookup(th.Selector.Scenario); ok {
		st = found
	}

	observed, ok := observe(th, st, in)
	if !ok {
		res.NoData = true
		res.Passed = true
		return res
	}
	res.Observed = observed
	res.Passed = th.Expr.compare(observed)
	return res
}

func observe(th Threshold, st *stats.Stats, in Input) (float64, bool) {
	if th.Selector.Metric == "vus_max" {
		if th.Selector.Scenario == "" {
			total := 0
			for _, n := range in.VUsMax {
				total += n
			}
			return float64(total), true
		}
		n, ok := in.VUsMax[th.Selector.Scenario]
		return float64(n), ok
	}
	if st == nil {
		return 0, false
	}

	switch th.Selector.Metric {
	case "http_req_duration":
		return trendValue(st.Duration, th.Expr)
	case "http_req_blocked":
		return trendValue(st.Blocked, th.Expr)
	case "iteration_duration":
		return trendValue(st.Iteration, th.Expr)
	case "http_req_failed":
		if st.RequestCount() == 0 {
			return 0, false
		}
		return st.FailedRate(), true
	case "checks":
		return st.CheckRate()
	case "http_reqs", "iterations":
		return counterValue(float64(st.RequestCount()), th.Expr, in.Elapsed)
	case "data_received":
		return counterValue(float64(st.Bytes), th.Expr, in.Elapsed)
	}
	return 0, false
}

func trendValue(h *stats.SafeHistogram, e Expr) (float64, bool) {
	if h.TotalCount() == 0 {
		return 0, false
	}
	switch e.Agg {
	case "avg":
		return h.MeanMs(), true
	case "min":
		return float64(h.Min()) / 1000.0, true
	case "max":
		return float64(h.Max()) / 1000.0, true
	case "med":
		return h.QuantileMs(50), true
	case "p":
		return h.QuantileMs(e.Percentile), true
	}
	return 0, false
}

func counterValue(count float64, e Expr, elapsed time.Duration) (float64, bool) {
	if e.Agg == "rate" {
		if elapsed <= 0 {
			return 0, false
		}
		return count / elapsed.Seconds(), true
	}
	return count, true
}

// Breached reports whether any result failed.
func Breached(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// Monitor re-evaluates abort-on-fail thresholds while a run is in progress
// and calls OnAbort once when one of them fails.
type Monitor struct {
	Set      Set
	Interval time.Duration
	Input    func() Input
	OnAbort  func(Result)

	once sync.Once
}

func (m *Monitor) abortable() Set {
	var out Set
	for _, th := range m.Set {
		if th.AbortOnFail {
			out = append(out, th)
		}
	}
	return out
}

// Run blocks until ctx is done or an abort fired. It returns immediately when
// no threshold asks for abort-on-fail.
func (m *Monitor) Run(ctx context.Context) {
	watch := m.abortable()
	if len(watch) == 0 {
		return
	}
	interval := m.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r, failed := m.check(watch); failed {
				m.once.Do(func() {
					log.WithFields(log.Fields{
						"threshold": r.Threshold.String(),
						"observed":  r.Observed,
					}).Warn("threshold crossed, aborting run")
					if m.OnAbort != nil {
						m.OnAbort(r)
					}
				})
				return
			}
		}
	}
}

func (m *Monitor) check(watch Set) (Result, bool) {
	in := m.Input()
	for _, th := range watch {
		if in.Elapsed < th.DelayAbortEval {
			continue
		}
		if r := evaluate(th, in); !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}
