package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is everything recorded about one iteration.
type Sample struct {
	Status    int
	Failed    bool
	Bytes     int64
	Duration  time.Duration // http_req_duration
	Blocked   time.Duration // waiting for a connection
	QueueWait time.Duration // schedule lag (arrival-rate executors)
	Iteration time.Duration
	Err       string
}

// Stats holds real-time aggregated metrics for one scenario (or all of them)
type Stats struct {
	Requests    uint64
	Success     uint64
	Fail        uint64
	Bytes       uint64
	Interrupted uint64
	Dropped     uint64
	// FailedIterations never produced a request (e.g. a template error).
	FailedIterations uint64

	// Latency histograms (microseconds)
	Duration  *SafeHistogram
	Blocked   *SafeHistogram
	Iteration *SafeHistogram

	// Queue wait is important for lag detection
	QueueWait *SafeHistogram

	mu          sync.Mutex
	statusCodes map[int]int
	errorCounts map[string]int
	checks      map[string]*CheckTally
}

type CheckTally struct {
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

func NewStats() *Stats {
	return &Stats{
		Duration:    NewSafeHistogram(),
		Blocked:     NewSafeHistogram(),
		Iteration:   NewSafeHistogram(),
		QueueWait:   NewSafeHistogram(),
		statusCodes: make(map[int]int),
		errorCounts: make(map[string]int),
		checks:      make(map[string]*CheckTally),
	}
}

func (s *Stats) Add(sm Sample) {
	atomic.AddUint64(&s.Requests, 1)
	if sm.Failed {
		atomic.AddUint64(&s.Fail, 1)
	} else {
		atomic.AddUint64(&s.Success, 1)
	}
	if sm.Bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(sm.Bytes))
	}

	s.Duration.Record(sm.Duration)
	s.Blocked.Record(sm.Blocked)
	s.Iteration.Record(sm.Iteration)
	s.QueueWait.Record(sm.QueueWait)

	s.mu.Lock()
	s.statusCodes[sm.Status]++
	if sm.Err != "" {
		s.errorCounts[sm.Err]++
	}
	s.mu.Unlock()
}

// AddCheck tallies one evaluation of a named check.
func (s *Stats) AddCheck(name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.checks[name]
	if !found {
		t = &CheckTally{}
		s.checks[name] = t
	}
	if ok {
		t.Passes++
	} else {
		t.Fails++
	}
}

func (s *Stats) AddInterrupted() {
	atomic.AddUint64(&s.Interrupted, 1)
}

// AddFailedIteration counts an iteration that failed before sending its
// request. It stays out of http_reqs and the latency trends.
func (s *Stats) AddFailedIteration(err string) {
	atomic.AddUint64(&s.FailedIterations, 1)
	s.mu.Lock()
	s.errorCounts[err]++
	s.mu.Unlock()
}

// AddDropped counts an arrival-rate iteration that found no free VU.
func (s *Stats) AddDropped() {
	atomic.AddUint64(&s.Dropped, 1)
}

func (s *Stats) RequestCount() uint64 {
	return atomic.LoadUint64(&s.Requests)
}

func (s *Stats) FailCount() uint64 {
	return atomic.LoadUint64(&s.Fail)
}

// FailedRate is http_req_failed: failed / total, 0..1.
func (s *Stats) FailedRate() float64 {
	reqs := atomic.LoadUint64(&s.Requests)
	if reqs == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.Fail)) / float64(reqs)
}

// Checks returns a copy of the per-name check tallies.
func (s *Stats) Checks() map[string]CheckTally {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]CheckTally, len(s.checks))
	for k, v := range s.checks {
		out[k] = *v
	}
	return out
}

// CheckNames is sorted.
func (s *Stats) CheckNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.checks))
	for k := range s.checks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CheckRate is the share of passing check evaluations; ok is false when no
// check ran yet.
func (s *Stats) CheckRate() (rate float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pass, total uint64
	for _, t := range s.checks {
		pass += t.Passes
		total += t.Passes + t.Fails
	}
	if total == 0 {
		return 0, false
	}
	return float64(pass) / float64(total), true
}

func (s *Stats) GetStatusCodes() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.statusCodes))
	for k, v := range s.statusCodes {
		out[k] = v
	}
	return out
}

func (s *Stats) GetErrorCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorCounts))
	for k, v := range s.errorCounts {
		out[k] = v
	}
	return out
}

func (s *Stats) GetP50() float64 { return s.Duration.QuantileMs(50) }
func (s *Stats) GetP90() float64 { return s.Duration.QuantileMs(90) }
func (s *Stats) GetP95() float64 { return s.Duration.QuantileMs(95) }
func (s *Stats) GetP99() float64 { return s.Duration.QuantileMs(99) }

// QueueWaitAvgMs returns average queue wait in milliseconds
func (s *Stats) QueueWaitAvgMs() float64 {
	return s.QueueWait.MeanMs()
}

// Registry keeps one Stats per scenario plus the untagged total.
type Registry struct {
	Total *Stats

	mu        sync.RWMutex
	scenarios map[string]*Stats
}

func NewRegistry(scenarios ...string) *Registry {
	r := &Registry{
		Total:     NewStats(),
		scenarios: make(map[string]*Stats, len(scenarios)),
	}
	for _, name := range scenarios {
		r.scenarios[name] = NewStats()
	}
	return r
}

// Scenario returns the stats for name, creating them on first use.
func (r *Registry) Scenario(name string) *Stats {
	r.mu.RLock()
	s, ok := r.scenarios[name]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.scenarios[name]; ok {
		return s
	}
	s = NewStats()
	r.scenarios[name] = s
	return s
}

// Lookup does not create missing scenarios.
func (r *Registry) Lookup(name string) (*Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scenarios))
	for n := range r.scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Record(scenario string, sm Sample) {
	r.Scenario(scenario).Add(sm)
	r.Total.Add(sm)
}

func (r *Registry) RecordCheck(scenario, name string, ok bool) {
	r.Scenario(scenario).AddCheck(name, ok)
	r.Total.AddCheck(name, ok)
}

func (r *Registry) RecordInterrupted(scenario string) {
	r.Scenario(scenario).AddInterrupted()
	r.Total.AddInterrupted()
}

func (r *Registry) RecordFailedIteration(scenario, err string) {
	r.Scenario(scenario).AddFailedIteration(err)
	r.Total.AddFailedIteration(err)
}

func (r *Registry) RecordDropped(scenario string) {
	r.Scenario(scenario).AddDropped()
	r.Total.AddDropped()
}
