package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

// Record stores a duration with microsecond resolution. Values outside the
// trackable range are clamped rather than dropped.
func (h *SafeHistogram) Record(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if max := h.hist.HighestTrackableValue(); us > max {
		us = max
	}
	_ = h.hist.RecordValue(us)
}

// ValueAtQuantile takes q in 0..100 and returns microseconds.
func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

// QuantileMs is ValueAtQuantile in milliseconds.
func (h *SafeHistogram) QuantileMs(q float64) float64 {
	return float64(h.ValueAtQuantile(q)) / 1000.0
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) MeanMs() float64 {
	return h.Mean() / 1000.0
}

func (h *SafeHistogram) Min() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Min()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Trend is the k6-style digest of a histogram, in milliseconds.
type Trend struct {
	Count int64   `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Med   float64 `json:"med"`
	Max   float64 `json:"max"`
	P90   float64 `json:"p(90)"`
	P95   float64 `json:"p(95)"`
	P99   float64 `json:"p(99)"`
}

func (h *SafeHistogram) Trend() Trend {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hist.TotalCount() == 0 {
		return Trend{}
	}
	ms := func(us int64) float64 { return float64(us) / 1000.0 }
	return Trend{
		Count: h.hist.TotalCount(),
		Avg:   h.hist.Mean() / 1000.0,
		Min:   ms(h.hist.Min()),
		Med:   ms(h.hist.ValueAtQuantile(50)),
		Max:   ms(h.hist.Max()),
		P90:   ms(h.hist.ValueAtQuantile(90)),
		P95:   ms(h.hist.ValueAtQuantile(95)),
		P99:   ms(h.hist.ValueAtQuantile(99)),
	}
}
