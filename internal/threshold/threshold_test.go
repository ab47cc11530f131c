package threshold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodbench/internal/stats"
)

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("http_req_duration")
	require.NoError(t, err)
	assert.Equal(t, Selector{Metric: "http_req_duration"}, sel)

	sel, err = ParseSelector("http_req_duration{scenario:cached_products}")
	require.NoError(t, err)
	assert.Equal(t, "cached_products", sel.Scenario)
	assert.Equal(t, "http_req_duration{scenario:cached_products}", sel.String())

	sel, err = ParseSelector("http_req_duration{ scenario: non_cached_products }")
	require.NoError(t, err)
	assert.Equal(t, "non_cached_products", sel.Scenario)

	for _, bad := range []string{
		"http_req_sending",
		"http_req_duration{status:200}",
		"http_req_duration{scenario:}",
		"http_req_duration{scenario:x",
		"",
	} {
		_, err := ParseSelector(bad)
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestParseExpr(t *testing.T) {
	e, err := ParseExpr("p(95)<200")
	require.NoError(t, err)
	assert.Equal(t, "p", e.Agg)
	assert.Equal(t, 95.0, e.Percentile)
	assert.Equal(t, "<", e.Op)
	assert.Equal(t, 200.0, e.Value)

	e, err = ParseExpr(" p(99.9) <= 1500.5 ")
	require.NoError(t, err)
	assert.Equal(t, 99.9, e.Percentile)
	assert.Equal(t, "<=", e.Op)
	assert.Equal(t, 1500.5, e.Value)

	e, err = ParseExpr("rate<0.01")
	require.NoError(t, err)
	assert.Equal(t, "rate", e.Agg)

	for _, bad := range []string{"p95<200", "p(101)<1", "avg<", "avg=>3", "median<3", "avg<abc"} {
		_, err := ParseExpr(bad)
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		src      string
		observed float64
		want     bool
	}{
		{"avg<10", 9.9, true},
		{"avg<10", 10, false},
		{"avg<=10", 10, true},
		{"avg>10", 10, false},
		{"avg>=10", 10, true},
		{"avg==10", 10, true},
		{"avg!=10", 10, false},
	}
	for _, tc := range cases {
		e, err := ParseExpr(tc.src)
		require.NoError(t, err)
		assert.Equal(t, tc.want, e.compare(tc.observed), tc.src)
	}
}

func TestParseSet(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_duration{scenario:cached_products}": {"p(95)<200"},
		"http_req_failed": {
			map[string]any{"threshold": "rate<0.05", "abort_on_fail": true, "delay_abort_eval": "5s"},
		},
	})
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, "http_req_duration{scenario:cached_products}: p(95)<200", set[0].String())
	assert.True(t, set[1].AbortOnFail)
	assert.Equal(t, 5*time.Second, set[1].DelayAbortEval)

	_, err = ParseSet(map[string][]any{"http_req_failed": {"p(95)<1"}})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ParseSet(map[string][]any{"http_reqs": {"avg<1"}})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ParseSet(map[string][]any{"checks": {42}})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ParseSet(map[string][]any{"checks": {map[string]any{"threshold": "rate>0.9", "abort_on_fail": "yes"}}})
	assert.ErrorIs(t, err, ErrInvalid)
}

func benchmarkRegistry() *stats.Registry {
	reg := stats.NewRegistry("cached_products", "non_cached_products")
	for i := 1; i <= 100; i++ {
		reg.Record("cached_products", stats.Sample{Status: 200, Duration: time.Duration(i) * time.Millisecond, Bytes: 100})
		reg.RecordCheck("cached_products", "cached 200", true)

		status, failed := 200, false
		if i%10 == 0 {
			status, failed = 503, true
		}
		reg.Record("non_cached_products", stats.Sample{Status: status, Failed: failed, Duration: time.Duration(i*5) * time.Millisecond})
		reg.RecordCheck("non_cached_products", "non-cached 200", !failed)
	}
	return reg
}

func TestCheckScenarios(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_duration{scenario:cached_products}": {"p(95)<200"},
		"http_req_failed":                             {"rate<0.01"},
	})
	require.NoError(t, err)
	assert.NoError(t, set.CheckScenarios([]string{"cached_products", "non_cached_products"}))

	typo, err := ParseSet(map[string][]any{"http_req_duration{scenario:cached_product}": {"p(95)<200"}})
	require.NoError(t, err)
	assert.ErrorIs(t, typo.CheckScenarios([]string{"cached_products"}), ErrInvalid)
}

func TestEvaluateBenchmarksPlan(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_duration{scenario:cached_products}":     {"p(95)<200"},
		"http_req_duration{scenario:non_cached_products}": {"p(95)<600", "p(50)<200"},
	})
	require.NoError(t, err)

	results := set.Evaluate(Input{Registry: benchmarkRegistry(), Elapsed: 10 * time.Second})
	require.Len(t, results, 3)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Threshold.String()] = r
	}
	cached := byName["http_req_duration{scenario:cached_products}: p(95)<200"]
	assert.True(t, cached.Passed)
	assert.InDelta(t, 95, cached.Observed, 0.5)

	nonCachedP95 := byName["http_req_duration{scenario:non_cached_products}: p(95)<600"]
	assert.True(t, nonCachedP95.Passed)
	assert.InDelta(t, 475, nonCachedP95.Observed, 1)

	nonCachedP50 := byName["http_req_duration{scenario:non_cached_products}: p(50)<200"]
	assert.False(t, nonCachedP50.Passed)

	assert.True(t, Breached(results))
}

func TestEvaluateRatesAndCounters(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_failed":                    {"rate<0.01"},
		"http_req_failed{scenario:cached_products}": {"rate==0"},
		"checks":                             {"rate>0.9"},
		"http_reqs":                          {"count==200", "rate>=20"},
		"data_received":                      {"count==10000"},
		"vus_max":                            {"value==100"},
		"vus_max{scenario:cached_products}":  {"value==50"},
	})
	require.NoError(t, err)

	results := set.Evaluate(Input{
		Registry: benchmarkRegistry(),
		Elapsed:  10 * time.Second,
		VUsMax:   map[string]int{"cached_products": 50, "non_cached_products": 50},
	})

	got := map[string]bool{}
	for _, r := range results {
		got[r.Threshold.String()] = r.Passed
	}
	assert.Equal(t, map[string]bool{
		"checks: rate>0.9":                            true,
		"data_received: count==10000":                 true,
		"http_req_failed: rate<0.01":                  false,
		"http_req_failed{scenario:cached_products}: rate==0": true,
		"http_reqs: count==200":                       true,
		"http_reqs: rate>=20":                         true,
		"vus_max: value==100":                         true,
		"vus_max{scenario:cached_products}: value==50": true,
	}, got)
}

func TestEvaluateWithoutSamplesPasses(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_duration":                  {"p(95)<1"},
		"http_req_duration{scenario:ghost}":  {"p(95)<1"},
		"checks":                             {"rate>0.99"},
	})
	require.NoError(t, err)

	results := set.Evaluate(Input{Registry: stats.NewRegistry()})
	for _, r := range results {
		assert.True(t, r.NoData, r.Threshold.String())
		assert.True(t, r.Passed, r.Threshold.String())
	}
	assert.False(t, Breached(results))
}

func TestMonitorAbortsOnFailure(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_failed": {map[string]any{"threshold": "rate<0.05", "abort_on_fail": true}},
		"http_req_duration": {"p(95)<1"},
	})
	require.NoError(t, err)

	reg := benchmarkRegistry()
	aborted := make(chan Result, 1)
	m := &Monitor{
		Set:      set,
		Interval: 10 * time.Millisecond,
		Input:    func() Input { return Input{Registry: reg, Elapsed: time.Second} },
		OnAbort:  func(r Result) { aborted <- r },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Run(ctx)

	select {
	case r := <-aborted:
		assert.Equal(t, "http_req_failed", r.Threshold.Selector.Metric)
	default:
		t.Fatal("monitor returned without aborting")
	}
}

func TestMonitorRespectsDelay(t *testing.T) {
	set, err := ParseSet(map[string][]any{
		"http_req_failed": {map[string]any{"threshold": "rate<0.05", "abort_on_fail": true, "delay_abort_eval": "1m"}},
	})
	require.NoError(t, err)

	reg := benchmarkRegistry()
	m := &Monitor{
		Set:      set,
		Interval: 5 * time.Millisecond,
		Input:    func() Input { return Input{Registry: reg, Elapsed: time.Second} },
		OnAbort:  func(Result) { t.Error("aborted before delay elapsed") },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Run(ctx)
}

func TestMonitorWithoutAbortThresholdsReturns(t *testing.T) {
	set, err := ParseSet(map[string][]any{"http_req_duration": {"p(95)<200"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		(&Monitor{Set: set}).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor blocked with nothing to watch")
	}
}
