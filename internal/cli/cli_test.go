package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodbench/internal/config"
	"prodbench/internal/runner"
	"prodbench/internal/storage"
	"prodbench/internal/threshold"
)

func productsServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok","data":{"items":[],"has_more":false}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func smallPlan(base string, d time.Duration, thresholds map[string][]any) config.Plan {
	return config.Plan{
		Name:    "cli-test",
		BaseURL: base,
		Scenarios: map[string]config.Scenario{
			"cached_products": {
				Executor:  config.ExecutorConstantVUs,
				VUs:       2,
				Duration:  d,
				ThinkTime: 5 * time.Millisecond,
				Exec:      "cachedProducts",
			},
		},
		Thresholds: thresholds,
		Vars:       map[string]string{"limit": "20"},
	}
}

func TestStartPassesThresholds(t *testing.T) {
	srv := productsServer(t, http.StatusOK)
	var out bytes.Buffer

	outcome, err := Start(context.Background(), Options{
		Plan: smallPlan(srv.URL, 200*time.Millisecond, map[string][]any{
			"http_req_failed": {"rate<0.01"},
			"checks":          {"rate>0.99"},
		}),
		Out: &out,
	})
	require.NoError(t, err)

	assert.Equal(t, ExitOK, outcome.ExitCode)
	assert.Greater(t, outcome.Summary.Total.Requests, uint64(0))
	assert.False(t, outcome.Summary.Interrupted)
	assert.Len(t, outcome.Summary.Thresholds, 2)
	assert.Contains(t, out.String(), "STARTING PRODBENCH RUN: cli-test")
	assert.Contains(t, out.String(), "PASSED")
	assert.Empty(t, outcome.Files)
	assert.Empty(t, outcome.HistoryID)
}

func TestStartFailsOnBreachedThreshold(t *testing.T) {
	srv := productsServer(t, http.StatusOK)
	var out bytes.Buffer

	outcome, err := Start(context.Background(), Options{
		Plan: smallPlan(srv.URL, 100*time.Millisecond, map[string][]any{
			"http_req_duration": {"p(95)<0"},
		}),
		Out: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, ExitThresholdsFailed, outcome.ExitCode)
	assert.Contains(t, out.String(), "FAILED")
}

func TestStartAbortsOnFail(t *testing.T) {
	srv := productsServer(t, http.StatusInternalServerError)

	start := time.Now()
	outcome, err := Start(context.Background(), Options{
		Plan: smallPlan(srv.URL, time.Minute, map[string][]any{
			"http_req_failed": {map[string]any{"threshold": "rate<0.01", "abort_on_fail": true}},
		}),
		AbortEvalInterval: 20 * time.Millisecond,
		Out:               &bytes.Buffer{},
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 20*time.Second)
	assert.Equal(t, ExitThresholdsFailed, outcome.ExitCode)
	assert.Equal(t, "http_req_failed: rate<0.01", outcome.Summary.AbortedBy)
	assert.False(t, outcome.Summary.Interrupted)
}

func TestStartInterruptedByCaller(t *testing.T) {
	srv := productsServer(t, http.StatusOK)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	outcome, err := Start(ctx, Options{
		Plan: smallPlan(srv.URL, time.Minute, nil),
		Out:  &bytes.Buffer{},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Summary.Interrupted)
	assert.Equal(t, ExitInterrupted, outcome.ExitCode)
}

func TestStrictChecks(t *testing.T) {
	srv := productsServer(t, http.StatusServiceUnavailable)
	plan := smallPlan(srv.URL, 50*time.Millisecond, nil)

	var out bytes.Buffer
	lenient, err := Start(context.Background(), Options{Plan: plan, Out: &out})
	require.NoError(t, err)
	assert.Equal(t, ExitOK, lenient.ExitCode)
	assert.True(t, lenient.Summary.ChecksFailed())
	assert.Contains(t, out.String(), "PASSED")

	out.Reset()
	strict, err := Start(context.Background(), Options{Plan: plan, StrictChecks: true, Out: &out})
	require.NoError(t, err)
	assert.Equal(t, ExitThresholdsFailed, strict.ExitCode)
	assert.Contains(t, out.String(), "FAILED: checks failed")
	assert.NotContains(t, out.String(), "PASSED")
}

func TestStartWritesReportsAndHistory(t *testing.T) {
	srv := productsServer(t, http.StatusOK)
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "history.db")
	var out bytes.Buffer

	outcome, err := Start(context.Background(), Options{
		Plan:        smallPlan(srv.URL, 100*time.Millisecond, nil),
		OutPrefix:   filepath.Join(dir, "run"),
		HistoryPath: historyPath,
		Out:         &out,
	})
	require.NoError(t, err)

	require.Len(t, outcome.Files, 4)
	for _, f := range outcome.Files {
		info, err := os.Stat(f)
		require.NoError(t, err, f)
		assert.Greater(t, info.Size(), int64(0), f)
	}
	assert.Contains(t, out.String(), "Reports saved to")

	require.NotEmpty(t, outcome.HistoryID)
	store, err := storage.Open(historyPath)
	require.NoError(t, err)
	defer store.Close()
	item, err := store.Get(outcome.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "cli-test", item.Plan)
	assert.True(t, item.Passed)
	assert.Equal(t, outcome.Summary.Total.Requests, item.Summary.TotalRequests)
}

func TestStartRejectsBadThresholds(t *testing.T) {
	_, err := Start(context.Background(), Options{
		Plan: smallPlan("http://127.0.0.1:1", time.Second, map[string][]any{"http_req_failed": {"p(95)<1"}}),
		Out:  &bytes.Buffer{},
	})
	assert.Error(t, err)
}

func TestStartRejectsUnknownScenarioTag(t *testing.T) {
	_, err := Start(context.Background(), Options{
		Plan: smallPlan("http://127.0.0.1:1", time.Second, map[string][]any{
			"http_req_duration{scenario:cached_product}": {"p(95)<200"},
		}),
		Out: &bytes.Buffer{},
	})
	assert.ErrorIs(t, err, threshold.ErrInvalid)
}

func TestStartWithoutVarsUsesDefaultLimit(t *testing.T) {
	srv := productsServer(t, http.StatusOK)
	plan := smallPlan(srv.URL, 100*time.Millisecond, map[string][]any{
		"http_req_duration": {"p(95)<200"},
	})
	plan.Vars = nil

	outcome, err := Start(context.Background(), Options{Plan: plan, Out: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, ExitOK, outcome.ExitCode)
	assert.Greater(t, outcome.Summary.Total.Requests, uint64(0))
	assert.Zero(t, outcome.Summary.Total.Fail)
	assert.Zero(t, outcome.Summary.Total.FailedIters)
}

func TestProgressLine(t *testing.T) {
	line := progressLine(runner.StatsSnapshot{
		Elapsed:  5 * time.Second,
		Total:    10 * time.Second,
		Requests: 50,
		Success:  50,
		P95Ms:    12.5,
	})
	assert.Contains(t, line, " 50%")
	assert.Contains(t, line, "RPS: 10.0")
	assert.Contains(t, line, "p95: 12.5ms")

	draining := progressLine(runner.StatsSnapshot{Elapsed: 10 * time.Second, Total: 10 * time.Second, Inflight: 3})
	assert.Contains(t, draining, "Draining: 3 requests")

	assert.Equal(t, "[----------]", progressBar(-1, 10))
	assert.Equal(t, "[██████████]", progressBar(2, 10))
	assert.Equal(t, "[█████-----]", progressBar(0.5, 10))
}
