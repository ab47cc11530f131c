package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"

	"prodbench/internal/runner"
	"prodbench/internal/stats"
	"prodbench/internal/threshold"
)

// ExportCSV exports results to a JMeter-compatible CSV file.
// Schema: timeStamp,elapsed,label,responseCode,responseMessage,threadName,dataType,success,failureMessage,bytes,sentBytes,grpThreads,allThreads,URL,Latency,IdleTime,Connect
func ExportCSV(results []runner.Result, vus map[string]int, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	// Header
	header := []string{
		"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
		"threadName", "dataType", "success", "failureMessage", "bytes",
		"sentBytes", "grpThreads", "allThreads", "URL", "Latency", "IdleTime", "Connect",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	allThreads := 0
	for _, n := range vus {
		allThreads += n
	}

	for _, res := range results {
		errMsg := res.Err
		if errMsg == "" && len(res.FailedChecks) > 0 {
			errMsg = "check failed: " + res.FailedChecks[0]
		}

		record := []string{
			strconv.FormatInt(res.TimeStamp.UnixMilli(), 10),
			strconv.FormatInt(res.Latency.Milliseconds(), 10),
			res.Scenario, // Label
			strconv.Itoa(res.Status),
			http.StatusText(res.Status),
			fmt.Sprintf("%s %d-%d", res.Scenario, 1, res.VU), // Thread Name
			"text",
			strconv.FormatBool(res.Success),
			errMsg,
			strconv.FormatInt(res.Bytes, 10),
			"0", // Sent bytes (not tracked)
			strconv.Itoa(vus[res.Scenario]),
			strconv.Itoa(allThreads),
			res.URL,
			strconv.FormatInt(res.Latency.Milliseconds(), 10),
			strconv.FormatInt(res.QueueWait.Milliseconds(), 10), // IdleTime (QueueWait)
			strconv.FormatInt(res.Blocked.Milliseconds(), 10),
		}

		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON exports results to a JSON file.
func ExportJSON(results []runner.Result, filename string) error {
	return writeJSON(filename, results)
}

type metricJSON struct {
	Type       string                   `json:"type"`
	Contains   string                   `json:"contains,omitempty"`
	Values     any                      `json:"values"`
	Thresholds map[string]thresholdJSON `json:"thresholds,omitempty"`
}

type thresholdJSON struct {
	OK bool `json:"ok"`
}

type checkJSON struct {
	Name   string `json:"name"`
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

type summaryJSON struct {
	Plan    string                `json:"plan"`
	BaseURL string                `json:"base_url"`
	State   map[string]any        `json:"state"`
	Metrics map[string]metricJSON `json:"metrics"`
	Checks  []checkJSON           `json:"checks"`
}

// ExportSummary writes a k6-style summary: one entry per metric and per
// scenario-tagged sub-metric, thresholds attached to the metric they judge.
func ExportSummary(s Summary, filename string) error {
	out := summaryJSON{
		Plan:    s.Plan,
		BaseURL: s.BaseURL,
		State: map[string]any{
			"testRunDurationMs": s.Elapsed.Milliseconds(),
			"interrupted":       s.Interrupted,
			"abortedBy":         s.AbortedBy,
		},
		Metrics: map[string]metricJSON{},
		Checks:  []checkJSON{},
	}

	addScenario(out.Metrics, "", s.Total, s.Elapsed.Seconds())
	for _, sc := range s.Scenarios {
		addScenario(out.Metrics, sc.Name, sc, s.Elapsed.Seconds())
	}
	for _, c := range s.Checks {
		out.Checks = append(out.Checks, checkJSON{Name: c.Name, Passes: c.Passes, Fails: c.Fails})
	}

	for _, r := range s.Thresholds {
		key := r.Threshold.Selector.String()
		m, ok := out.Metrics[key]
		if !ok {
			m = metricJSON{Type: kindName(threshold.Metrics[r.Threshold.Selector.Metric]), Values: map[string]float64{}}
		}
		if m.Thresholds == nil {
			m.Thresholds = map[string]thresholdJSON{}
		}
		m.Thresholds[r.Threshold.Expr.String()] = thresholdJSON{OK: r.Passed}
		out.Metrics[key] = m
	}

	return writeJSON(filename, out)
}

func addScenario(metrics map[string]metricJSON, scenario string, sc ScenarioSummary, seconds float64) {
	key := func(metric string) string {
		return threshold.Selector{Metric: metric, Scenario: scenario}.String()
	}
	rate := func(n uint64) float64 {
		if seconds <= 0 {
			return 0
		}
		return float64(n) / seconds
	}

	metrics[key("http_reqs")] = metricJSON{Type: "counter", Values: map[string]float64{"count": float64(sc.Requests), "rate": rate(sc.Requests)}}
	metrics[key("iterations")] = metricJSON{Type: "counter", Values: map[string]float64{"count": float64(sc.Requests), "rate": rate(sc.Requests)}}
	metrics[key("data_received")] = metricJSON{Type: "counter", Contains: "data", Values: map[string]float64{"count": float64(sc.Bytes), "rate": rate(sc.Bytes)}}
	metrics[key("http_req_failed")] = metricJSON{Type: "rate", Values: map[string]float64{
		"rate":   sc.FailedRate,
		"passes": float64(sc.Fail),
		"fails":  float64(sc.Requests - sc.Fail),
	}}
	metrics[key("http_req_duration")] = trendJSON(sc.Duration)
	metrics[key("http_req_blocked")] = trendJSON(sc.Blocked)
	metrics[key("iteration_duration")] = trendJSON(sc.Iteration)
	if sc.HasChecks {
		metrics[key("checks")] = metricJSON{Type: "rate", Values: map[string]float64{"rate": sc.CheckRate}}
	}
}

func trendJSON(t stats.Trend) metricJSON {
	return metricJSON{Type: "trend", Contains: "time", Values: t}
}

func kindName(k threshold.Kind) string {
	switch k {
	case threshold.KindTrend:
		return "trend"
	case threshold.KindRate:
		return "rate"
	case threshold.KindCounter:
		return "counter"
	}
	return "gauge"
}

type TimeBucket struct {
	Timestamp int64 `json:"timestamp"`
	Requests  int   `json:"requests"`
	Errors    int   `json:"errors"`
}

// Timeline buckets results per second of their scheduled start.
func Timeline(results []runner.Result) []TimeBucket {
	buckets := make(map[int64]*TimeBucket)

	for _, res := range results {
		ts := res.TimeStamp.Unix()
		if _, ok := buckets[ts]; !ok {
			buckets[ts] = &TimeBucket{Timestamp: ts}
		}
		b := buckets[ts]
		b.Requests++
		if !res.Success {
			b.Errors++
		}
	}

	timeline := make([]TimeBucket, 0, len(buckets))
	for _, b := range buckets {
		timeline = append(timeline, *b)
	}

	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp < timeline[j].Timestamp
	})
	return timeline
}

func ExportTimeline(results []runner.Result, filename string) error {
	return writeJSON(filename, Timeline(results))
}

// WriteAll writes every report for prefix and returns the file names.
func WriteAll(prefix string, s Summary, results []runner.Result, vus map[string]int) ([]string, error) {
	files := []string{prefix + ".csv", prefix + ".json", prefix + "_summary.json", prefix + "_timeline.json"}

	if err := ExportCSV(results, vus, files[0]); err != nil {
		return nil, fmt.Errorf("csv report: %w", err)
	}
	if err := ExportJSON(results, files[1]); err != nil {
		return nil, fmt.Errorf("json report: %w", err)
	}
	if err := ExportSummary(s, files[2]); err != nil {
		return nil, fmt.Errorf("summary report: %w", err)
	}
	if err := ExportTimeline(results, files[3]); err != nil {
		return nil, fmt.Errorf("timeline report: %w", err)
	}
	return files, nil
}

func writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
