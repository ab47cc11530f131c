package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prodbench/internal/config"
	"prodbench/internal/metrics"
	"prodbench/internal/report"
	"prodbench/internal/runner"
	"prodbench/internal/storage"
	"prodbench/internal/threshold"
	"prodbench/internal/tui"
)

// Exit codes, compatible with k6.
const (
	ExitOK               = 0
	ExitThresholdsFailed = 99
	ExitInterrupted      = 105
)

const (
	progressBarWidth     = 20
	defaultMonitorPeriod = 2 * time.Second
)

type Options struct {
	Plan config.Plan

	OutPrefix    string
	TUI          bool
	StrictChecks bool
	MetricsAddr  string
	// HistoryPath is the bbolt file runs are saved to; empty disables history.
	HistoryPath string

	// AbortEvalInterval is how often abort-on-fail thresholds are checked.
	AbortEvalInterval time.Duration

	Out io.Writer
}

type Outcome struct {
	Summary   report.Summary
	ExitCode  int
	Files     []string
	HistoryID string
}

// Start runs the plan to completion (or until ctx is cancelled), prints the
// summary and writes the requested reports.
func Start(ctx context.Context, opts Options) (Outcome, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	plan := opts.Plan

	set, err := threshold.ParseSet(plan.Thresholds)
	if err != nil {
		return Outcome{}, err
	}
	if err := set.CheckScenarios(plan.ScenarioNames()); err != nil {
		return Outcome{}, err
	}

	updates := make(runner.StatsUpdateChan, 100)
	r, err := runner.NewRunner(plan, updates)
	if err != nil {
		return Outcome{}, err
	}
	r.KeepResults = opts.OutPrefix != ""

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var collector *metrics.Collector
	if opts.MetricsAddr != "" {
		collector = metrics.New()
		r.Observer = collector
		collector.Serve(runCtx, opts.MetricsAddr)
	}

	var (
		abortMu   sync.Mutex
		abortedBy string
	)
	monitor := &threshold.Monitor{
		Set:      set,
		Interval: opts.AbortEvalInterval,
		Input: func() threshold.Input {
			return threshold.Input{Registry: r.Stats, Elapsed: r.Elapsed(), VUsMax: r.VUsMax()}
		},
		OnAbort: func(res threshold.Result) {
			abortMu.Lock()
			abortedBy = res.Threshold.String()
			abortMu.Unlock()
			cancel()
		},
	}
	if monitor.Interval <= 0 {
		monitor.Interval = defaultMonitorPeriod
	}
	go monitor.Run(runCtx)

	printHeader(out, plan)

	started := time.Now()
	done := make(chan struct{})
	go func() {
		r.Run(runCtx)
		close(done)
	}()

	userStopped := false
	if opts.TUI {
		title := fmt.Sprintf("prodbench · %s", plan.Name)
		stop := func() {
			userStopped = true
			cancel()
		}
		if err := tui.RunDashboard(title, updates, done, stop); err != nil {
			log.WithError(err).Warn("dashboard exited, continuing headless")
		}
		<-done
	} else {
		followProgress(out, updates, done)
	}

	elapsed := r.Elapsed()
	input := threshold.Input{Registry: r.Stats, Elapsed: elapsed, VUsMax: r.VUsMax()}
	results := set.Evaluate(input)
	if collector != nil {
		for _, res := range results {
			collector.SetThreshold(res.Threshold.String(), res.Passed)
		}
	}

	summary := report.Build(plan.Name, plan.BaseURL, r.Stats, elapsed, results)
	abortMu.Lock()
	summary.AbortedBy = abortedBy
	abortMu.Unlock()
	summary.Interrupted = summary.AbortedBy == "" && (ctx.Err() != nil || userStopped)
	summary.StrictChecks = opts.StrictChecks

	report.Print(out, summary)

	outcome := Outcome{Summary: summary, ExitCode: exitCode(summary)}

	if opts.OutPrefix != "" {
		files, err := report.WriteAll(opts.OutPrefix, summary, r.Results, r.VUsMax())
		if err != nil {
			return outcome, err
		}
		outcome.Files = files
		fmt.Fprintf(out, "\n💾 Reports saved to %s.{csv,json} %s_{summary,timeline}.json\n", opts.OutPrefix, opts.OutPrefix)
	}

	if opts.HistoryPath != "" {
		outcome.HistoryID = saveHistory(opts.HistoryPath, summary.HistoryItem(started, outcome.ExitCode))
	}

	log.WithFields(log.Fields{
		"plan":      plan.Name,
		"requests":  summary.Total.Requests,
		"exit_code": outcome.ExitCode,
	}).Info("run finished")
	return outcome, nil
}

func exitCode(s report.Summary) int {
	switch {
	case s.Interrupted:
		return ExitInterrupted
	case !s.Passed():
		return ExitThresholdsFailed
	}
	return ExitOK
}

func saveHistory(path string, item *storage.HistoryItem) string {
	store, err := storage.Open(path)
	if err != nil {
		log.WithError(err).Warn("history unavailable, run not recorded")
		return ""
	}
	defer store.Close()

	if err := store.Save(item); err != nil {
		log.WithError(err).Warn("could not record run")
		return ""
	}
	return item.ID
}

// followProgress prints one progress line per snapshot until done closes.
func followProgress(out io.Writer, updates runner.StatsUpdateChan, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case s := <-updates:
			fmt.Fprintf(out, "\r%s", progressLine(s))
		}
	}
}

func progressLine(s runner.StatsSnapshot) string {
	pct := 1.0
	if s.Total > 0 {
		pct = min(s.Elapsed.Seconds()/s.Total.Seconds(), 1.0)
	}
	rps := 0.0
	if s.Elapsed > 0 {
		rps = float64(s.Requests) / s.Elapsed.Seconds()
	}

	if s.Elapsed >= s.Total && s.Inflight > 0 {
		return fmt.Sprintf("%s %3.0f%% | %s/%s | Draining: %d requests...                ",
			progressBar(1.0, progressBarWidth), 100.0,
			s.Elapsed.Round(time.Second), s.Total, s.Inflight)
	}
	return fmt.Sprintf("%s %3.0f%% | %s/%s | Inf: %3d | RPS: %.1f | OK: %d | Err: %d | p95: %.1fms",
		progressBar(pct, progressBarWidth), pct*100,
		s.Elapsed.Round(time.Second), s.Total,
		s.Inflight, rps, s.Success, s.Fail, s.P95Ms)
}

func printHeader(out io.Writer, plan config.Plan) {
	fmt.Fprintf(out, "\n🚀 STARTING PRODBENCH RUN: %s\n", plan.Name)
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Base URL   : %s\n", plan.BaseURL)
	fmt.Fprintf(out, "Timeout    : %ds\n", plan.TimeoutSec)
	fmt.Fprintf(out, "Max VUs    : %d over %s\n", plan.MaxVUs(), plan.TotalDuration())
	for _, name := range plan.ScenarioNames() {
		sc := plan.Scenarios[name]
		load := fmt.Sprintf("%d VUs", sc.VUs)
		if sc.Executor != config.ExecutorConstantVUs {
			load = fmt.Sprintf("%d it/s", sc.Rate)
		}
		target := sc.Exec
		if sc.Request != nil {
			target = sc.Request.Method + " " + sc.Request.Path
		}
		fmt.Fprintf(out, "Scenario   : %-22s %-22s %-8s %s (%s)\n", name, sc.Executor, load, sc.Span(), target)
	}
	if len(plan.Thresholds) > 0 {
		keys := make([]string, 0, len(plan.Thresholds))
		for k := range plan.Thresholds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			exprs := make([]string, 0, len(plan.Thresholds[k]))
			for _, e := range plan.Thresholds[k] {
				exprs = append(exprs, fmt.Sprint(e))
			}
			fmt.Fprintf(out, "Threshold  : %s %s\n", k, strings.Join(exprs, ", "))
		}
	}
	fmt.Fprintf(out, "======================================================================\n\n")
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
