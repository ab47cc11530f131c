package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"prodbench/internal/stats"
	"prodbench/internal/tui/styles"
)

const rule = "======================================================================"

// Print writes the end-of-test summary.
func Print(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n\n📊 LOAD TEST RESULTS\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Plan           : %s\n", s.Plan)
	fmt.Fprintf(w, "Base URL       : %s\n", s.BaseURL)
	fmt.Fprintf(w, "Total Duration : %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Interrupted {
		fmt.Fprintf(w, "%s\n", styles.Warn.Render("Run interrupted before completion"))
	}
	if s.AbortedBy != "" {
		fmt.Fprintf(w, "%s\n", styles.Error.Render("Aborted by threshold "+s.AbortedBy))
	}

	if len(s.Checks) > 0 {
		fmt.Fprintf(w, "\n✅ CHECKS\n")
		for _, c := range s.Checks {
			fmt.Fprintf(w, "   %s %-28s %6.2f%%  ✓ %d  ✗ %d\n",
				mark(c.Fails == 0), c.Name, c.Rate()*100, c.Passes, c.Fails)
		}
	}

	for _, sc := range s.Scenarios {
		fmt.Fprintf(w, "\n▶ %s\n", styles.Active.Render("scenario: "+sc.Name))
		printScenario(w, sc)
	}
	if len(s.Scenarios) > 1 {
		fmt.Fprintf(w, "\n▶ %s\n", styles.Active.Render("all scenarios"))
		printScenario(w, s.Total)
	}

	if len(s.Total.Errors) > 0 {
		fmt.Fprintf(w, "\n❌ FAILURE SUMMARY\n")
		errs := make([]string, 0, len(s.Total.Errors))
		for e := range s.Total.Errors {
			errs = append(errs, e)
		}
		sort.Slice(errs, func(i, j int) bool { return s.Total.Errors[errs[i]] > s.Total.Errors[errs[j]] })
		for _, e := range errs {
			fmt.Fprintf(w, "   %d x %s\n", s.Total.Errors[e], e)
		}
	}

	if len(s.Thresholds) > 0 {
		fmt.Fprintf(w, "\n🎯 THRESHOLDS\n")
		for _, r := range s.Thresholds {
			observed := fmt.Sprintf("%.2f", r.Observed)
			if r.NoData {
				observed = "no data"
			}
			fmt.Fprintf(w, "   %s %s %s\n", mark(r.Passed), r.Threshold.String(), styles.Subtle.Render("("+observed+")"))
		}
	}
	fmt.Fprintln(w, rule)

	switch {
	case !s.ThresholdsPassed():
		fmt.Fprintln(w, styles.Error.Render("FAILED: thresholds breached"))
	case !s.Passed():
		fmt.Fprintln(w, styles.Error.Render("FAILED: checks failed"))
	default:
		fmt.Fprintln(w, styles.Success.Render("PASSED"))
	}
}

func printScenario(w io.Writer, sc ScenarioSummary) {
	fmt.Fprintf(w, "   http_reqs ........... %d  %.2f/s\n", sc.Requests, sc.RPS)
	fmt.Fprintf(w, "   http_req_failed ..... %.2f%%  (%d of %d)\n", sc.FailedRate*100, sc.Fail, sc.Requests)
	fmt.Fprintf(w, "   http_req_duration ... %s\n", trendLine(sc.Duration))
	fmt.Fprintf(w, "   http_req_blocked .... %s\n", trendLine(sc.Blocked))
	fmt.Fprintf(w, "   iteration_duration .. %s\n", trendLine(sc.Iteration))
	fmt.Fprintf(w, "   data_received ....... %s\n", humanBytes(sc.Bytes))
	if sc.Interrupted > 0 || sc.Dropped > 0 || sc.FailedIters > 0 {
		fmt.Fprintf(w, "   %s\n", styles.Warn.Render(fmt.Sprintf("interrupted: %d  dropped: %d  failed before send: %d",
			sc.Interrupted, sc.Dropped, sc.FailedIters)))
	}
	if codes := sc.SortedStatusCodes(); len(codes) > 0 {
		parts := make([]string, 0, len(codes))
		for _, c := range codes {
			label := fmt.Sprintf("%d", c)
			if c == 0 {
				label = "error"
			}
			parts = append(parts, fmt.Sprintf("%s=%d", label, sc.StatusCodes[c]))
		}
		fmt.Fprintf(w, "   status .............. %s\n", strings.Join(parts, " "))
	}
}

func trendLine(t stats.Trend) string {
	if t.Count == 0 {
		return styles.Subtle.Render("no samples")
	}
	return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
		ms(t.Avg), ms(t.Min), ms(t.Med), ms(t.Max), ms(t.P90), ms(t.P95), ms(t.P99))
}

func ms(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.2fs", v/1000)
	}
	return fmt.Sprintf("%.2fms", v)
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}

func mark(ok bool) string {
	if ok {
		return styles.Success.Render("✓")
	}
	return styles.Error.Render("✗")
}
