// Package threshold parses and evaluates pass/fail criteria such as
// `http_req_duration{scenario:cached_products}: p(95)<200`.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid threshold")

type Kind int

const (
	KindTrend Kind = iota
	KindRate
	KindCounter
	KindGauge
)

// Metrics known to the runner and the kind of value they hold.
var Metrics = map[string]Kind{
	"http_req_duration":  KindTrend,
	"http_req_blocked":   KindTrend,
	"iteration_duration": KindTrend,
	"http_req_failed":    KindRate,
	"checks":             KindRate,
	"http_reqs":          KindCounter,
	"iterations":         KindCounter,
	"data_received":      KindCounter,
	"vus_max":            KindGauge,
}

var aggregations = map[Kind][]string{
	KindTrend:   {"avg", "min", "med", "max", "p(N)"},
	KindRate:    {"rate"},
	KindCounter: {"count", "rate"},
	KindGauge:   {"value"},
}

// Selector picks a metric, optionally narrowed to one scenario.
type Selector struct {
	Metric   string
	Scenario string
}

func (s Selector) String() string {
	if s.Scenario == "" {
		return s.Metric
	}
	return fmt.Sprintf("%s{scenario:%s}", s.Metric, s.Scenario)
}

var selectorRe = regexp.MustCompile(`^([a-z_]+)(?:\{\s*([a-z_]+)\s*:\s*([^}]*?)\s*\})?$`)

func ParseSelector(raw string) (Selector, error) {
	m := selectorRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Selector{}, fmt.Errorf("%w: malformed metric selector %q", ErrInvalid, raw)
	}
	if _, ok := Metrics[m[1]]; !ok {
		return Selector{}, fmt.Errorf("%w: unknown metric %q", ErrInvalid, m[1])
	}
	sel := Selector{Metric: m[1]}
	if m[2] != "" {
		if m[2] != "scenario" {
			return Selector{}, fmt.Errorf("%w: unsupported tag %q in %q (only scenario)", ErrInvalid, m[2], raw)
		}
		if m[3] == "" {
			return Selector{}, fmt.Errorf("%w: empty scenario in %q", ErrInvalid, raw)
		}
		sel.Scenario = m[3]
	}
	return sel, nil
}

// Expr is one comparison, e.g. p(95)<200.
type Expr struct {
	Agg        string // avg, min, med, max, p, count, rate, value
	Percentile float64
	Op         string
	Value      float64
	Source     string
}

func (e Expr) String() string { return e.Source }

var exprRe = regexp.MustCompile(`^(avg|min|med|max|count|rate|value|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)$`)

func ParseExpr(raw string) (Expr, error) {
	src := strings.TrimSpace(raw)
	m := exprRe.FindStringSubmatch(src)
	if m == nil {
		return Expr{}, fmt.Errorf("%w: malformed expression %q", ErrInvalid, raw)
	}
	e := Expr{Agg: m[1], Op: m[3], Source: src}
	if m[2] != "" {
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Expr{}, fmt.Errorf("%w: percentile out of range in %q", ErrInvalid, raw)
		}
		e.Agg = "p"
		e.Percentile = p
	}
	v, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Expr{}, fmt.Errorf("%w: bad number in %q: %v", ErrInvalid, raw, err)
	}
	e.Value = v
	return e, nil
}

func (e Expr) compare(observed float64) bool {
	switch e.Op {
	case "<":
		return observed < e.Value
	case "<=":
		return observed <= e.Value
	case ">":
		return observed > e.Value
	case ">=":
		return observed >= e.Value
	case "==":
		return observed == e.Value
	case "!=":
		return observed != e.Value
	}
	return false
}

type Threshold struct {
	Selector       Selector
	Expr           Expr
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

func (t Threshold) String() string {
	return t.Selector.String() + ": " + t.Expr.String()
}

type Set []Threshold

// ParseSet validates every threshold of a plan. Entries are either a bare
// expression string or a map with threshold, abort_on_fail and
// delay_abort_eval keys.
func ParseSet(raw map[string][]any) (Set, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var set Set
	for _, key := range keys {
		sel, err := ParseSelector(key)
		if err != nil {
			return nil, err
		}
		for _, entry := range raw[key] {
			th, err := parseEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			th.Selector = sel
			if err := checkAggregation(sel.Metric, th.Expr); err != nil {
				return nil, err
			}
			set = append(set, th)
		}
	}
	return set, nil
}

// CheckScenarios rejects selectors tagged with a scenario the plan does not
// have; such a threshold would only ever see "no data" and pass.
func (s Set) CheckScenarios(names []string) error {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for _, th := range s {
		if sc := th.Selector.Scenario; sc != "" && !known[sc] {
			return fmt.Errorf("%w: %s: unknown scenario %q (plan has %v)", ErrInvalid, th.Selector, sc, names)
		}
	}
	return nil
}

func parseEntry(entry any) (Threshold, error) {
	switch v := entry.(type) {
	case string:
		e, err := ParseExpr(v)
		return Threshold{Expr: e}, err
	case map[string]any:
		src, _ := v["threshold"].(string)
		e, err := ParseExpr(src)
		if err != nil {
			return Threshold{}, err
		}
		th := Threshold{Expr: e}
		if abort, ok := v["abort_on_fail"]; ok {
			b, ok := abort.(bool)
			if !ok {
				return Threshold{}, fmt.Errorf("%w: abort_on_fail must be a boolean", ErrInvalid)
			}
			th.AbortOnFail = b
		}
		if delay, ok := v["delay_abort_eval"]; ok {
			d, err := time.ParseDuration(fmt.Sprint(delay))
			if err != nil {
				return Threshold{}, fmt.Errorf("%w: delay_abort_eval: %v", ErrInvalid, err)
			}
			th.DelayAbortEval = d
		}
		return th, nil
	}
	return Threshold{}, fmt.Errorf("%w: unsupported entry %v (%T)", ErrInvalid, entry, entry)
}

func checkAggregation(metric string, e Expr) error {
	kind := Metrics[metric]
	name := e.Agg
	if name == "p" {
		name = "p(N)"
	}
	for _, a := range aggregations[kind] {
		if a == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s does not support %q (use one of %v)", ErrInvalid, metric, e.Agg, aggregations[kind])
}
