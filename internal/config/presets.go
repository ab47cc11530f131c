package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrUnknownPreset = errors.New("unknown preset")

// DefaultLimit is the page size the benchmark scripts request.
const DefaultLimit = 20

type presetFunc func() Plan

var presets = map[string]presetFunc{
	// cached listing only
	"cached": func() Plan {
		return Plan{
			Name: "cached",
			Scenarios: map[string]Scenario{
				"default": {
					Executor: ExecutorConstantVUs,
					VUs:      50,
					Duration: 10 * time.Second,
					Exec:     "cachedProducts",
				},
			},
			Thresholds: map[string][]any{
				"http_req_duration": {"p(95)<200"},
			},
		}
	},
	// listing that bypasses the cache
	"non-cached": func() Plan {
		return Plan{
			Name: "non-cached",
			Scenarios: map[string]Scenario{
				"default": {
					Executor: ExecutorConstantVUs,
					VUs:      50,
					Duration: 10 * time.Second,
					Exec:     "nonCachedProducts",
				},
			},
			Thresholds: map[string][]any{
				"http_req_duration": {"p(95)<400"},
			},
		}
	},
	// both listings side by side, one scenario each
	"benchmarks": func() Plan {
		return Plan{
			Name: "benchmarks",
			Scenarios: map[string]Scenario{
				"cached_products": {
					Executor: ExecutorConstantVUs,
					VUs:      50,
					Duration: 10 * time.Second,
					Exec:     "cachedProducts",
				},
				"non_cached_products": {
					Executor: ExecutorConstantVUs,
					VUs:      50,
					Duration: 10 * time.Second,
					Exec:     "nonCachedProducts",
				},
			},
			Thresholds: map[string][]any{
				"http_req_duration{scenario:cached_products}":     {"p(95)<200"},
				"http_req_duration{scenario:non_cached_products}": {"p(95)<600"},
			},
		}
	},
}

// Preset returns a fresh copy of a built-in plan with defaults applied and
// the base URL resolved from lookup.
func Preset(name string, lookup func(string) (string, bool)) (Plan, error) {
	f, ok := presets[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w %q (available: %v)", ErrUnknownPreset, name, PresetNames())
	}
	p := f()
	p.BaseURL = BaseURL(lookup)
	p.ApplyDefaults()
	return p, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
