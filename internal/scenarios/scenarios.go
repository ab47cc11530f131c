package scenarios

import (
	"errors"
	"fmt"
	"sort"

	"prodbench/internal/config"
)

var ErrUnknownExec = errors.New("unknown exec")

// Execs are the iterations a plan can bind a scenario to by name. Each one
// is a single GET plus its status check.
var Execs = map[string]config.RequestSpec{
	"cachedProducts": {
		Method: "GET",
		Path:   "/products",
		Query:  map[string]string{"limit": "{{.Vars.limit}}"},
		Checks: []config.CheckSpec{{Name: "cached 200", Status: 200}},
	},
	"nonCachedProducts": {
		Method: "GET",
		Path:   "/products/without_cache/",
		Query:  map[string]string{"limit": "20"},
		Checks: []config.CheckSpec{{Name: "non-cached 200", Status: 200}},
	},
	"health": {
		Method: "GET",
		Path:   "/health",
		Checks: []config.CheckSpec{{Name: "healthy", Status: 200, BodyContains: "healthy"}},
	},
}

// Request returns the request a scenario performs on every iteration.
func Request(s config.Scenario) (config.RequestSpec, error) {
	if s.Request != nil {
		return *s.Request, nil
	}
	spec, ok := Execs[s.Exec]
	if !ok {
		return config.RequestSpec{}, fmt.Errorf("%w %q (available: %v)", ErrUnknownExec, s.Exec, Names())
	}
	return spec, nil
}

func Names() []string {
	names := make([]string, 0, len(Execs))
	for n := range Execs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
