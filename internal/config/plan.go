package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the products API of a local dev server.
	DefaultBaseURL = "http://127.0.0.1:8000/api/v1"
	// EnvBaseURL overrides the target for every plan.
	EnvBaseURL = "BASE_URL"

	ExecutorConstantVUs         = "constant-vus"
	ExecutorConstantArrivalRate = "constant-arrival-rate"
	ExecutorRampingArrivalRate  = "ramping-arrival-rate"

	DefaultTimeoutSec   = 60
	DefaultGracefulStop = 30 * time.Second
)

var ErrInvalidPlan = errors.New("invalid plan")

// Plan is a whole benchmark: scenarios run in parallel against one base URL,
// judged by one set of thresholds.
type Plan struct {
	Name       string              `mapstructure:"name" json:"name"`
	BaseURL    string              `mapstructure:"base_url" json:"base_url"`
	TimeoutSec int                 `mapstructure:"timeout_sec" json:"timeout_sec"`
	Scenarios  map[string]Scenario `mapstructure:"scenarios" json:"scenarios"`

	// Thresholds maps a metric selector such as
	// "http_req_duration{scenario:cached_products}" to its expressions.
	// Entries are strings ("p(95)<200") or objects with abort options.
	Thresholds map[string][]any `mapstructure:"thresholds" json:"thresholds"`

	// Vars are exposed to request templates as {{.Vars.name}}.
	Vars map[string]string `mapstructure:"vars" json:"vars,omitempty"`
}

type Scenario struct {
	Executor     string        `mapstructure:"executor" json:"executor"`
	VUs          int           `mapstructure:"vus" json:"vus"`
	Duration     time.Duration `mapstructure:"duration" json:"duration"`
	GracefulStop time.Duration `mapstructure:"graceful_stop" json:"graceful_stop"`

	// Arrival-rate executors
	Rate     int           `mapstructure:"rate" json:"rate,omitempty"`
	RampUp   time.Duration `mapstructure:"ramp_up" json:"ramp_up,omitempty"`
	RampDown time.Duration `mapstructure:"ramp_down" json:"ramp_down,omitempty"`

	ThinkTime time.Duration `mapstructure:"think_time" json:"think_time,omitempty"`

	// Exec names a registered iteration; Request describes one inline.
	Exec    string       `mapstructure:"exec" json:"exec,omitempty"`
	Request *RequestSpec `mapstructure:"request" json:"request,omitempty"`
}

type RequestSpec struct {
	Method  string            `mapstructure:"method" json:"method"`
	Path    string            `mapstructure:"path" json:"path"`
	Query   map[string]string `mapstructure:"query" json:"query,omitempty"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Body    string            `mapstructure:"body" json:"body,omitempty"`
	Checks  []CheckSpec       `mapstructure:"checks" json:"checks,omitempty"`
}

type CheckSpec struct {
	Name         string `mapstructure:"name" json:"name"`
	Status       int    `mapstructure:"status" json:"status,omitempty"`
	BodyContains string `mapstructure:"body_contains" json:"body_contains,omitempty"`
}

// BaseURL returns BASE_URL when it is set to something non-empty and the
// local default otherwise.
func BaseURL(lookup func(string) (string, bool)) string {
	if v, ok := lookup(EnvBaseURL); ok && strings.TrimSpace(v) != "" {
		return strings.TrimRight(strings.TrimSpace(v), "/")
	}
	return DefaultBaseURL
}

// ApplyDefaults fills every zero value the runner relies on.
func (p *Plan) ApplyDefaults() {
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	if p.TimeoutSec <= 0 {
		p.TimeoutSec = DefaultTimeoutSec
	}
	if _, ok := p.Vars["limit"]; !ok {
		if p.Vars == nil {
			p.Vars = map[string]string{}
		}
		p.Vars["limit"] = strconv.Itoa(DefaultLimit)
	}
	for name, s := range p.Scenarios {
		if s.Executor == "" {
			s.Executor = ExecutorConstantVUs
		}
		if s.GracefulStop <= 0 {
			s.GracefulStop = DefaultGracefulStop
		}
		if s.Request != nil && s.Request.Method == "" {
			s.Request.Method = "GET"
		}
		p.Scenarios[name] = s
	}
}

func (p *Plan) Validate() error {
	if len(p.Scenarios) == 0 {
		return fmt.Errorf("%w: no scenarios", ErrInvalidPlan)
	}
	for _, name := range p.ScenarioNames() {
		s := p.Scenarios[name]
		if s.Duration <= 0 {
			return fmt.Errorf("%w: scenario %q: duration must be positive", ErrInvalidPlan, name)
		}
		switch s.Executor {
		case ExecutorConstantVUs:
			if s.VUs <= 0 {
				return fmt.Errorf("%w: scenario %q: vus must be positive", ErrInvalidPlan, name)
			}
		case ExecutorConstantArrivalRate, ExecutorRampingArrivalRate:
			if s.Rate <= 0 {
				return fmt.Errorf("%w: scenario %q: rate must be positive", ErrInvalidPlan, name)
			}
		default:
			return fmt.Errorf("%w: scenario %q: unknown executor %q", ErrInvalidPlan, name, s.Executor)
		}
		if (s.Exec == "") == (s.Request == nil) {
			return fmt.Errorf("%w: scenario %q: exactly one of exec or request is required", ErrInvalidPlan, name)
		}
		if s.Request != nil && s.Request.Path == "" {
			return fmt.Errorf("%w: scenario %q: request path is empty", ErrInvalidPlan, name)
		}
	}
	return nil
}

// ScenarioNames is sorted so reports and logs are stable.
func (p *Plan) ScenarioNames() []string {
	names := make([]string, 0, len(p.Scenarios))
	for n := range p.Scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Span is the wall-clock time a scenario occupies, without graceful stop.
func (s Scenario) Span() time.Duration {
	if s.Executor == ExecutorRampingArrivalRate {
		return s.RampUp + s.Duration + s.RampDown
	}
	return s.Duration
}

// TotalDuration is the span of the longest scenario.
func (p *Plan) TotalDuration() time.Duration {
	var longest time.Duration
	for _, s := range p.Scenarios {
		if d := s.Span(); d > longest {
			longest = d
		}
	}
	return longest
}

// MaxVUs is the configured concurrency summed over closed-loop scenarios.
func (p *Plan) MaxVUs() int {
	total := 0
	for _, s := range p.Scenarios {
		total += s.VUs
	}
	return total
}

// Overrides are command-line knobs applied to every scenario.
type Overrides struct {
	BaseURL  string
	VUs      int
	Duration time.Duration
	Limit    int
}

func (p *Plan) Apply(o Overrides) {
	if o.BaseURL != "" {
		p.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	if o.Limit > 0 {
		if p.Vars == nil {
			p.Vars = map[string]string{}
		}
		p.Vars["limit"] = fmt.Sprintf("%d", o.Limit)
	}
	for name, s := range p.Scenarios {
		if o.VUs > 0 {
			s.VUs = o.VUs
		}
		if o.Duration > 0 {
			s.Duration = o.Duration
		}
		p.Scenarios[name] = s
	}
}
