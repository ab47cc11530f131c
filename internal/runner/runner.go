package runner

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prodbench/internal/check"
	"prodbench/internal/config"
	"prodbench/internal/scenarios"
	"prodbench/internal/stats"
)

const (
	tickInterval = 200 * time.Millisecond
	// bodies are only buffered for checks and error results
	maxBodyRead = 1 << 20
	maxBodyKeep = 500
)

type scenarioRun struct {
	name     string
	cfg      config.Scenario
	request  *requestTemplate
	checks   []check.Check
	needBody bool

	iters  uint64
	active int64

	renderErr sync.Once
}

type Runner struct {
	Plan        config.Plan
	Stats       *stats.Registry
	Client      *http.Client
	Results     []Result
	KeepResults bool
	Observer    Observer
	mu          sync.Mutex

	inflight  int64
	started   atomic.Int64
	engine    *TemplateEngine
	scenarios []*scenarioRun

	// Event Channel
	Updates StatsUpdateChan
}

// NewRunner validates the plan and compiles every scenario's request so
// template errors surface before any traffic is sent.
func NewRunner(plan config.Plan, updates StatsUpdateChan) (*Runner, error) {
	plan.ApplyDefaults()
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	engine := NewTemplateEngine()
	names := plan.ScenarioNames()
	runs := make([]*scenarioRun, 0, len(names))
	for _, name := range names {
		sc := plan.Scenarios[name]
		spec, err := scenarios.Request(sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", name, err)
		}
		rt, err := compileRequest(engine, plan.BaseURL, spec)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", name, err)
		}
		checks, err := check.FromSpecs(spec.Checks)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", name, err)
		}
		runs = append(runs, &scenarioRun{
			name:     name,
			cfg:      sc,
			request:  rt,
			checks:   checks,
			needBody: check.NeedsBody(checks),
		})
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	client := &http.Client{
		Timeout:   time.Duration(plan.TimeoutSec) * time.Second,
		Transport: t,
	}

	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	return &Runner{
		Plan:      plan,
		Stats:     stats.NewRegistry(names...),
		Client:    client,
		Updates:   updates,
		engine:    engine,
		scenarios: runs,
	}, nil
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

// Snapshot is a cheap copy of the live counters.
func (r *Runner) Snapshot() StatsSnapshot {
	total := r.Stats.Total
	s := StatsSnapshot{
		Elapsed:        r.Elapsed(),
		Total:          r.Plan.TotalDuration(),
		Requests:       atomic.LoadUint64(&total.Requests),
		Success:        atomic.LoadUint64(&total.Success),
		Fail:           atomic.LoadUint64(&total.Fail),
		Bytes:          atomic.LoadUint64(&total.Bytes),
		Inflight:       atomic.LoadInt64(&r.inflight),
		P50Ms:          total.GetP50(),
		P90Ms:          total.GetP90(),
		P95Ms:          total.GetP95(),
		P99Ms:          total.GetP99(),
		MaxMs:          total.Duration.Max() / 1000,
		MeanMs:         total.Duration.MeanMs(),
		AvgQueueWaitMs: total.QueueWaitAvgMs(),
		StatusCodes:    total.GetStatusCodes(),
	}
	for _, sc := range r.scenarios {
		st := r.Stats.Scenario(sc.name)
		rate, ok := st.CheckRate()
		s.Scenarios = append(s.Scenarios, ScenarioSnapshot{
			Name:      sc.name,
			Requests:  st.RequestCount(),
			Fail:      st.FailCount(),
			ActiveVUs: atomic.LoadInt64(&sc.active),
			P95Ms:     st.GetP95(),
			CheckRate: rate,
			HasChecks: ok,
		})
	}
	return s
}

func (r *Runner) sendUpdate() {
	s := r.Snapshot()

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// Run executes every scenario in parallel and returns when all of them
// finished or ctx was cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.started.Store(time.Now().UnixNano())

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	r.StartTickLoop(tickCtx, tickInterval)

	var wg sync.WaitGroup
	for _, sc := range r.scenarios {
		wg.Add(1)
		go func(sc *scenarioRun) {
			defer wg.Done()
			logger := log.WithFields(log.Fields{
				"scenario": sc.name,
				"executor": sc.cfg.Executor,
			})
			logger.Debug("scenario started")

			if sc.cfg.Executor == config.ExecutorConstantVUs {
				r.runUsers(ctx, sc)
			} else {
				r.runRPS(ctx, sc)
			}

			st := r.Stats.Scenario(sc.name)
			logger.WithFields(log.Fields{
				"requests":    st.RequestCount(),
				"interrupted": atomic.LoadUint64(&st.Interrupted),
			}).Debug("scenario finished")
		}(sc)
	}
	wg.Wait()
	r.sendUpdate()
}

// Elapsed is the wall-clock time since Run started.
func (r *Runner) Elapsed() time.Duration {
	ns := r.started.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

// VUsMax is the configured VU count per scenario.
func (r *Runner) VUsMax() map[string]int {
	out := make(map[string]int, len(r.scenarios))
	for _, sc := range r.scenarios {
		out[sc.name] = sc.cfg.VUs
	}
	return out
}

func (r *Runner) runUsers(ctx context.Context, sc *scenarioRun) {
	stopAt := time.Now().Add(sc.cfg.Duration)
	// in-flight iterations get GracefulStop to finish after the duration
	iterCtx, cancel := context.WithDeadline(ctx, stopAt.Add(sc.cfg.GracefulStop))
	defer cancel()

	var wg sync.WaitGroup
	for vu := 1; vu <= sc.cfg.VUs; vu++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			r.setActive(sc, 1)
			defer r.setActive(sc, -1)

			for ctx.Err() == nil && time.Now().Before(stopAt) {
				r.iterate(iterCtx, sc, vu, time.Now())
				if sc.cfg.ThinkTime > 0 && !sleep(ctx, min(sc.cfg.ThinkTime, time.Until(stopAt))) {
					return
				}
			}
		}(vu)
	}
	wg.Wait()
}

func (r *Runner) runRPS(ctx context.Context, sc *scenarioRun) {
	start := time.Now()
	span := sc.cfg.Span()
	iterCtx, cancel := context.WithDeadline(ctx, start.Add(span+sc.cfg.GracefulStop))
	defer cancel()

	// VUs caps concurrency; an iteration with no free slot is dropped
	var slots chan struct{}
	if sc.cfg.VUs > 0 {
		slots = make(chan struct{}, sc.cfg.VUs)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	nextRequestTime := start
	var seq int
	for ctx.Err() == nil {
		now := time.Now()
		elapsed := now.Sub(start)
		if elapsed >= span {
			return
		}

		targetRPS := getCurrentRPS(sc.cfg, elapsed)
		if targetRPS <= 0.1 {
			if !sleep(ctx, 100*time.Millisecond) {
				return
			}
			nextRequestTime = time.Now()
			continue
		}

		period := time.Duration(float64(time.Second) / targetRPS)

		if nextRequestTime.After(now) {
			if !sleep(ctx, nextRequestTime.Sub(now)) {
				return
			}
		}

		scheduledTime := nextRequestTime
		nextRequestTime = nextRequestTime.Add(period)
		if time.Since(nextRequestTime) > 1*time.Second {
			nextRequestTime = time.Now()
		}

		if slots != nil {
			select {
			case slots <- struct{}{}:
			default:
				r.Stats.RecordDropped(sc.name)
				continue
			}
		}

		vu := 0
		if sc.cfg.VUs > 0 {
			vu = seq%sc.cfg.VUs + 1
		}
		seq++

		wg.Add(1)
		go func() {
			defer wg.Done()
			if slots != nil {
				defer func() { <-slots }()
			}
			r.setActive(sc, 1)
			defer r.setActive(sc, -1)
			r.iterate(iterCtx, sc, vu, scheduledTime)
		}()
	}
}

func (r *Runner) iterate(ctx context.Context, sc *scenarioRun, vu int, scheduledTime time.Time) {
	actualStart := time.Now()
	queueWait := actualStart.Sub(scheduledTime)
	if queueWait < 0 {
		queueWait = 0
	}

	atomic.AddInt64(&r.inflight, 1)
	defer atomic.AddInt64(&r.inflight, -1)

	iter := atomic.AddUint64(&sc.iters, 1) - 1
	data := TemplateData{VU: vu, Iter: iter, Scenario: sc.name, Vars: r.Plan.Vars}
	if sc.request.dynamic {
		data.UUID = uuid.New().String()
	}

	res := Result{
		TimeStamp: scheduledTime,
		Scenario:  sc.name,
		VU:        vu,
		Iteration: iter,
		QueueWait: queueWait,
	}

	req, err := sc.request.Build(ctx, r.engine, data)
	if err != nil {
		// nothing was sent, so no http_req_* samples
		r.Stats.RecordFailedIteration(sc.name, err.Error())
		sc.renderErr.Do(func() {
			log.WithError(err).WithField("scenario", sc.name).Warn("iteration failed before sending its request")
		})
		return
	}
	res.URL = req.URL.String()

	var connectedAt atomic.Int64
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			connectedAt.CompareAndSwap(0, time.Now().UnixNano())
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	sent := time.Now()
	resp, err := r.Client.Do(req)
	var body []byte
	if err == nil {
		res.Status = resp.StatusCode
		body, res.Bytes, err = readBody(resp, sc.needBody)
	}
	endTime := time.Now()

	if err != nil && ctx.Err() != nil {
		// cut off by graceful stop or an aborted run
		r.Stats.RecordInterrupted(sc.name)
		return
	}

	connected := sent
	if ns := connectedAt.Load(); ns != 0 {
		connected = time.Unix(0, ns)
	}
	res.Blocked = connected.Sub(sent)
	res.Latency = endTime.Sub(connected)

	if err != nil {
		res.Err = errorKind(err)
	}
	res.Success = err == nil && res.Status >= 200 && res.Status < 400
	if res.Status >= 400 && len(body) > 0 {
		if len(body) > maxBodyKeep {
			body = body[:maxBodyKeep]
		}
		res.ResponseBody = string(body)
	}

	r.record(sc, res, body, err, endTime.Sub(actualStart))
}

func (r *Runner) record(sc *scenarioRun, res Result, body []byte, err error, iteration time.Duration) {
	obs := r.observer()

	resp := check.Response{Status: res.Status, Body: body, Err: err}
	for _, c := range sc.checks {
		ok := c.Passes(resp)
		r.Stats.RecordCheck(sc.name, c.Name, ok)
		obs.ObserveCheck(c.Name, ok)
		if !ok {
			res.FailedChecks = append(res.FailedChecks, c.Name)
		}
	}

	r.Stats.Record(sc.name, stats.Sample{
		Status:    res.Status,
		Failed:    !res.Success,
		Bytes:     res.Bytes,
		Duration:  res.Latency,
		Blocked:   res.Blocked,
		QueueWait: res.QueueWait,
		Iteration: iteration,
		Err:       res.Err,
	})
	obs.ObserveRequest(sc.name, res.Status, res.Latency)

	if r.KeepResults {
		r.mu.Lock()
		r.Results = append(r.Results, res)
		r.mu.Unlock()
	}
}

func readBody(resp *http.Response, keep bool) ([]byte, int64, error) {
	defer resp.Body.Close()

	var body []byte
	if keep || resp.StatusCode >= 400 {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
		body = b
		if err != nil {
			return body, int64(len(b)), err
		}
	}
	rest, err := io.Copy(io.Discard, resp.Body)
	return body, int64(len(body)) + rest, err
}

// errorKind keeps the error breakdown small by dropping the request URL.
func errorKind(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "request timeout"
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err.Error()
	}
	return err.Error()
}

func (r *Runner) setActive(sc *scenarioRun, delta int64) {
	n := atomic.AddInt64(&sc.active, delta)
	r.observer().SetActiveVUs(sc.name, n)
}

func (r *Runner) observer() Observer {
	if r.Observer == nil {
		return nopObserver{}
	}
	return r.Observer
}

// getCurrentRPS is the target arrival rate at elapsed. Only the ramping
// executor ramps; constant-arrival-rate holds Rate for Duration.
func getCurrentRPS(cfg config.Scenario, elapsed time.Duration) float64 {
	target := float64(cfg.Rate)
	if cfg.Executor != config.ExecutorRampingArrivalRate {
		if elapsed < cfg.Duration {
			return target
		}
		return 0
	}

	if elapsed < cfg.RampUp {
		return target * (elapsed.Seconds() / cfg.RampUp.Seconds())
	}
	steadyEnd := cfg.RampUp + cfg.Duration
	if elapsed < steadyEnd {
		return target
	}
	totalDur := steadyEnd + cfg.RampDown
	if elapsed < totalDur {
		remaining := totalDur - elapsed
		return target * (remaining.Seconds() / cfg.RampDown.Seconds())
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
