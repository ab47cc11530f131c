// Package metrics exposes live run counters to Prometheus while a benchmark
// is in progress.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Collector implements runner.Observer.
type Collector struct {
	Registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  *prometheus.SummaryVec
	checks    *prometheus.CounterVec
	activeVUs *prometheus.GaugeVec
	breached  *prometheus.GaugeVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodbench_http_reqs_total",
				Help: "Requests sent, by scenario and response status.",
			},
			[]string{"scenario", "status"},
		),
		duration: factory.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "prodbench_http_req_duration_seconds",
				Help:       "Time from connection acquired to end of response body.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.01, 0.99: 0.001},
			},
			[]string{"scenario"},
		),
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodbench_checks_total",
				Help: "Check evaluations, by check name and result.",
			},
			[]string{"check", "result"},
		),
		activeVUs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prodbench_vus",
				Help: "VUs currently running an iteration or think time.",
			},
			[]string{"scenario"},
		),
		breached: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prodbench_threshold_breached",
				Help: "1 when the threshold failed at its last evaluation.",
			},
			[]string{"threshold"},
		),
	}
}

func (c *Collector) ObserveRequest(scenario string, status int, d time.Duration) {
	c.requests.WithLabelValues(scenario, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(scenario).Observe(d.Seconds())
}

func (c *Collector) ObserveCheck(name string, ok bool) {
	result := "pass"
	if !ok {
		result = "fail"
	}
	c.checks.WithLabelValues(name, result).Inc()
}

func (c *Collector) SetActiveVUs(scenario string, n int64) {
	c.activeVUs.WithLabelValues(scenario).Set(float64(n))
}

func (c *Collector) SetThreshold(name string, passed bool) {
	v := 0.0
	if !passed {
		v = 1
	}
	c.breached.WithLabelValues(name).Set(v)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server error")
		}
	}()
}
