// Package metrics exposes a live load run as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "loadpilot"

// Collector holds the run metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	Requests    *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Latency     prometheus.Histogram
	Concurrency prometheus.Gauge
	Stages      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() *Collector {
	c := &Collector{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Responses received from the target, by status code.",
		}, []string{"code"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Requests that produced no response, by reason.",
		}, []string{"reason"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Response latency in seconds.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}),
		Concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrency",
			Help:      "Live number of closed-loop connections.",
		}),
		Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Pipeline stage completions, by stage and status.",
		}, []string{"stage", "status"}),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(c.Requests, c.Errors, c.Latency, c.Concurrency, c.Stages)
	return c
}

// ObserveResponse records one response.
func (c *Collector) ObserveResponse(status int, latency time.Duration) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
	c.Latency.Observe(latency.Seconds())
}

// ObserveError records a request that failed at the transport level.
func (c *Collector) ObserveError(timeout bool) {
	if c == nil {
		return
	}
	reason := "transport"
	if timeout {
		reason = "timeout"
	}
	c.Errors.WithLabelValues(reason).Inc()
}

func (c *Collector) SetConcurrency(n int) {
	if c == nil {
		return
	}
	c.Concurrency.Set(float64(n))
}

func (c *Collector) ObserveStage(stage, status string) {
	if c == nil {
		return
	}
	c.Stages.WithLabelValues(stage, status).Inc()
}

// Handler returns the Prometheus metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, c *Collector, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
