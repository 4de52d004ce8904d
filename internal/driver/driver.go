// Package driver executes a load test described by a TestConfig and turns
// the generator's outcome into a TestResult.
package driver

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadpilot/internal/metrics"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
	"loadpilot/internal/runner"
	"loadpilot/internal/stats"
	"loadpilot/internal/workload"
)

var ErrInvalidConfig = errors.New("invalid test configuration")

// Generator is the load generator contract the driver needs.
type Generator interface {
	Start(ctx context.Context) error
	SetConcurrency(n int)
	Concurrency() int
	Inflight() int64
	Snapshot() stats.Snapshot
	Done() <-chan runner.Outcome
	Stop()
}

// Monitor watches a running generator until ctx is done.
type Monitor func(ctx context.Context, g Generator, cfg runner.Config)

type Latency struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	P50     float64 `json:"p50"`
	P90     float64 `json:"p90"`
	P99     float64 `json:"p99"`
}

// TestResult is the aggregate of one completed run. Latencies are in
// milliseconds.
type TestResult struct {
	TotalRequests   uint64    `json:"totalRequests"`
	AverageRPS      float64   `json:"averageRps"`
	Latency         Latency   `json:"latency"`
	ThroughputBytes uint64    `json:"throughputBytes"`
	Errors          uint64    `json:"errors"`
	Timeouts        uint64    `json:"timeouts"`
	Non2xx          uint64    `json:"non2xxCount"`
	DurationSeconds float64   `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// NewTestResult summarizes a finished run.
func NewTestResult(out runner.Outcome) TestResult {
	s := out.Stats
	secs := out.Elapsed.Seconds()
	var rps float64
	if secs > 0 {
		rps = float64(s.Requests) / secs
	}
	return TestResult{
		TotalRequests: s.Requests,
		AverageRPS:    workload.Round2(rps),
		Latency: Latency{
			Min:     workload.Round2(s.MinMs),
			Max:     workload.Round2(s.MaxMs),
			Average: workload.Round2(s.MeanMs),
			P50:     workload.Round2(s.P50Ms),
			P90:     workload.Round2(s.P90Ms),
			P99:     workload.Round2(s.P99Ms),
		},
		ThroughputBytes: s.Bytes,
		Errors:          s.Errors,
		Timeouts:        s.Timeouts,
		Non2xx:          s.Non2xx,
		DurationSeconds: workload.Round2(secs),
		StartedAt:       out.StartedAt,
		FinishedAt:      out.StartedAt.Add(out.Elapsed),
	}
}

// Validate requires url, duration, connections and test type.
func Validate(cfg planner.TestConfig) error {
	var missing []string
	if strings.TrimSpace(cfg.URL) == "" {
		missing = append(missing, "url")
	}
	if cfg.DurationSeconds <= 0 {
		missing = append(missing, "duration")
	}
	if cfg.Connections <= 0 {
		missing = append(missing, "connections")
	}
	if cfg.TestType == "" {
		missing = append(missing, "testType")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrInvalidConfig, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

type Driver struct {
	Logger       *zap.Logger
	Metrics      *metrics.Collector
	Timeout      time.Duration
	MaxRPS       float64
	Insecure     bool
	RampInterval time.Duration
	Clock        clockwork.Clock
	Monitor      Monitor

	// NewGenerator defaults to a runner.Runner.
	NewGenerator func(cfg runner.Config) Generator
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Driver) generator(cfg runner.Config) Generator {
	if d.NewGenerator != nil {
		return d.NewGenerator(cfg)
	}
	return runner.NewRunner(cfg, d.Metrics)
}

// Execute runs the test to completion. Load and endurance runs start at the
// full connection count; stress runs start at one connection and ramp up.
// A generator error fails the run and no result is returned.
func (d *Driver) Execute(ctx context.Context, cfg planner.TestConfig) (TestResult, error) {
	log := d.logger()
	if err := Validate(cfg); err != nil {
		return TestResult{}, pipeline.Input(err)
	}

	rc := runner.Config{
		URL:         cfg.URL,
		Connections: cfg.Connections,
		Duration:    time.Duration(cfg.DurationSeconds) * time.Second,
		Timeout:     d.Timeout,
		MaxRPS:      d.MaxRPS,
		Insecure:    d.Insecure,
	}
	stress := cfg.TestType == planner.Stress
	if stress {
		rc.Connections = 1
	}

	log.Info("starting performance test",
		zap.String("url", cfg.URL),
		zap.String("testType", string(cfg.TestType)),
		zap.Int("durationSeconds", cfg.DurationSeconds),
		zap.Int("initialConnections", rc.Connections),
	)

	gen := d.generator(rc)
	if err := gen.Start(ctx); err != nil {
		return TestResult{}, pipeline.Execution(errors.Wrap(err, "start generator"))
	}

	// auxiliary work lives exactly as long as the run
	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()

	var out runner.Outcome
	g, gctx := errgroup.WithContext(auxCtx)
	g.Go(func() error {
		out = <-gen.Done()
		stopAux()
		return nil
	})
	if stress {
		sched := NewRampScheduler(cfg.Connections, rc.Duration, d.RampInterval, d.Clock, log)
		g.Go(func() error {
			return sched.Run(gctx, gen.SetConcurrency)
		})
	}
	if d.Monitor != nil {
		g.Go(func() error {
			d.Monitor(gctx, gen, rc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		gen.Stop()
		return TestResult{}, pipeline.Execution(err)
	}

	if out.Err != nil {
		log.Error("load run failed", zap.Error(out.Err))
		return TestResult{}, pipeline.Execution(errors.Wrap(out.Err, "load run failed"))
	}

	res := NewTestResult(out)
	log.Info("test complete",
		zap.Uint64("totalRequests", res.TotalRequests),
		zap.Float64("averageRps", res.AverageRPS),
		zap.Float64("p99Ms", res.Latency.P99),
		zap.Uint64("errors", res.Errors),
		zap.Uint64("non2xx", res.Non2xx),
	)
	return res, nil
}
