package driver

import (
	"context"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loadpilot/internal/artifact"
	"loadpilot/internal/dummy"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
	"loadpilot/internal/runner"
	"loadpilot/internal/stats"
)

type fakeGen struct {
	cfg      runner.Config
	startErr error
	done     chan runner.Outcome

	mu   sync.Mutex
	sets []int
	conc int
}

func newFakeGen(cfg runner.Config) *fakeGen {
	return &fakeGen{cfg: cfg, conc: cfg.Connections, done: make(chan runner.Outcome, 1)}
}

func (g *fakeGen) Start(context.Context) error { return g.startErr }

func (g *fakeGen) SetConcurrency(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sets = append(g.sets, n)
	if n > g.conc {
		g.conc = n
	}
}

func (g *fakeGen) Concurrency() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conc
}

func (g *fakeGen) applied() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.sets...)
}

func (g *fakeGen) Inflight() int64 { return 0 }

func (g *fakeGen) Snapshot() stats.Snapshot { return stats.Snapshot{} }

func (g *fakeGen) Done() <-chan runner.Outcome { return g.done }

func (g *fakeGen) Stop() {}

// capture hands every generator the driver builds to the test.
func capture() (chan *fakeGen, func(runner.Config) Generator) {
	gens := make(chan *fakeGen, 1)
	return gens, func(cfg runner.Config) Generator {
		g := newFakeGen(cfg)
		gens <- g
		return g
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(planner.TestConfig{URL: "http://x", DurationSeconds: 1, Connections: 1, TestType: planner.Load}))

	err := Validate(planner.TestConfig{TestType: planner.Load})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.ErrorContains(t, err, "url, duration, connections")
}

func TestExecuteRejectsInvalidConfig(t *testing.T) {
	gens, factory := capture()
	d := &Driver{NewGenerator: factory}

	_, err := d.Execute(context.Background(), planner.TestConfig{URL: "http://x"})
	assert.Equal(t, pipeline.KindInput, pipeline.Classify(err))
	assert.Empty(t, gens, "no test attempted")
}

func TestExecuteLoadUsesFullConnections(t *testing.T) {
	gens, factory := capture()
	d := &Driver{NewGenerator: factory}
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	resc := make(chan TestResult, 1)
	go func() {
		res, err := d.Execute(context.Background(), planner.TestConfig{
			URL: "http://x", DurationSeconds: 3600, Connections: 5, TestType: planner.Load,
		})
		assert.NoError(t, err)
		resc <- res
	}()

	gen := <-gens
	gen.done <- runner.Outcome{
		Stats:     stats.Snapshot{Requests: 100, Errors: 2, Non2xx: 3, P99Ms: 12.346},
		StartedAt: started,
		Elapsed:   10 * time.Second,
	}

	res := <-resc
	assert.Equal(t, 5, gen.cfg.Connections)
	assert.Equal(t, time.Hour, gen.cfg.Duration)
	assert.Empty(t, gen.applied())
	assert.Equal(t, uint64(100), res.TotalRequests)
	assert.Equal(t, 10.0, res.AverageRPS)
	assert.Equal(t, 12.35, res.Latency.P99)
	assert.Equal(t, uint64(3), res.Non2xx)
	assert.Equal(t, started.Add(10*time.Second), res.FinishedAt)
}

func TestExecutePassesGeneratorSettings(t *testing.T) {
	gens, factory := capture()
	d := &Driver{NewGenerator: factory, Timeout: 3 * time.Second, MaxRPS: 7, Insecure: true}

	errc := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), planner.TestConfig{
			URL: "https://x", DurationSeconds: 60, Connections: 2, TestType: planner.Load,
		})
		errc <- err
	}()

	gen := <-gens
	gen.done <- runner.Outcome{Elapsed: time.Second}
	require.NoError(t, <-errc)

	assert.Equal(t, "https://x", gen.cfg.URL)
	assert.Equal(t, 3*time.Second, gen.cfg.Timeout)
	assert.Equal(t, 7.0, gen.cfg.MaxRPS)
	assert.True(t, gen.cfg.Insecure)
}

func TestExecuteStressRamps(t *testing.T) {
	gens, factory := capture()
	clock := clockwork.NewFakeClock()
	d := &Driver{NewGenerator: factory, Clock: clock, RampInterval: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := d.Execute(ctx, planner.TestConfig{
			URL: "http://x", DurationSeconds: 30, Connections: 3, TestType: planner.Stress,
		})
		errc <- err
	}()

	gen := <-gens
	require.Eventually(t, func() bool { return len(gen.applied()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, gen.cfg.Connections, "stress starts at one connection")

	for want := 2; want <= 3; want++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(10 * time.Second)
		require.Eventually(t, func() bool { return len(gen.applied()) == want }, time.Second, time.Millisecond)
	}
	assert.Equal(t, []int{1, 2, 3}, gen.applied())

	gen.done <- runner.Outcome{Elapsed: 30 * time.Second}
	require.NoError(t, <-errc)
}

func TestExecuteCancelsRampWhenRunEnds(t *testing.T) {
	gens, factory := capture()
	d := &Driver{NewGenerator: factory, Clock: clockwork.NewFakeClock()}

	errc := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), planner.TestConfig{
			URL: "http://x", DurationSeconds: 600, Connections: 95, TestType: planner.Stress,
		})
		errc <- err
	}()

	gen := <-gens
	require.Eventually(t, func() bool { return len(gen.applied()) == 1 }, time.Second, time.Millisecond)
	gen.done <- runner.Outcome{}

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler outlived the run")
	}
}

func TestExecuteGeneratorError(t *testing.T) {
	gens, factory := capture()
	d := &Driver{NewGenerator: factory}

	errc := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), planner.TestConfig{
			URL: "http://x", DurationSeconds: 60, Connections: 1, TestType: planner.Load,
		})
		errc <- err
	}()

	gen := <-gens
	gen.done <- runner.Outcome{Err: runner.ErrTargetUnreachable}

	err := <-errc
	assert.Equal(t, pipeline.KindExecution, pipeline.Classify(err))
	assert.True(t, errors.Is(err, runner.ErrTargetUnreachable))
}

func TestExecuteStartError(t *testing.T) {
	d := &Driver{NewGenerator: func(cfg runner.Config) Generator {
		g := newFakeGen(cfg)
		g.startErr = runner.ErrAlreadyStarted
		return g
	}}
	_, err := d.Execute(context.Background(), planner.TestConfig{
		URL: "http://x", DurationSeconds: 60, Connections: 1, TestType: planner.Load,
	})
	assert.Equal(t, pipeline.KindExecution, pipeline.Classify(err))
}

func TestExecuteMonitorSeesGenerator(t *testing.T) {
	gens, factory := capture()
	var seen Generator
	d := &Driver{
		NewGenerator: factory,
		Monitor: func(ctx context.Context, g Generator, _ runner.Config) {
			seen = g
			<-ctx.Done()
		},
	}

	errc := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), planner.TestConfig{
			URL: "http://x", DurationSeconds: 1, Connections: 1, TestType: planner.Endurance,
		})
		errc <- err
	}()
	gen := <-gens
	gen.done <- runner.Outcome{}
	require.NoError(t, <-errc)
	assert.Same(t, gen, seen)
}

func stageEnv(t *testing.T) pipeline.Env {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	return pipeline.Env{Store: store, Logger: zap.NewNop()}
}

func TestStageAgainstLiveTarget(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler())
	defer srv.Close()

	env := stageEnv(t)
	require.NoError(t, env.Store.Write(artifact.TestConfig, planner.TestConfig{
		URL: srv.URL + "/", DurationSeconds: 1, Connections: 2, TestType: planner.Load,
	}))

	require.NoError(t, Stage{Driver: &Driver{}}.Run(context.Background(), env))

	res, err := LoadResult(env.Store)
	require.NoError(t, err)
	assert.Greater(t, res.TotalRequests, uint64(0))
	assert.Zero(t, res.Errors)
	assert.GreaterOrEqual(t, res.DurationSeconds, 1.0)
	assert.LessOrEqual(t, res.Latency.Min, res.Latency.P99)
}

func TestStageUnreachableWritesNothing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	env := stageEnv(t)
	require.NoError(t, env.Store.Write(artifact.TestResults, TestResult{TotalRequests: 1}))
	require.NoError(t, env.Store.Write(artifact.TestConfig, planner.TestConfig{
		URL: "http://" + addr, DurationSeconds: 5, Connections: 1, TestType: planner.Load,
	}))

	err = Stage{Driver: &Driver{}}.Run(context.Background(), env)
	assert.Equal(t, pipeline.KindExecution, pipeline.Classify(err))
	assert.False(t, env.Store.Exists(artifact.TestResults), "stale result removed, none written")
}

func TestStageMissingConfig(t *testing.T) {
	env := stageEnv(t)
	err := Stage{Driver: &Driver{}}.Run(context.Background(), env)
	assert.Equal(t, pipeline.KindInput, pipeline.Classify(err))
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
}
