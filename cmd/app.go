package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"loadpilot/internal/artifact"
	"loadpilot/internal/cli"
	"loadpilot/internal/driver"
	"loadpilot/internal/logging"
	"loadpilot/internal/metrics"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/styles"
)

// app holds what every command needs once config is loaded.
type app struct {
	log     *zap.Logger
	store   *artifact.Store
	metrics *metrics.Collector
	out     io.Writer

	correlationID string
}

func newApp() (*app, error) {
	correlationID := os.Getenv(pipeline.EnvCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	log, err := logging.New(logging.Options{
		Service:       "loadpilot",
		CorrelationID: correlationID,
		Level:         conf.Log.Level,
		Format:        conf.Log.Format,
		File:          conf.Log.File,
	})
	if err != nil {
		return nil, err
	}

	store, err := artifact.NewStore(conf.Dir)
	if err != nil {
		return nil, err
	}

	return &app{log: log, store: store, metrics: metrics.New(), out: os.Stdout, correlationID: correlationID}, nil
}

// serveMetrics exposes the collectors on metrics.addr until ctx is done.
// Agents never call it: they inherit the parent's address.
func (a *app) serveMetrics(ctx context.Context) {
	if conf.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, conf.Metrics.Addr, a.metrics, a.log); err != nil {
			a.log.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
}

func (a *app) env() pipeline.Env {
	return pipeline.Env{Store: a.store, Logger: a.log, CorrelationID: a.correlationID}
}

// driver builds the test driver. The live progress line is only drawn on a
// terminal.
func (a *app) driver() *driver.Driver {
	d := &driver.Driver{
		Metrics:      a.metrics,
		Timeout:      conf.Timeout,
		MaxRPS:       conf.MaxRPS,
		Insecure:     conf.Insecure,
		RampInterval: conf.Ramp.Interval,
	}
	if interactive(os.Stdout) {
		d.Monitor = cli.Monitor(a.out)
	}
	return d
}

// coordinator wires stage hooks to the console and the stage counter.
func (a *app) coordinator() *pipeline.Coordinator {
	c := pipeline.NewCoordinator(a.env())
	c.OnStageStart = func(name string) {
		fmt.Fprintln(a.out, styles.Title.Render(fmt.Sprintf("--- Running %s ---", name)))
	}
	c.OnStageEnd = func(o pipeline.StageOutcome) {
		a.metrics.ObserveStage(o.Name, string(o.Status))
	}
	return c
}

func (a *app) close() {
	_ = a.log.Sync()
}

func interactive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
