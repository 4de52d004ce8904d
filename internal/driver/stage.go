package driver

import (
	"context"

	"go.uber.org/zap"

	"loadpilot/internal/artifact"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
)

const StageName = "test-execution"

// Stage runs the configured load test and persists the result only when
// the run completes cleanly.
type Stage struct {
	Driver *Driver
}

func (s Stage) Name() string { return StageName }

func (s Stage) Run(ctx context.Context, env pipeline.Env) error {
	cfg, err := planner.LoadConfig(env.Store)
	if err != nil {
		return err
	}
	if err := env.Store.Remove(artifact.TestResults); err != nil {
		return err
	}

	d := *s.Driver
	d.Logger = env.Logger

	res, err := d.Execute(ctx, cfg)
	if err != nil {
		return err
	}
	if err := env.Store.Write(artifact.TestResults, res); err != nil {
		return err
	}
	env.Logger.Info("results saved", zap.String("path", env.Store.Path(artifact.TestResults)))
	return nil
}

// LoadResult reads the TestResult artifact.
func LoadResult(store *artifact.Store) (TestResult, error) {
	var res TestResult
	if err := store.Read(artifact.TestResults, &res); err != nil {
		return TestResult{}, pipeline.Input(err)
	}
	return res, nil
}
