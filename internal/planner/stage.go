package planner

import (
	"context"

	"go.uber.org/zap"

	"loadpilot/internal/artifact"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/workload"
)

// StageName identifies the derivation step in a pipeline run.
const StageName = "workload-derivation"

// Prompter collects the operator's choices once the baseline is known.
type Prompter interface {
	Ask(ctx context.Context, baselineTPS float64) (Answers, error)
}

// Projection renders a side artifact from the derived config for external
// tools. Projections are best effort: their failures never fail the stage.
type Projection func(store *artifact.Store, cfg TestConfig) error

// Stage reads the baseline, asks for target, share and test type, and
// persists the resulting TestConfig.
type Stage struct {
	Prompter    Prompter
	Projections []Projection
}

func (s Stage) Name() string { return StageName }

func (s Stage) Run(ctx context.Context, env pipeline.Env) error {
	log := env.Logger

	baseline, err := workload.LoadBaseline(env.Store)
	if err != nil {
		return err
	}

	answers, err := s.Prompter.Ask(ctx, baseline.TPS)
	if err != nil {
		return err
	}

	cfg, err := Derive(baseline, answers)
	if err != nil {
		return pipeline.Validation(err)
	}
	if err := env.Store.Write(artifact.TestConfig, cfg); err != nil {
		return err
	}

	log.Info("test configuration saved",
		zap.String("url", cfg.URL),
		zap.String("testType", string(cfg.TestType)),
		zap.Int("durationSeconds", cfg.DurationSeconds),
		zap.Int("connections", cfg.Connections),
		zap.Float64("targetTps", cfg.TargetTPS),
	)

	for _, project := range s.Projections {
		if err := project(env.Store, cfg); err != nil {
			log.Warn("projection failed, continuing", zap.Error(err))
		}
	}
	return nil
}

// LoadConfig reads the TestConfig artifact.
func LoadConfig(store *artifact.Store) (TestConfig, error) {
	var cfg TestConfig
	if err := store.Read(artifact.TestConfig, &cfg); err != nil {
		return TestConfig{}, pipeline.Input(err)
	}
	return cfg, nil
}
