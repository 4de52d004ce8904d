package workload

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"loadpilot/internal/artifact"
	"loadpilot/internal/pipeline"
)

// StageName identifies the analysis stage in a pipeline run.
const StageName = "log-analysis"

// Stage reads the production log, computes the baseline and persists it.
type Stage struct {
	// Source is the CSV log of past transactions.
	Source string
}

func (s Stage) Name() string { return StageName }

// Run writes the baseline artifact. An empty log is reported and ends the
// stage without an artifact, so whatever reads the baseline next fails.
func (s Stage) Run(ctx context.Context, env pipeline.Env) error {
	log := env.Logger

	f, err := os.Open(s.Source)
	if err != nil {
		return pipeline.Input(errors.Wrap(err, "open production log"))
	}
	defer f.Close()

	series, err := ReadTimestamps(f)
	if err != nil {
		return pipeline.Input(errors.Wrapf(err, "parse %s", s.Source))
	}

	baseline, err := Analyze(series)
	if errors.Is(err, ErrEmptyInput) {
		log.Warn("no data found in logs", zap.String("source", s.Source))
		return nil
	}
	if err != nil {
		return err
	}

	baseline = baseline.Rounded()
	if err := env.Store.Write(artifact.LogAnalysis, baseline); err != nil {
		return err
	}

	log.Info("log analysis results",
		zap.Int("totalTransactions", baseline.TotalEvents),
		zap.Float64("durationSeconds", baseline.WindowSeconds),
		zap.Float64("tps", baseline.TPS),
		zap.Float64("tpm", baseline.TPM),
		zap.String("artifact", env.Store.Path(artifact.LogAnalysis)),
	)
	return nil
}

// LoadBaseline reads the baseline artifact written by the analysis stage.
func LoadBaseline(store *artifact.Store) (Baseline, error) {
	var b Baseline
	if err := store.Read(artifact.LogAnalysis, &b); err != nil {
		return Baseline{}, pipeline.Input(err)
	}
	return b, nil
}
