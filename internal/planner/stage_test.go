package planner

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"loadpilot/internal/artifact"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/workload"
)

type fixedPrompter struct {
	answers Answers
	err     error
	gotTPS  float64
}

func (p *fixedPrompter) Ask(_ context.Context, tps float64) (Answers, error) {
	p.gotTPS = tps
	return p.answers, p.err
}

func newEnv(t *testing.T) (pipeline.Env, *observer.ObservedLogs) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	core, logs := observer.New(zap.InfoLevel)
	return pipeline.Env{Store: store, Logger: zap.New(core)}, logs
}

func TestStageDerivesAndPersists(t *testing.T) {
	env, _ := newEnv(t)
	require.NoError(t, env.Store.Write(artifact.LogAnalysis, workload.Baseline{TotalEvents: 1000, WindowSeconds: 100, TPS: 10, TPM: 600}))

	p := &fixedPrompter{answers: Answers{URL: "http://localhost:9000/", Percentage: 50, TestType: Load}}
	var projected TestConfig
	stage := Stage{
		Prompter: p,
		Projections: []Projection{func(_ *artifact.Store, cfg TestConfig) error {
			projected = cfg
			return nil
		}},
	}

	require.NoError(t, stage.Run(context.Background(), env))
	assert.Equal(t, 10.0, p.gotTPS)

	cfg, err := LoadConfig(env.Store)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Connections)
	assert.Equal(t, 3600, cfg.DurationSeconds)
	assert.Equal(t, 5.0, cfg.TargetTPS)
	assert.Equal(t, cfg, projected)
}

func TestStageProjectionFailureIsNotFatal(t *testing.T) {
	env, logs := newEnv(t)
	require.NoError(t, env.Store.Write(artifact.LogAnalysis, workload.Baseline{TPS: 2}))

	stage := Stage{
		Prompter: &fixedPrompter{answers: Answers{URL: DefaultURL, Percentage: 100, TestType: Stress}},
		Projections: []Projection{func(*artifact.Store, TestConfig) error {
			return errors.New("disk full")
		}},
	}

	require.NoError(t, stage.Run(context.Background(), env))
	assert.True(t, env.Store.Exists(artifact.TestConfig))
	assert.Equal(t, 1, logs.FilterMessage("projection failed, continuing").Len())
}

func TestStageMissingBaseline(t *testing.T) {
	env, _ := newEnv(t)
	p := &fixedPrompter{answers: Answers{URL: DefaultURL, Percentage: 100, TestType: Load}}

	err := Stage{Prompter: p}.Run(context.Background(), env)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindInput, pipeline.Classify(err))
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
	assert.False(t, env.Store.Exists(artifact.TestConfig))
}

func TestStagePromptError(t *testing.T) {
	env, _ := newEnv(t)
	require.NoError(t, env.Store.Write(artifact.LogAnalysis, workload.Baseline{TPS: 2}))
	aborted := errors.New("aborted")

	err := Stage{Prompter: &fixedPrompter{err: aborted}}.Run(context.Background(), env)
	assert.True(t, errors.Is(err, aborted))
}

func TestStageInvalidAnswers(t *testing.T) {
	env, _ := newEnv(t)
	require.NoError(t, env.Store.Write(artifact.LogAnalysis, workload.Baseline{TPS: 2}))

	err := Stage{Prompter: &fixedPrompter{answers: Answers{URL: DefaultURL, Percentage: 0}}}.Run(context.Background(), env)
	assert.Equal(t, pipeline.KindValidation, pipeline.Classify(err))
}
