package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"loadpilot/internal/logging"
)

// Status of a stage or a whole run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StageOutcome records how one stage ended.
type StageOutcome struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Run is the observable result of a pipeline run.
type Run struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Status        Status         `json:"status"`
	Stages        []StageOutcome `json:"stages"`
}

// Failed returns the outcome of the stage that aborted the run, if any.
func (r *Run) Failed() (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StageOutcome{}, false
}

// Summary renders the stage list with outcomes, one line per stage.
func (r *Run) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s\n", r.ID, r.Status)
	for i, s := range r.Stages {
		line := fmt.Sprintf("  %d. %-20s %-7s %s", i+1, s.Name, s.Status, s.Elapsed.Round(time.Millisecond))
		if s.Error != "" {
			line += "  " + s.Error
		}
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// StageError is returned by Coordinator.Run when a stage fails.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through to the stage's own error.
func (e *StageError) Cause() error { return e.Err }

// Coordinator executes stages strictly one after another.
type Coordinator struct {
	Env Env

	// Hooks observe stage boundaries, e.g. to print progress banners.
	OnStageStart func(name string)
	OnStageEnd   func(outcome StageOutcome)

	now func() time.Time
}

func NewCoordinator(env Env) *Coordinator {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	return &Coordinator{Env: env, now: time.Now}
}

// Run dispatches stages in order. The first failing stage ends the run:
// later stages are never started and nothing is rolled back.
func (c *Coordinator) Run(ctx context.Context, stages ...Stage) (*Run, error) {
	run := &Run{
		// v7 ids sort by creation time
		ID:            uuid.Must(uuid.NewV7()).String(),
		CorrelationID: c.Env.CorrelationID,
		StartedAt:     c.now(),
		Status:        StatusSuccess,
	}
	log := c.Env.Logger.With(zap.String("runId", run.ID))

	var runErr error
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = &StageError{Stage: stage.Name(), Err: err}
			run.Stages = append(run.Stages, StageOutcome{Name: stage.Name(), Status: StatusFailed, Error: err.Error()})
			run.Status = StatusFailed
			break
		}

		if c.OnStageStart != nil {
			c.OnStageStart(stage.Name())
		}
		log.Info("stage started", zap.String("stage", stage.Name()))

		start := c.now()
		err := c.runIsolated(ctx, stage)
		outcome := StageOutcome{
			Name:    stage.Name(),
			Status:  StatusSuccess,
			Elapsed: c.now().Sub(start),
		}
		if err != nil {
			outcome.Status = StatusFailed
			outcome.Error = err.Error()
		}
		run.Stages = append(run.Stages, outcome)

		if c.OnStageEnd != nil {
			c.OnStageEnd(outcome)
		}

		if err != nil {
			log.Error("stage failed", zap.String("stage", stage.Name()), zap.Error(err))
			run.Status = StatusFailed
			runErr = &StageError{Stage: stage.Name(), Err: err}
			break
		}
		log.Info("stage finished", zap.String("stage", stage.Name()), zap.Duration("elapsed", outcome.Elapsed))
	}

	run.FinishedAt = c.now()
	return run, runErr
}

// runIsolated runs the stage on its own goroutine and blocks until it
// terminates. A panic is contained to the stage and reported as its failure.
func (c *Coordinator) runIsolated(ctx context.Context, stage Stage) error {
	env := c.Env
	env.Logger = logging.ForStage(c.Env.Logger, stage.Name())

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				env.Logger.Error("stage panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				errc <- errors.Errorf("panic: %v", r)
			}
		}()
		errc <- stage.Run(ctx, env)
	}()
	return <-errc
}
