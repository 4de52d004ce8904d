// Package pipeline runs stages in order over a shared artifact directory,
// stopping the whole run at the first stage that fails.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"loadpilot/internal/artifact"
)

// Environment variables handed to stages running as child processes.
const (
	EnvDir           = "LOADPILOT_DIR"
	EnvCorrelationID = "LOADPILOT_CORRELATION_ID"
)

// Env is everything a stage may depend on. Stages get no other shared state:
// their inputs and outputs go through Store.
type Env struct {
	Store         *artifact.Store
	Logger        *zap.Logger
	CorrelationID string
}

// Stage is one isolated unit of work in a pipeline run.
type Stage interface {
	Name() string
	Run(ctx context.Context, env Env) error
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, env Env) error
}

// Func adapts a function into a Stage.
func Func(name string, fn func(ctx context.Context, env Env) error) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Run(ctx context.Context, env Env) error {
	return s.fn(ctx, env)
}

// ExecStage runs a stage as a separate process. The stage succeeds iff the
// process exits zero.
type ExecStage struct {
	StageName string
	Path      string
	Args      []string

	Stdout io.Writer
	Stderr io.Writer
}

// Exec returns a stage that runs argv as a child process.
func Exec(name string, argv ...string) *ExecStage {
	s := &ExecStage{StageName: name}
	if len(argv) > 0 {
		s.Path = argv[0]
		s.Args = argv[1:]
	}
	return s
}

func (s *ExecStage) Name() string { return s.StageName }

func (s *ExecStage) Run(ctx context.Context, env Env) error {
	if s.Path == "" {
		return errors.Errorf("stage %s: no command", s.StageName)
	}

	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = orDefault(s.Stdout, os.Stdout)
	cmd.Stderr = orDefault(s.Stderr, os.Stderr)
	cmd.Env = os.Environ()
	if env.Store != nil {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", EnvDir, env.Store.Dir()))
	}
	if env.CorrelationID != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", EnvCorrelationID, env.CorrelationID))
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %s", s.StageName)
	}
	err := cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return err
}

// ExitError reports a stage process that terminated with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exited with code %d", e.Code)
}

func orDefault(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
