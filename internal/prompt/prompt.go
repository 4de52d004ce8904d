// Package prompt collects the operator's answers for a derivation: the target
// URL, the share of the baseline to replay and the test type.
package prompt

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
)

// ErrAborted is returned when the operator cancels the form.
var ErrAborted = errors.New("prompt aborted by operator")

// Static answers without asking, for non-interactive runs.
type Static struct {
	Answers planner.Answers
}

func (s Static) Ask(_ context.Context, _ float64) (planner.Answers, error) {
	a := s.Answers
	if a.URL == "" {
		a.URL = planner.DefaultURL
	}
	if a.TestType == "" {
		a.TestType = planner.Load
	}
	return a, nil
}

// Interactive runs the form on a terminal.
type Interactive struct {
	In  io.Reader
	Out io.Writer
}

func (p Interactive) Ask(ctx context.Context, baselineTPS float64) (planner.Answers, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}

	final, err := tea.NewProgram(NewModel(baselineTPS), opts...).Run()
	if err != nil {
		return planner.Answers{}, pipeline.Input(errors.Wrap(err, "run prompt"))
	}
	m := final.(Model)
	if m.Aborted() {
		return planner.Answers{}, pipeline.Input(ErrAborted)
	}
	return m.Answers(), nil
}
