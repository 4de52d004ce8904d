package pipeline

import (
	"github.com/pkg/errors"
)

// Kind classifies why a stage failed.
type Kind string

const (
	// KindInput covers missing, empty or malformed source data and config.
	KindInput Kind = "InputError"
	// KindValidation covers rejected user input.
	KindValidation Kind = "ValidationError"
	// KindExecution covers the load generator failing mid-run.
	KindExecution Kind = "ExecutionError"
	KindUnknown   Kind = "Error"
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Cause() error  { return e.err }

// Mark tags err with a failure kind. Marking nil returns nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Input marks err as an InputError.
func Input(err error) error { return Mark(KindInput, err) }

// Validation marks err as a ValidationError.
func Validation(err error) error { return Mark(KindValidation, err) }

// Execution marks err as an ExecutionError.
func Execution(err error) error { return Mark(KindExecution, err) }

// Classify returns the kind of the outermost marked error in err's chain.
func Classify(err error) Kind {
	var k *kindError
	if errors.As(err, &k) {
		return k.kind
	}
	return KindUnknown
}
