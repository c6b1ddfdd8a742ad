package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrNoImage        = errors.New("no image provided")
	ErrInvalidRequest = errors.New("invalid request")
	ErrCritical       = errors.New("critical pipeline failure")
	ErrChannelsFailed = errors.New("one or more channels failed to post")
)

// StageError is a stage failure. Fatal failures abort the run.
type StageError struct {
	Stage Stage
	Fatal bool
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("failed at %s step: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func fatal(stage Stage, err error) error {
	return &StageError{Stage: stage, Fatal: true, Err: err}
}

// IsFatal reports whether err aborted a run at a stage.
func IsFatal(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Fatal
}
