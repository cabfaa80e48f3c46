package execution

import (
	"context"
	"errors"
	"fmt"
)

// The three error families of the engine. Each is absorbed at exactly one
// level: a JobError becomes a failed JobResult, a StageError a failed
// StageResult, a PipelineError a failed PipelineResult. Anything else
// (including context cancellation) escapes to the HTTP layer.

// JobError reports a job that failed its contract.
type JobError struct {
	Message string
}

func (e *JobError) Error() string { return e.Message }

// Jobf builds a JobError.
func Jobf(format string, args ...any) error {
	return &JobError{Message: fmt.Sprintf(format, args...)}
}

// IsJobError reports whether err belongs to the job error family. A
// cancelled context is never a job failure.
func IsJobError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var je *JobError
	return errors.As(err, &je)
}

// StageError reports a stage whose own machinery failed (not any job).
type StageError struct {
	Message string
}

func (e *StageError) Error() string { return e.Message }

// Stagef builds a StageError.
func Stagef(format string, args ...any) error {
	return &StageError{Message: fmt.Sprintf(format, args...)}
}

// IsStageError reports whether err belongs to the stage error family.
func IsStageError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StageError
	return errors.As(err, &se)
}

// PipelineError reports pipeline machinery failure.
type PipelineError struct {
	Message string
}

func (e *PipelineError) Error() string { return e.Message }

// Pipelinef builds a PipelineError.
func Pipelinef(format string, args ...any) error {
	return &PipelineError{Message: fmt.Sprintf(format, args...)}
}

// IsPipelineError reports whether err belongs to the pipeline error family.
func IsPipelineError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *PipelineError
	return errors.As(err, &pe)
}
