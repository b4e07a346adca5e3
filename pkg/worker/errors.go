package worker

import (
	"errors"
	"fmt"
)

// Stage names one step of the per-payload pipeline.
type Stage string

const (
	StageRead     Stage = "read"
	StageSource   Stage = "source"
	StageScan     Stage = "scan"
	StageDispatch Stage = "dispatch"
	StageCarve    Stage = "carve"
	StageDecode   Stage = "decode"
	StageExtract  Stage = "extract"
	StageArchive  Stage = "archive"
	StageDecorate Stage = "decorate"
	StageSave     Stage = "save"
	StageTemplate Stage = "template"
)

var (
	// ErrStageFailure marks an error absorbed at a stage boundary.
	ErrStageFailure = errors.New("stage failed")

	// ErrRecursionGuard marks work skipped to prevent unbounded recursion:
	// re-entry of an in-progress worker, depth overflow or repeated content.
	ErrRecursionGuard = errors.New("recursion guard")

	// ErrUnresolvedPayload is reported when a request resolves no payload.
	ErrUnresolvedPayload = errors.New("no payload resolved")

	// ErrPluginPanic wraps a panic recovered from a plugin call.
	ErrPluginPanic = errors.New("plugin panicked")
)

// StageError is a failure of one plugin in one stage.
type StageError struct {
	Stage  Stage
	Plugin string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Plugin, e.Err)
}

// Unwrap lets errors.Is match both ErrStageFailure and the cause.
func (e *StageError) Unwrap() []error {
	return []error{ErrStageFailure, e.Err}
}

func stageError(stage Stage, plugin string, err error) *StageError {
	return &StageError{Stage: stage, Plugin: plugin, Err: err}
}

// call runs one plugin call and converts a panic into ErrPluginPanic.
func call[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, err = zero, fmt.Errorf("%w: %v", ErrPluginPanic, r)
		}
	}()
	return fn()
}
