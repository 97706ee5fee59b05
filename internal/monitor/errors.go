package monitor

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the loop reports wraps exactly one of these, so
// callers can match with [errors.Is] without knowing the stage.
var (
	// ErrCapture means the audio device was unavailable, busy or returned no
	// data.
	ErrCapture = errors.New("monitor: capture failed")

	// ErrClassification means preprocessing or model inference failed.
	ErrClassification = errors.New("monitor: classification failed")

	// ErrNotification means a side notification could not be delivered.
	ErrNotification = errors.New("monitor: notification failed")

	// ErrLog means the durable log sink rejected a record.
	ErrLog = errors.New("monitor: log append failed")
)

// Stage names one step of the monitoring pipeline.
type Stage string

// Pipeline stages.
const (
	StageCapture    Stage = "capture"
	StagePreprocess Stage = "preprocess"
	StageClassify   Stage = "classify"
	StageLog        Stage = "log"
	StageNotify     Stage = "notify"
)

// kind maps a stage to its error kind.
func (s Stage) kind() error {
	switch s {
	case StageCapture:
		return ErrCapture
	case StagePreprocess, StageClassify:
		return ErrClassification
	case StageNotify:
		return ErrNotification
	default:
		return ErrLog
	}
}

// StageError is a pipeline failure annotated with the stage it happened in.
// It matches both its stage's kind sentinel and the underlying cause:
//
//	var se *monitor.StageError
//	if errors.As(err, &se) && se.Stage == monitor.StageCapture { ... }
//	errors.Is(err, monitor.ErrCapture) // true
type StageError struct {
	Stage Stage
	Err   error
}

func stageErr(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("monitor: %s: %v", e.Stage, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Stage.kind(), e.Err}
}
