package indexer

import (
	"context"
	"errors"
	"fmt"
)

// Stage names one step of the ingestion state machine.
type Stage string

const (
	StageReceived           Stage = "received"
	StageFileVerifying      Stage = "file_verifying"
	StageLoading            Stage = "loading"
	StageChunking           Stage = "chunking"
	StageProvisioning       Stage = "provisioning"
	StageEmbeddingUpserting Stage = "embedding_upserting"
	StagePersistingMetadata Stage = "persisting_metadata"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// Progress is the percentage reported on entering a stage.
// embedding_upserting advances from 40 to 90 as batches complete.
func (s Stage) Progress() int {
	switch s {
	case StageReceived:
		return 0
	case StageFileVerifying:
		return 5
	case StageLoading:
		return 15
	case StageChunking:
		return 25
	case StageProvisioning:
		return 35
	case StageEmbeddingUpserting:
		return 40
	case StagePersistingMetadata:
		return 95
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// batchProgress interpolates embedding_upserting progress after done of total batches.
func batchProgress(done, total int) int {
	if total <= 0 {
		return StageEmbeddingUpserting.Progress()
	}
	return StageEmbeddingUpserting.Progress() + 50*done/total
}

// StageError records which stage failed and whether retrying could help.
type StageError struct {
	Stage Stage
	Fatal bool
	Err   error
}

func (e *StageError) Error() string {
	kind := "retryable"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("%s (%s): %v", e.Stage, kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// fatal marks a failure caused by the input itself. Cancellation is never fatal:
// the same input may well succeed once the worker is not shutting down.
func fatal(stage Stage, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retryable(stage, err)
	}
	return &StageError{Stage: stage, Fatal: true, Err: err}
}

func retryable(stage Stage, err error) error {
	return &StageError{Stage: stage, Fatal: false, Err: err}
}

// IsFatal reports whether err is a non-retryable ingestion failure.
// Errors that did not come from a stage are treated as retryable.
func IsFatal(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Fatal
	}
	return false
}

// FailedStage returns the stage that produced err, or "" if unknown.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// NewFatalError wraps an error that happened before the pipeline could start,
// such as an undecodable job payload.
func NewFatalError(err error) error {
	return &StageError{Stage: StageReceived, Fatal: true, Err: err}
}
