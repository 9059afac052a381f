package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrUnknownJob means the queue has no task with the requested id.
var ErrUnknownJob = errors.New("job not found")

// State is the client-facing lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Stages reported while a task waits in the queue. Any stage the worker
// recorded belongs to an earlier attempt and is not shown.
const (
	StageWaiting        = "waiting"
	StageRetryScheduled = "retry_scheduled"
)

// JobStatus is a read-only view of one job.
type JobStatus struct {
	ID          string     `json:"jobId"`
	State       State      `json:"state"`
	Stage       string     `json:"stage,omitempty"`
	Progress    int        `json:"progress"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	Error       string     `json:"error,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
}

// TaskInspector is the subset of *asynq.Inspector used for lookups.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// ProgressReader returns the last progress a worker recorded, or nil.
type ProgressReader interface {
	Get(ctx context.Context, jobID string) (*Progress, error)
}

// StatusReader projects queue state and recorded progress into a JobStatus.
// It never mutates either.
type StatusReader struct {
	inspector TaskInspector
	progress  ProgressReader
	queue     string
}

func NewStatusReader(inspector TaskInspector, progress ProgressReader, queue string) *StatusReader {
	if queue == "" {
		queue = "default"
	}
	return &StatusReader{inspector: inspector, progress: progress, queue: queue}
}

// Get returns the status of job id, or ErrUnknownJob.
func (r *StatusReader) Get(ctx context.Context, id string) (*JobStatus, error) {
	if id == "" {
		return nil, ErrUnknownJob
	}

	info, err := r.inspector.GetTaskInfo(r.queue, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrUnknownJob
		}
		return nil, fmt.Errorf("inspect job %s: %w", id, err)
	}

	var p *Progress
	if r.progress != nil {
		// Progress is advisory; a Redis hiccup still yields the queue state.
		p, _ = r.progress.Get(ctx, id)
	}
	return project(info, p), nil
}

func mapState(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		return StateQueued
	}
}

func project(info *asynq.TaskInfo, p *Progress) *JobStatus {
	st := &JobStatus{
		ID:          info.ID,
		State:       mapState(info.State),
		MaxAttempts: info.MaxRetry + 1,
		Error:       info.LastErr,
	}

	// Retried counts finished failures; a running or terminal task is on its next attempt.
	st.Attempts = info.Retried
	switch st.State {
	case StateActive, StateCompleted, StateFailed:
		st.Attempts = info.Retried + 1
	}

	switch {
	case info.State == asynq.TaskStateRetry:
		st.Stage = StageRetryScheduled
	case st.State == StateQueued:
		st.Stage = StageWaiting
	case p != nil:
		st.Stage = p.Stage
		st.Progress = p.Percent
	}

	if st.State == StateCompleted {
		st.Stage = "completed"
		st.Progress = 100
		st.Error = ""
		if len(info.Result) > 0 {
			var res JobResult
			if json.Unmarshal(info.Result, &res) == nil {
				st.Result = &res
			}
		}
	}
	return st
}
