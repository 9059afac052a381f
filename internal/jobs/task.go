// Package jobs connects the upload producer and the ingestion worker through an
// asynq (Redis) queue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
)

// TypeIngestPDF is the asynq task type for one uploaded PDF.
const TypeIngestPDF = "pdf:ingest"

var ErrInvalidPayload = errors.New("invalid upload job payload")

// BackoffPolicy controls the wait between failed attempts.
type BackoffPolicy struct {
	Type    string `json:"type"` // "exponential" or "fixed"
	DelayMs int64  `json:"delay"`
}

// RetryPolicy travels with the job so the server can honor per-job settings.
type RetryPolicy struct {
	Attempts int           `json:"attempts"`
	Backoff  BackoffPolicy `json:"backoff"`
	DelayMs  int64         `json:"delay"` // initial scheduling delay
}

// DefaultRetryPolicy is three attempts, exponential backoff from two seconds,
// first run after half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  BackoffPolicy{Type: "exponential", DelayMs: 2000},
		DelayMs:  500,
	}
}

// UploadJob is the task payload written by the upload handler.
type UploadJob struct {
	UserID       string      `json:"userId"`
	Filename     string      `json:"filename"`
	Destination  string      `json:"destination"`
	Path         string      `json:"path"`
	UploadedAtMs int64       `json:"uploadedAtMs"`
	Retry        RetryPolicy `json:"retry"`
}

// Validate rejects payloads the worker cannot act on.
func (j UploadJob) Validate() error {
	switch {
	case j.UserID == "":
		return fmt.Errorf("%w: userId is empty", ErrInvalidPayload)
	case j.Filename == "":
		return fmt.Errorf("%w: filename is empty", ErrInvalidPayload)
	case j.Path == "":
		return fmt.Errorf("%w: path is empty", ErrInvalidPayload)
	case !filepath.IsAbs(j.Path):
		return fmt.Errorf("%w: path %q is not absolute", ErrInvalidPayload, j.Path)
	case j.UploadedAtMs <= 0:
		return fmt.Errorf("%w: uploadedAtMs must be positive", ErrInvalidPayload)
	case j.Retry.Attempts < 0:
		return fmt.Errorf("%w: retry.attempts must not be negative", ErrInvalidPayload)
	}
	return nil
}

// UploadedAt is the ingestion start time every attempt derives names from.
func (j UploadJob) UploadedAt() time.Time {
	return time.UnixMilli(j.UploadedAtMs)
}

// DecodeUploadJob parses and validates a task payload. On a validation error
// the partially decoded job is still returned for logging.
func DecodeUploadJob(payload []byte) (UploadJob, error) {
	var job UploadJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}

// withDefaults fills unset retry fields.
func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Backoff.Type == "" {
		p.Backoff.Type = def.Backoff.Type
	}
	if p.Backoff.DelayMs <= 0 {
		p.Backoff.DelayMs = def.Backoff.DelayMs
	}
	if p.DelayMs <= 0 {
		p.DelayMs = def.DelayMs
	}
	return p
}

// EnqueueOptions are the queue-wide settings applied to every task.
type EnqueueOptions struct {
	Queue     string
	Retry     RetryPolicy
	Timeout   time.Duration
	Retention time.Duration
}

// NewIngestTask builds the asynq task and its options for job.
func NewIngestTask(job UploadJob, opts EnqueueOptions) (*asynq.Task, []asynq.Option, error) {
	job.Retry = job.Retry.withDefaults(opts.Retry)
	if err := job.Validate(); err != nil {
		return nil, nil, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal upload job: %w", err)
	}

	taskOpts := []asynq.Option{
		asynq.MaxRetry(job.Retry.Attempts - 1),
		asynq.ProcessIn(time.Duration(job.Retry.DelayMs) * time.Millisecond),
	}
	if opts.Queue != "" {
		taskOpts = append(taskOpts, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}
	if opts.Retention > 0 {
		taskOpts = append(taskOpts, asynq.Retention(opts.Retention))
	}

	return asynq.NewTask(TypeIngestPDF, payload), taskOpts, nil
}

// TaskEnqueuer is the subset of *asynq.Client used for enqueueing.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer submits upload jobs to the queue.
type Enqueuer struct {
	client TaskEnqueuer
	opts   EnqueueOptions
}

func NewEnqueuer(client TaskEnqueuer, opts EnqueueOptions) *Enqueuer {
	if opts.Retry.Attempts <= 0 {
		opts.Retry = opts.Retry.withDefaults(DefaultRetryPolicy())
	}
	return &Enqueuer{client: client, opts: opts}
}

// Enqueue submits job and returns the id clients poll the status endpoint with.
func (e *Enqueuer) Enqueue(ctx context.Context, job UploadJob) (string, error) {
	task, opts, err := NewIngestTask(job, e.opts)
	if err != nil {
		return "", err
	}

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TypeIngestPDF, err)
	}
	return info.ID, nil
}
