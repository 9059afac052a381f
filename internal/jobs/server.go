package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bull/pdfchat/internal/indexer"
	"github.com/bull/pdfchat/internal/logger"
)

// maxRetryDelay caps exponential growth for jobs configured with many attempts.
const maxRetryDelay = time.Hour

// IngestRunner is the part of *indexer.Pipeline the handler drives.
type IngestRunner interface {
	Run(ctx context.Context, job indexer.Job, progress indexer.ProgressFunc) (*indexer.Result, error)
}

// ProgressWriter records stage transitions for the status endpoint.
type ProgressWriter interface {
	Set(ctx context.Context, jobID string, p Progress) error
}

// Handler processes pdf:ingest tasks.
type Handler struct {
	runner   IngestRunner
	progress ProgressWriter
	log      *logger.Logger
}

func NewHandler(runner IngestRunner, progress ProgressWriter, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{runner: runner, progress: progress, log: log.With("component", "IngestHandler")}
}

// attempt is the queue's view of the current delivery.
type attempt struct {
	jobID    string
	retried  int
	maxRetry int
}

// ProcessTask implements asynq.Handler.
//
// Fatal errors are wrapped with asynq.SkipRetry so the task is archived at once.
// Retryable errors are returned unchanged and asynq schedules the next attempt.
// The handler never removes files itself: a rejected payload names a path the
// worker has no reason to trust, and a task archived after its last retry can
// still be re-run by hand. Unreferenced uploads are swept by reconcile.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var a attempt
	a.jobID, _ = asynq.GetTaskID(ctx)
	a.retried, _ = asynq.GetRetryCount(ctx)
	a.maxRetry, _ = asynq.GetMaxRetry(ctx)
	return h.process(ctx, t, a)
}

func (h *Handler) process(ctx context.Context, t *asynq.Task, a attempt) error {
	log := h.log.With("job_id", a.jobID, "attempt", a.retried+1, "max_attempts", a.maxRetry+1)

	job, err := DecodeUploadJob(t.Payload())
	if err != nil {
		log.Error("Rejecting malformed job", "path", job.Path, "error", err)
		return fmt.Errorf("%w: %w", indexer.NewFatalError(err), asynq.SkipRetry)
	}

	result, err := h.runner.Run(ctx, indexer.Job{
		ID:         a.jobID,
		UserID:     job.UserID,
		Filename:   job.Filename,
		Path:       job.Path,
		UploadedAt: job.UploadedAt(),
	}, h.progressFunc(a.jobID, log))
	if err != nil {
		if indexer.IsFatal(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		if a.retried >= a.maxRetry {
			log.Warn("Final attempt failed, keeping source file for a manual re-run", "path", job.Path, "error", err)
		}
		return err
	}

	h.writeResult(t, result, log)
	return nil
}

// progressFunc persists progress without ever failing the job.
func (h *Handler) progressFunc(jobID string, log *logger.Logger) indexer.ProgressFunc {
	return func(stage indexer.Stage, percent int) {
		if h.progress == nil || jobID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.progress.Set(ctx, jobID, Progress{Stage: string(stage), Percent: percent}); err != nil {
			log.Warn("Failed to record progress", "stage", stage, "error", err)
		}
	}
}

// JobResult is stored as the asynq task result of a completed job.
type JobResult struct {
	CollectionName string `json:"collectionName"`
	ChunkCount     int    `json:"chunkCount"`
}

func (h *Handler) writeResult(t *asynq.Task, result *indexer.Result, log *logger.Logger) {
	w := t.ResultWriter()
	if w == nil {
		return
	}
	raw, err := json.Marshal(JobResult{CollectionName: result.CollectionName, ChunkCount: result.ChunkCount})
	if err != nil {
		log.Warn("Failed to encode job result", "error", err)
		return
	}
	if _, err := w.Write(raw); err != nil {
		log.Warn("Failed to write job result", "error", err)
	}
}

// RetryDelay computes the wait before retry n+1 from the job's own backoff
// policy: delay * 2^n for exponential, delay for fixed.
func RetryDelay(fallback BackoffPolicy) asynq.RetryDelayFunc {
	return func(n int, _ error, t *asynq.Task) time.Duration {
		policy := fallback
		var job UploadJob
		if t != nil && json.Unmarshal(t.Payload(), &job) == nil && job.Retry.Backoff.DelayMs > 0 {
			policy = job.Retry.Backoff
		}
		return backoffDelay(policy, n)
	}
}

func backoffDelay(policy BackoffPolicy, n int) time.Duration {
	base := time.Duration(policy.DelayMs) * time.Millisecond
	if base <= 0 {
		base = 2 * time.Second
	}
	if policy.Type == "fixed" || n <= 0 {
		return min(base, maxRetryDelay)
	}
	if n > 30 {
		return maxRetryDelay
	}
	return min(base<<uint(n), maxRetryDelay)
}

// ServerConfig configures the worker process.
type ServerConfig struct {
	Queue           string
	Concurrency     int
	DefaultBackoff  BackoffPolicy
	ShutdownTimeout time.Duration
}

// Server runs the asynq worker for pdf:ingest tasks.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *logger.Logger
}

func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig, handler *Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	log = log.With("component", "JobServer")

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		RetryDelayFunc:  RetryDelay(cfg.DefaultBackoff),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log.SugaredLogger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			switch {
			case errors.Is(err, asynq.SkipRetry):
				log.Error("Job failed permanently", "job_id", id, "type", t.Type(), "error", err)
			case retried >= maxRetry:
				log.Error("Job failed, retries exhausted", "job_id", id, "type", t.Type(), "error", err)
			default:
				log.Warn("Job attempt failed, will retry", "job_id", id, "type", t.Type(), "retried", retried, "error", err)
			}
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeIngestPDF, handler)

	return &Server{srv: srv, mux: mux, log: log}
}

// Run blocks processing tasks until SIGINT/SIGTERM.
func (s *Server) Run() error {
	s.log.Info("Starting ingestion worker")
	return s.srv.Run(s.mux)
}

// Start processes tasks in the background; pair with Shutdown.
func (s *Server) Start() error {
	return s.srv.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
