package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/bull/pdfchat/internal/indexer"
)

const inFlightPageSize = 500

// TaskLister is the subset of *asynq.Inspector used to enumerate unfinished tasks.
type TaskLister interface {
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// InFlight is what unfinished ingestion tasks still own: the collections they
// write and the upload files they read.
type InFlight struct {
	Collections map[string]struct{}
	Paths       map[string]struct{}
}

func newInFlight() *InFlight {
	return &InFlight{Collections: map[string]struct{}{}, Paths: map[string]struct{}{}}
}

// HasCollection reports whether an unfinished task writes to the collection.
func (f *InFlight) HasCollection(name string) bool {
	_, ok := f.Collections[name]
	return ok
}

// HasPath reports whether an unfinished task reads the file.
func (f *InFlight) HasPath(path string) bool {
	_, ok := f.Paths[filepath.Clean(path)]
	return ok
}

func (f *InFlight) add(info *asynq.TaskInfo) {
	if info.Type != TypeIngestPDF {
		return
	}
	var job UploadJob
	if json.Unmarshal(info.Payload, &job) != nil || job.Path == "" {
		return
	}
	f.Paths[filepath.Clean(job.Path)] = struct{}{}
	if job.UploadedAtMs > 0 {
		f.Collections[indexer.CollectionName(job.UploadedAt(), job.Path)] = struct{}{}
	}
}

// InFlightScanner collects the pending, scheduled, retrying and active
// pdf:ingest tasks of one queue.
type InFlightScanner struct {
	lister TaskLister
	queue  string
}

func NewInFlightScanner(lister TaskLister, queue string) *InFlightScanner {
	if queue == "" {
		queue = "default"
	}
	return &InFlightScanner{lister: lister, queue: queue}
}

// InFlight pages through every unfinished task. Tasks move between states while
// the scan runs (retry and scheduled feed pending, pending feeds active), so the
// lists are read downstream of each other and active is read at both ends.
func (s *InFlightScanner) InFlight(ctx context.Context) (*InFlight, error) {
	set := newInFlight()
	lists := []struct {
		state string
		list  func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	}{
		{"active", s.lister.ListActiveTasks},
		{"retry", s.lister.ListRetryTasks},
		{"scheduled", s.lister.ListScheduledTasks},
		{"pending", s.lister.ListPendingTasks},
		{"active", s.lister.ListActiveTasks},
	}

	for _, l := range lists {
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tasks, err := l.list(s.queue, asynq.PageSize(inFlightPageSize), asynq.Page(page))
			if errors.Is(err, asynq.ErrQueueNotFound) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("list %s tasks: %w", l.state, err)
			}
			for _, info := range tasks {
				set.add(info)
			}
			if len(tasks) < inFlightPageSize {
				break
			}
		}
	}
	return set, nil
}
