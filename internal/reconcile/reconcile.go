// Package reconcile deletes vector collections and upload files that no
// metadata record points to.
//
// Such orphans appear when a job upserts every batch and then fails to persist
// its metadata on the final attempt, when a task is archived after its last
// retry, or when a delete request removed the record but not the collection.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bull/pdfchat/internal/indexer"
	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/logger"
)

// CollectionStore lists and drops vector collections.
type CollectionStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
}

// RecordChecker reports whether a metadata record references a collection or an upload file.
type RecordChecker interface {
	Exists(ctx context.Context, collectionName string) (bool, error)
	FileReferenced(ctx context.Context, path string) (bool, error)
}

// InFlightSource reports what unfinished ingestion jobs still own.
type InFlightSource interface {
	InFlight(ctx context.Context) (*jobs.InFlight, error)
}

// Options controls one sweep.
type Options struct {
	// Grace skips collections and files younger than this.
	Grace  time.Duration
	DryRun bool
	// UploadDir, when set, is also swept for files no record and no job refers to.
	UploadDir string
}

// Failure is a collection or file the sweep could not check or delete.
type Failure struct {
	Name   string
	Reason string
}

// FileReport summarizes the upload directory part of a sweep.
type FileReport struct {
	Scanned int
	Orphans []string
	Deleted []string
}

// Report summarizes a sweep.
type Report struct {
	Scanned  int      // every collection in the store
	Eligible int      // pipeline-named and older than the grace period
	InFlight []string // eligible but still written by a queued, retrying or active job
	Orphans  []string // eligible with no metadata record and no job
	Deleted  []string
	Files    FileReport
	Failed   []Failure
	Duration time.Duration
}

// Reconciler runs orphan sweeps.
type Reconciler struct {
	collections CollectionStore
	records     RecordChecker
	inflight    InFlightSource
	logger      *logger.Logger
	now         func() time.Time
}

func New(collections CollectionStore, records RecordChecker, inflight InFlightSource, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		collections: collections,
		records:     records,
		inflight:    inflight,
		logger:      log.With("component", "Reconciler"),
		now:         time.Now,
	}
}

// Run scans every collection once, then the upload directory if one is set.
// Per-item errors are collected in the report; failing to list collections,
// files or unfinished jobs aborts the sweep.
//
// Collection names carry the enqueue time, not the time the job last ran, so a
// job that sat in a backlog or kept retrying can own a collection older than
// the grace period. Anything an unfinished job still owns is skipped.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Report, error) {
	start := r.now()
	cutoff := start.Add(-opts.Grace)

	names, err := r.collections.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	owned, err := r.inflight.InFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}

	report := &Report{Scanned: len(names)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		createdAt, ok := indexer.ParseCollectionTime(name)
		if !ok || createdAt.After(cutoff) {
			continue
		}
		report.Eligible++

		if owned.HasCollection(name) {
			report.InFlight = append(report.InFlight, name)
			r.logger.Debug("Collection belongs to an unfinished job", "collection", name)
			continue
		}

		exists, err := r.records.Exists(ctx, name)
		if err != nil {
			report.Failed = append(report.Failed, Failure{Name: name, Reason: err.Error()})
			r.logger.Warn("Failed to check metadata", "collection", name, "error", err)
			continue
		}
		if exists {
			continue
		}

		report.Orphans = append(report.Orphans, name)
		if opts.DryRun {
			r.logger.Info("Orphaned collection (dry run)", "collection", name, "created_at", createdAt)
			continue
		}

		if err := r.collections.DeleteCollection(ctx, name); err != nil {
			report.Failed = append(report.Failed, Failure{Name: name, Reason: err.Error()})
			r.logger.Warn("Failed to delete orphaned collection", "collection", name, "error", err)
			continue
		}
		report.Deleted = append(report.Deleted, name)
		r.logger.Info("Deleted orphaned collection", "collection", name, "created_at", createdAt)
	}

	if opts.UploadDir != "" {
		if err := r.sweepFiles(ctx, opts, cutoff, owned, report); err != nil {
			return report, err
		}
	}

	report.Duration = r.now().Sub(start)
	return report, nil
}

// sweepFiles removes uploads left behind by jobs that ended without a record,
// such as tasks archived after their last retry.
func (r *Reconciler) sweepFiles(ctx context.Context, opts Options, cutoff time.Time, owned *jobs.InFlight, report *Report) error {
	dir, err := filepath.Abs(opts.UploadDir)
	if err != nil {
		return fmt.Errorf("resolve upload dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list upload dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		report.Files.Scanned++

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				report.Failed = append(report.Failed, Failure{Name: path, Reason: err.Error()})
			}
			continue
		}
		if info.ModTime().After(cutoff) || owned.HasPath(path) {
			continue
		}

		referenced, err := r.records.FileReferenced(ctx, path)
		if err != nil {
			report.Failed = append(report.Failed, Failure{Name: path, Reason: err.Error()})
			r.logger.Warn("Failed to check metadata", "path", path, "error", err)
			continue
		}
		if referenced {
			continue
		}

		report.Files.Orphans = append(report.Files.Orphans, path)
		if opts.DryRun {
			r.logger.Info("Orphaned upload (dry run)", "path", path, "modified", info.ModTime())
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			report.Failed = append(report.Failed, Failure{Name: path, Reason: err.Error()})
			r.logger.Warn("Failed to delete orphaned upload", "path", path, "error", err)
			continue
		}
		report.Files.Deleted = append(report.Files.Deleted, path)
		r.logger.Info("Deleted orphaned upload", "path", path)
	}
	return nil
}
