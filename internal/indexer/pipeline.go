// Package indexer runs the ingestion state machine for one uploaded PDF:
// verify, load, chunk, provision, embed and upsert, persist metadata.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/logger"
	"github.com/bull/pdfchat/internal/metadata"
	"github.com/bull/pdfchat/internal/pdf"
)

// FileVerifier blocks until an uploaded file is complete on disk.
type FileVerifier interface {
	Wait(ctx context.Context, path string) (int64, error)
}

// DocumentLoader extracts page text from a file.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*pdf.Document, error)
}

// LoaderFunc adapts a function such as pdf.Load to DocumentLoader.
type LoaderFunc func(ctx context.Context, path string) (*pdf.Document, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (*pdf.Document, error) {
	return f(ctx, path)
}

// VectorStore is the part of the vector database the pipeline writes to.
type VectorStore interface {
	CollectionEnsurer
	PointWriter
}

// MetadataWriter persists the record of a completed ingestion.
type MetadataWriter interface {
	Insert(ctx context.Context, doc *metadata.Document) error
}

// ProgressFunc receives stage transitions and progress percentages.
type ProgressFunc func(stage Stage, percent int)

// Job is one ingestion request, already decoded and validated.
type Job struct {
	ID         string
	UserID     string
	Filename   string // name the user uploaded
	Path       string // where the upload handler stored it
	UploadedAt time.Time
}

// Result describes a completed ingestion.
type Result struct {
	CollectionName    string        `json:"collectionName"`
	ChunkCount        int           `json:"chunkCount"`
	PageCount         int           `json:"pageCount"`
	CollectionCreated bool          `json:"collectionCreated"`
	Duration          time.Duration `json:"duration"`
}

// Components are the collaborators a Pipeline sequences.
type Components struct {
	Verifier  FileVerifier
	Loader    DocumentLoader
	Splitter  *chunker.Splitter
	Store     VectorStore
	Embedder  Embedder
	Metadata  MetadataWriter
	BatchSize int
	// UploadDir confines the files a job may read and remove. Empty allows
	// any absolute path.
	UploadDir string
}

// Pipeline orchestrates the ingestion of a single document.
type Pipeline struct {
	verifier    FileVerifier
	loader      DocumentLoader
	splitter    *chunker.Splitter
	provisioner *Provisioner
	batcher     *Batcher
	meta        MetadataWriter
	uploadDir   string
	logger      *logger.Logger
}

// ErrOutsideUploadDir rejects a job whose file is not under the upload directory.
var ErrOutsideUploadDir = errors.New("path is outside the upload directory")

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(c Components, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	if c.Loader == nil {
		c.Loader = LoaderFunc(pdf.Load)
	}
	if c.UploadDir != "" {
		if abs, err := filepath.Abs(c.UploadDir); err == nil {
			c.UploadDir = abs
		}
	}
	return &Pipeline{
		verifier:    c.Verifier,
		loader:      c.Loader,
		splitter:    c.Splitter,
		provisioner: NewProvisioner(c.Store),
		batcher:     NewBatcher(c.Embedder, c.Store, c.BatchSize),
		meta:        c.Metadata,
		uploadDir:   c.UploadDir,
		logger:      log.With("component", "IngestPipeline"),
	}
}

// Run drives job through every stage. The returned error, if any, is a
// *StageError; use IsFatal to decide whether the job should be retried.
// On a fatal error the source file is removed.
func (p *Pipeline) Run(ctx context.Context, job Job, progress ProgressFunc) (*Result, error) {
	start := time.Now()
	log := p.logger.With("job_id", job.ID, "path", job.Path)
	report := func(stage Stage, percent int) {
		if progress != nil {
			progress(stage, percent)
		}
	}

	report(StageReceived, StageReceived.Progress())
	log.Info("Starting ingestion", "user_id", job.UserID, "filename", job.Filename)

	result, err := p.run(ctx, job, log, report)
	if err != nil {
		stage := FailedStage(err)
		report(StageFailed, stage.Progress())
		if IsFatal(err) {
			log.Error("Ingestion failed, input cannot be processed", "stage", stage, "error", err)
			p.Cleanup(job.Path)
		} else {
			log.Warn("Ingestion failed, retryable", "stage", stage, "error", err)
		}
		return nil, err
	}

	result.Duration = time.Since(start)
	report(StageCompleted, StageCompleted.Progress())
	log.Info("Ingestion complete",
		"collection", result.CollectionName,
		"chunks", result.ChunkCount,
		"pages", result.PageCount,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, job Job, log *logger.Logger, report ProgressFunc) (*Result, error) {
	if job.Path == "" {
		return nil, fatal(StageReceived, errors.New("job has no file path"))
	}
	if !p.owns(job.Path) {
		return nil, fatal(StageReceived, fmt.Errorf("%w: %s", ErrOutsideUploadDir, job.Path))
	}

	// 1. Wait for the upload to be fully written
	report(StageFileVerifying, StageFileVerifying.Progress())
	size, err := p.verifier.Wait(ctx, job.Path)
	if err != nil {
		return nil, fatal(StageFileVerifying, err)
	}
	log.Debug("File ready", "size", size)

	// 2. Extract page text
	report(StageLoading, StageLoading.Progress())
	doc, err := p.loader.Load(ctx, job.Path)
	if err != nil {
		return nil, fatal(StageLoading, err)
	}
	log.Debug("Loaded document", "pages", doc.PageCount, "skipped_pages", len(doc.Skipped))

	// 3. Split into windows
	report(StageChunking, StageChunking.Progress())
	chunks, err := p.splitter.Split(doc.Pages)
	if err != nil {
		return nil, fatal(StageChunking, err)
	}
	log.Debug("Chunked document", "chunks", len(chunks))

	// 4. Ensure the collection exists; a retry finds the one it made before
	report(StageProvisioning, StageProvisioning.Progress())
	name := CollectionName(job.UploadedAt, job.Path)
	created, err := p.provisioner.Provision(ctx, name)
	if err != nil {
		return nil, retryable(StageProvisioning, fmt.Errorf("collection %s: %w", name, err))
	}
	log.Debug("Collection ready", "collection", name, "created", created)

	// 5. Embed and upsert in batches
	report(StageEmbeddingUpserting, StageEmbeddingUpserting.Progress())
	written, err := p.batcher.Upsert(ctx, name, chunks, PointSource{
		Path:     job.Path,
		Filename: job.Filename,
		UserID:   job.UserID,
	}, func(done, total int) {
		report(StageEmbeddingUpserting, batchProgress(done, total))
		log.Debug("Upserted batch", "batch", done, "of", total)
	})
	if err != nil {
		return nil, retryable(StageEmbeddingUpserting, err)
	}
	if written != len(chunks) {
		return nil, retryable(StageEmbeddingUpserting,
			fmt.Errorf("wrote %d points for %d chunks", written, len(chunks)))
	}

	// 6. Record the document
	report(StagePersistingMetadata, StagePersistingMetadata.Progress())
	err = p.meta.Insert(ctx, &metadata.Document{
		OriginalFilename: job.Filename,
		CollectionName:   name,
		UploadTime:       job.UploadedAt.UTC(),
		Chunks:           written,
		Pages:            doc.PageCount,
		FilePath:         job.Path,
		UserID:           job.UserID,
		JobID:            job.ID,
	})
	if errors.Is(err, metadata.ErrInvalidRecord) {
		return nil, fatal(StagePersistingMetadata, err)
	}
	if err != nil {
		return nil, retryable(StagePersistingMetadata, err)
	}

	return &Result{
		CollectionName:    name,
		ChunkCount:        written,
		PageCount:         doc.PageCount,
		CollectionCreated: created,
	}, nil
}

// Cleanup removes the source file. A file that is already gone is not an error.
// Paths that are relative or outside the upload directory are never touched.
func (p *Pipeline) Cleanup(path string) {
	if path == "" {
		return
	}
	if !p.owns(path) {
		p.logger.Warn("Refusing to remove file outside the upload directory", "path", path, "upload_dir", p.uploadDir)
		return
	}
	err := os.Remove(path)
	switch {
	case err == nil:
		p.logger.Info("Removed source file", "path", path)
	case errors.Is(err, os.ErrNotExist):
		p.logger.Debug("Source file already gone", "path", path)
	default:
		p.logger.Warn("Failed to remove source file", "path", path, "error", err)
	}
}

// owns reports whether path is an absolute path strictly inside the upload directory.
func (p *Pipeline) owns(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	if p.uploadDir == "" {
		return true
	}
	rel, err := filepath.Rel(p.uploadDir, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
