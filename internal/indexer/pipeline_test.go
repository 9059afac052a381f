package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/metadata"
	"github.com/bull/pdfchat/internal/pdf"
	"github.com/bull/pdfchat/internal/readiness"
)

type pipelineFixture struct {
	store    *memStore
	embedder *fakeEmbedder
	meta     *memMetadata
	verifier FileVerifier
	loader   DocumentLoader
	batch    int
	uploads  string
}

func newFixture(text string) *pipelineFixture {
	return &pipelineFixture{
		store:    newMemStore(),
		embedder: &fakeEmbedder{},
		meta:     newMemMetadata(),
		verifier: &okVerifier{},
		loader: LoaderFunc(func(_ context.Context, path string) (*pdf.Document, error) {
			return &pdf.Document{Path: path, PageCount: 1, Pages: []pdf.Page{{Number: 1, Text: text}}}, nil
		}),
		batch: 40,
	}
}

func (f *pipelineFixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	splitter, err := chunker.NewSplitter(1000, 200)
	require.NoError(t, err)
	return NewPipeline(Components{
		Verifier:  f.verifier,
		Loader:    f.loader,
		Splitter:  splitter,
		Store:     f.store,
		Embedder:  f.embedder,
		Metadata:  f.meta,
		BatchSize: f.batch,
		UploadDir: f.uploads,
	}, nil)
}

func uploadedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "1700000000000-42-Annual Report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 stub"), 0o644))
	return path
}

func testJob(path string) Job {
	return Job{
		ID:         "job-1",
		UserID:     "user_1",
		Filename:   "Annual Report.pdf",
		Path:       path,
		UploadedAt: time.UnixMilli(1700000000000),
	}
}

func TestPipeline_Run_Success(t *testing.T) {
	f := newFixture(strings.Repeat("x", 4500))
	f.batch = 4
	path := uploadedFile(t)
	progress := &progressLog{}

	result, err := f.pipeline(t).Run(context.Background(), testJob(path), progress.record)
	require.NoError(t, err)

	assert.Equal(t, "pdf_1700000000000_1700000000000_42_Annual_Report", result.CollectionName)
	assert.Equal(t, 6, result.ChunkCount)
	assert.Equal(t, 1, result.PageCount)
	assert.True(t, result.CollectionCreated)
	assert.Equal(t, 6, f.store.count(result.CollectionName))

	doc := f.meta.docs[result.CollectionName]
	require.NotNil(t, doc)
	assert.Equal(t, 6, doc.Chunks)
	assert.Equal(t, "Annual Report.pdf", doc.OriginalFilename)
	assert.Equal(t, path, doc.FilePath)
	assert.Equal(t, "job-1", doc.JobID)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "source file is kept after success")

	assert.Equal(t, []Stage{
		StageReceived, StageFileVerifying, StageLoading, StageChunking, StageProvisioning,
		StageEmbeddingUpserting, StageEmbeddingUpserting, StageEmbeddingUpserting,
		StagePersistingMetadata, StageCompleted,
	}, progress.stages)
	for i := 1; i < len(progress.percent); i++ {
		assert.GreaterOrEqual(t, progress.percent[i], progress.percent[i-1], "progress never goes backwards")
	}
	assert.Equal(t, 90, progress.percent[7], "last batch reaches 90")
	assert.Equal(t, 100, progress.percent[len(progress.percent)-1])
}

// A file that never appears is fatal, is not retried, and nothing is written.
func TestPipeline_Run_FileNeverReady(t *testing.T) {
	f := newFixture("unused")
	f.verifier = readiness.NewVerifier(readiness.Config{
		MaxAttempts: 5, Settle: time.Millisecond, Retry: 5 * time.Millisecond,
	}, nil)
	path := filepath.Join(t.TempDir(), "never-written.pdf")
	progress := &progressLog{}

	_, err := f.pipeline(t).Run(context.Background(), testJob(path), progress.record)
	require.Error(t, err)

	assert.True(t, IsFatal(err))
	assert.Equal(t, StageFileVerifying, FailedStage(err))
	assert.ErrorIs(t, err, readiness.ErrFileNotReady)
	assert.Empty(t, f.store.collections)
	assert.Empty(t, f.meta.docs)
	assert.Equal(t, StageFailed, progress.stages[len(progress.stages)-1])
}

func TestPipeline_Run_UnparseableFileIsRemoved(t *testing.T) {
	f := newFixture("")
	f.loader = LoaderFunc(pdf.Load)
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a pdf"), 0o644))

	_, err := f.pipeline(t).Run(context.Background(), testJob(path), nil)
	require.Error(t, err)

	assert.True(t, IsFatal(err))
	assert.Equal(t, StageLoading, FailedStage(err))
	assert.ErrorIs(t, err, pdf.ErrNotPDF)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "fatal failure removes the source file")
}

func TestPipeline_Run_NoTextIsFatal(t *testing.T) {
	f := newFixture("   \n  ")
	path := uploadedFile(t)

	_, err := f.pipeline(t).Run(context.Background(), testJob(path), nil)
	require.Error(t, err)

	assert.True(t, IsFatal(err))
	assert.Equal(t, StageChunking, FailedStage(err))
	assert.ErrorIs(t, err, chunker.ErrNoChunks)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, f.store.collections, "nothing is provisioned for an empty document")
}

func TestPipeline_Run_ProvisioningErrorIsRetryable(t *testing.T) {
	f := newFixture(strings.Repeat("y", 1500))
	f.store.ensureErr = errUnavailable
	path := uploadedFile(t)

	_, err := f.pipeline(t).Run(context.Background(), testJob(path), nil)
	require.Error(t, err)

	assert.False(t, IsFatal(err))
	assert.Equal(t, StageProvisioning, FailedStage(err))
	assert.ErrorIs(t, err, errUnavailable)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "retryable failure keeps the file for the next attempt")
}

// Batch 2 of 3 fails; the retry re-provisions as a no-op, re-sends every batch,
// and the collection ends with exactly one point per chunk.
func TestPipeline_Run_RetryAfterPartialUpsert(t *testing.T) {
	f := newFixture(strings.Repeat("z", 4500)) // 6 chunks
	f.batch = 2                                // 3 batches
	f.store.failUpsert[2] = errUnavailable
	path := uploadedFile(t)
	p := f.pipeline(t)
	job := testJob(path)

	_, err := p.Run(context.Background(), job, nil)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, StageEmbeddingUpserting, FailedStage(err))

	name := CollectionName(job.UploadedAt, job.Path)
	assert.Equal(t, 2, f.store.count(name), "only batch 1 landed")
	assert.Empty(t, f.meta.docs)

	result, err := p.Run(context.Background(), job, nil)
	require.NoError(t, err)

	assert.Equal(t, name, result.CollectionName)
	assert.False(t, result.CollectionCreated)
	assert.Equal(t, 1, f.store.creates)
	assert.Equal(t, 5, f.store.upserts, "2 calls on the first attempt, 3 on the retry")
	assert.Equal(t, 6, f.store.count(name))
	assert.Len(t, f.meta.docs, 1)
}

func TestPipeline_Run_MetadataErrorThenRetry(t *testing.T) {
	f := newFixture(strings.Repeat("m", 900))
	f.meta.err = errUnavailable
	path := uploadedFile(t)
	p := f.pipeline(t)

	_, err := p.Run(context.Background(), testJob(path), nil)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, StagePersistingMetadata, FailedStage(err))

	f.meta.err = nil
	result, err := p.Run(context.Background(), testJob(path), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, 1, f.store.count(result.CollectionName))
}

func TestPipeline_Run_EmbeddingErrorIsRetryable(t *testing.T) {
	f := newFixture(strings.Repeat("e", 100))
	f.embedder.err = errUnavailable

	_, err := f.pipeline(t).Run(context.Background(), testJob(uploadedFile(t)), nil)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, StageEmbeddingUpserting, FailedStage(err))
}

func TestPipeline_Run_CanceledIsRetryable(t *testing.T) {
	f := newFixture("x")
	f.verifier = readiness.NewVerifier(readiness.Config{
		MaxAttempts: 100, Settle: time.Millisecond, Retry: 50 * time.Millisecond,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	path := filepath.Join(t.TempDir(), "slow-upload.pdf")

	_, err := f.pipeline(t).Run(ctx, testJob(path), nil)
	require.Error(t, err)
	assert.False(t, IsFatal(err), "shutdown must not discard the job")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPipeline_Run_EmptyPath(t *testing.T) {
	f := newFixture("x")
	_, err := f.pipeline(t).Run(context.Background(), Job{ID: "j"}, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StageReceived, FailedStage(err))
}

func TestPipeline_Cleanup_MissingFile(t *testing.T) {
	p := newFixture("x").pipeline(t)
	assert.NotPanics(t, func() {
		p.Cleanup(filepath.Join(t.TempDir(), "gone.pdf"))
		p.Cleanup("")
	})
}

func TestPipeline_Run_PathOutsideUploadDir(t *testing.T) {
	f := newFixture(strings.Repeat("x", 100))
	f.uploads = t.TempDir()
	foreign := uploadedFile(t)

	_, err := f.pipeline(t).Run(context.Background(), testJob(foreign), nil)
	require.Error(t, err)

	assert.True(t, IsFatal(err))
	assert.Equal(t, StageReceived, FailedStage(err))
	assert.ErrorIs(t, err, ErrOutsideUploadDir)
	assert.FileExists(t, foreign, "a fatal job never removes a file it does not own")
	assert.Empty(t, f.store.collections)
}

func TestPipeline_Cleanup_OnlyInsideUploadDir(t *testing.T) {
	f := newFixture("x")
	f.uploads = t.TempDir()
	p := f.pipeline(t)

	inside := filepath.Join(f.uploads, "a.pdf")
	outside := uploadedFile(t)
	sibling := f.uploads + "-other.pdf"
	for _, path := range []string{inside, sibling} {
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	}
	t.Cleanup(func() { os.Remove(sibling) })

	p.Cleanup(outside)
	p.Cleanup(sibling)
	p.Cleanup(filepath.Join(f.uploads, "..", filepath.Base(outside)))
	p.Cleanup("relative.pdf")
	p.Cleanup(f.uploads)
	assert.FileExists(t, outside)
	assert.FileExists(t, sibling)
	assert.DirExists(t, f.uploads)

	p.Cleanup(inside)
	assert.NoFileExists(t, inside)
}

// A record the store rejects on validation fails the same way on every attempt.
func TestPipeline_Run_InvalidMetadataIsFatal(t *testing.T) {
	f := newFixture(strings.Repeat("v", 100))
	job := testJob(uploadedFile(t))
	job.UserID = ""

	_, err := f.pipeline(t).Run(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StagePersistingMetadata, FailedStage(err))
	assert.ErrorIs(t, err, metadata.ErrInvalidRecord)
	assert.Empty(t, f.meta.docs)
}
