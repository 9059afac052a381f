package indexer

import (
	"context"
	"fmt"

	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/storage"
)

// DefaultBatchSize keeps each upsert request well under vector store payload limits.
const DefaultBatchSize = 40

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// PointWriter upserts points into an existing collection.
type PointWriter interface {
	UpsertPoints(ctx context.Context, collection string, points []*storage.ChunkPoint) error
}

// PointSource is the per-document provenance copied onto every point.
type PointSource struct {
	Path     string
	Filename string
	UserID   string
}

// Batcher embeds chunks and upserts them in fixed-size batches.
type Batcher struct {
	embedder  Embedder
	writer    PointWriter
	batchSize int
}

func NewBatcher(embedder Embedder, writer PointWriter, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Batcher{embedder: embedder, writer: writer, batchSize: batchSize}
}

// Upsert processes the chunks in order, one batch at a time. onBatch, if set, is
// called after each successful batch. Point IDs come from storage.PointID, so
// re-running after a partial failure overwrites instead of duplicating.
func (b *Batcher) Upsert(ctx context.Context, collection string, chunks []chunker.Chunk, src PointSource, onBatch func(done, total int)) (int, error) {
	total := (len(chunks) + b.batchSize - 1) / b.batchSize
	written := 0

	for i, n := 0, 0; i < len(chunks); i, n = i+b.batchSize, n+1 {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		end := min(i+b.batchSize, len(chunks))
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		vectors, err := b.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("batch %d/%d: embed: %w", n+1, total, err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("batch %d/%d: embedder returned %d vectors for %d chunks",
				n+1, total, len(vectors), len(batch))
		}

		points := make([]*storage.ChunkPoint, len(batch))
		for j, c := range batch {
			points[j] = &storage.ChunkPoint{
				ID:        storage.PointID(collection, c.Seq),
				Seq:       c.Seq,
				Content:   c.Text,
				Page:      c.Page,
				Start:     c.Start,
				End:       c.End,
				Source:    src.Path,
				Filename:  src.Filename,
				UserID:    src.UserID,
				Embedding: vectors[j],
			}
		}

		if err := b.writer.UpsertPoints(ctx, collection, points); err != nil {
			return written, fmt.Errorf("batch %d/%d: upsert: %w", n+1, total, err)
		}
		written += len(points)

		if onBatch != nil {
			onBatch(n+1, total)
		}
	}

	return written, nil
}
