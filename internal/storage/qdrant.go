package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// Config describes how to reach Qdrant and the vector size every collection uses.
type Config struct {
	Host            string
	Port            int
	APIKey          string
	UseTLS          bool
	VectorDimension int
}

// QdrantStorage wraps the Qdrant client with connection management and health checks.
// Each uploaded PDF lives in its own collection.
type QdrantStorage struct {
	client    *qdrant.Client
	dimension int
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(cfg Config) (*QdrantStorage, error) {
	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", cfg.VectorDimension)
	}

	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:    client,
		dimension: cfg.VectorDimension,
	}

	err = storage.healthCheckWithRetry(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// newRetryBackOff is the policy shared by health checks and upserts.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func newRetryBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, newRetryBackOff(ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// Dimension is the vector size used for new collections.
func (s *QdrantStorage) Dimension() int {
	return s.dimension
}

// ListCollections returns the names of all collections.
func (s *QdrantStorage) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

// EnsureCollection creates the named collection (cosine distance) unless it already exists.
// Returns true when this call created it. Idempotent - safe to call from concurrent retries.
func (s *QdrantStorage) EnsureCollection(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, ErrInvalidCollection
	}

	exists, err := s.hasCollection(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Another attempt may have created it between the list and the create.
		if exists, listErr := s.hasCollection(ctx, name); listErr == nil && exists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	return true, nil
}

// hasCollection lists collections and matches by name.
func (s *QdrantStorage) hasCollection(ctx context.Context, name string) (bool, error) {
	collections, err := s.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range collections {
		if existing == name {
			return true, nil
		}
	}
	return false, nil
}

// DeleteCollection drops a collection. Deleting a missing collection is not an error.
func (s *QdrantStorage) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		return nil
	}

	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
// Wait is set so the points are durable before the batch is reported done.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, name string, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, newRetryBackOff(ctx))
}

// UpsertPoints writes one batch of chunk points into a collection.
// Callers decide the batch size; the whole slice goes out in a single request.
func (s *QdrantStorage) UpsertPoints(ctx context.Context, name string, chunks []*ChunkPoint) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		point, err := s.toPoint(chunk)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", chunk.Seq, err)
		}
		points[i] = point
	}

	if err := s.upsertWithRetry(ctx, name, points); err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

// toPoint validates the embedding and builds the Qdrant point with its payload.
func (s *QdrantStorage) toPoint(chunk *ChunkPoint) (*qdrant.PointStruct, error) {
	if len(chunk.Embedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, expected %d",
			ErrDimensionMismatch, len(chunk.Embedding), s.dimension)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(chunk.ID),
		Vectors: qdrant.NewVectors(chunk.Embedding...),
		Payload: qdrant.NewValueMap(chunkPayload(chunk)),
	}, nil
}

func chunkPayload(chunk *ChunkPoint) map[string]any {
	payload := map[string]any{
		"content":     chunk.Content,
		"chunk_index": chunk.Seq,
		"start":       chunk.Start,
		"end":         chunk.End,
		"source":      chunk.Source,
		"filename":    chunk.Filename,
		"user_id":     chunk.UserID,
	}
	// Page is omitted rather than guessed when provenance is unknown.
	if chunk.Page != nil {
		payload["page"] = *chunk.Page
	}
	return payload
}

// GetCollectionInfo retrieves collection statistics including total points count.
// Returns ErrCollectionNotFound if the collection does not exist.
func (s *QdrantStorage) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	collection, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	return &CollectionInfo{
		Name:        name,
		PointsCount: collection.GetPointsCount(),
		Status:      collection.GetStatus().String(),
	}, nil
}
