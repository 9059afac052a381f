package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/embedding"
	"github.com/bull/pdfchat/internal/indexer"
	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/logger"
	"github.com/bull/pdfchat/internal/metadata"
	"github.com/bull/pdfchat/internal/readiness"
	"github.com/bull/pdfchat/internal/storage"
)

// deps are the external clients a worker command needs.
type deps struct {
	redisOpt asynq.RedisClientOpt
	rdb      *redis.Client
	progress *jobs.ProgressStore
	store    *storage.QdrantStorage
	meta     *metadata.Store
	embedder embedding.Embedder // nil unless requested
}

func redisOptions(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// connect dials Qdrant, MongoDB and Redis. The embedder is only built for
// commands that embed, so maintenance commands run without an API key.
func connect(ctx context.Context, cfg *config.Config, log *logger.Logger, withEmbedder bool) (*deps, error) {
	d := &deps{redisOpt: redisOptions(cfg)}

	dimension := embedding.DimensionFor(cfg.EmbeddingProvider, cfg.EmbeddingModel)
	if withEmbedder {
		emb, err := embedding.New(ctx, embedding.ProviderConfig{
			Provider:     cfg.EmbeddingProvider,
			Model:        cfg.EmbeddingModel,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			GeminiAPIKey: cfg.GeminiAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		d.embedder = emb
		dimension = emb.Dimension()
	}

	log.Info("Connecting to Qdrant", "host", cfg.QdrantHost, "port", cfg.QdrantPort)
	store, err := storage.NewQdrantStorage(storage.Config{
		Host:            cfg.QdrantHost,
		Port:            cfg.QdrantPort,
		APIKey:          cfg.QdrantAPIKey,
		UseTLS:          cfg.QdrantUseTLS,
		VectorDimension: dimension,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	d.store = store

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	meta, err := metadata.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	d.meta = meta

	d.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	d.progress = jobs.NewProgressStore(d.rdb, cfg.JobRetention)
	if err := d.progress.Health(connectCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return d, nil
}

func (d *deps) pipeline(cfg *config.Config, log *logger.Logger) *indexer.Pipeline {
	// Validate has already checked size and overlap.
	splitter, _ := chunker.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	return indexer.NewPipeline(indexer.Components{
		Verifier: readiness.NewVerifier(readiness.Config{
			MaxAttempts: cfg.ReadyMaxAttempts,
			Settle:      cfg.ReadySettle,
			Retry:       cfg.ReadyRetry,
		}, log),
		Splitter:  splitter,
		Store:     d.store,
		Embedder:  d.embedder,
		Metadata:  d.meta,
		BatchSize: cfg.UpsertBatchSize,
		UploadDir: cfg.UploadDir,
	}, log)
}

func (d *deps) Close() {
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.meta != nil {
		_ = d.meta.Close(context.Background())
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
}

// statusDeps opens only what the status command reads.
func statusDeps(cfg *config.Config) (*asynq.Inspector, *jobs.ProgressStore, func()) {
	inspector := asynq.NewInspector(redisOptions(cfg))
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	return inspector, jobs.NewProgressStore(rdb, cfg.JobRetention), func() {
		_ = rdb.Close()
		_ = inspector.Close()
	}
}
