package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	GeminiModel     = "text-embedding-004"
	GeminiDimension = 768

	// geminiBatchLimit is the most requests BatchEmbedContents accepts at once.
	geminiBatchLimit = 100
)

// GeminiEmbedder generates embeddings with the Gemini API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	batchSize int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
	}
	if model == "" {
		model = GeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiEmbedder{client: client, model: model, batchSize: geminiBatchLimit}, nil
}

func (g *GeminiEmbedder) Dimension() int {
	return GeminiDimension
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts batches texts through BatchEmbedContents, preserving input order.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	out := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += g.batchSize {
		end := min(i+g.batchSize, len(texts))

		var resp *genai.BatchEmbedContentsResponse
		operation := func() error {
			batch := em.NewBatch()
			for _, t := range texts[i:end] {
				batch.AddContent(genai.Text(t))
			}

			var err error
			resp, err = em.BatchEmbedContents(ctx, batch)
			if err != nil {
				if isGeminiRetryable(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			return nil
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = 30 * time.Second

		if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
			return nil, fmt.Errorf("gemini batch %d-%d: %w", i, end, err)
		}
		if len(resp.Embeddings) != end-i {
			return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, end-i, len(resp.Embeddings))
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}

	return out, nil
}

// isGeminiRetryable reports quota exhaustion and server-side failures.
func isGeminiRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}
