// Package embedding turns chunk text into vectors using an external model service.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey   = errors.New("embedding api key missing")
	ErrUnknownProvider = errors.New("unknown embedding provider")
	ErrCountMismatch   = errors.New("embedding count does not match input count")
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	Provider     string // "openai" or "gemini"
	Model        string
	OpenAIAPIKey string
	GeminiAPIKey string
}

// New builds the embedder named by cfg.Provider.
func New(ctx context.Context, cfg ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.Model, DefaultBatchSize)
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// DimensionFor returns the vector size a provider and model produce, without
// creating a client. Processes that only manage collections use it.
func DimensionFor(provider, model string) int {
	if provider == "gemini" {
		return GeminiDimension
	}
	if model == "" {
		model = OpenAIModel
	}
	return openAIDimension(model)
}

var (
	_ Embedder = (*OpenAIEmbedder)(nil)
	_ Embedder = (*GeminiEmbedder)(nil)
)
