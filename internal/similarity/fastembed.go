package similarity

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/reckonhq/reckon/internal/common"
)

// knownModels maps friendly model names to fastembed model constants.
var knownModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbedProvider generates embeddings with a local ONNX model. No
// network call per embedding; the model downloads once into cacheDir.
type FastEmbedProvider struct {
	model  *fastembed.FlagEmbedding
	mu     sync.Mutex
	closed bool
}

// NewFastEmbedProvider initializes the local embedding model.
func NewFastEmbedProvider(modelName, cacheDir string) (*FastEmbedProvider, error) {
	model, ok := knownModels[modelName]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding model %q", modelName)
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return &FastEmbedProvider{model: flagEmbed}, nil
}

// Embed generates an embedding for one text. fastembed has no context
// support, so cancellation is only checked up front.
func (p *FastEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A scheduled sweep can race shutdown; fail cleanly instead of
	// calling into a destroyed ONNX session.
	if p.closed {
		return nil, common.ErrEmbedderUnavailable
	}

	embedding, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return embedding, nil
}

// Close releases the ONNX runtime resources. Further Embed calls
// return common.ErrEmbedderUnavailable.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.model.Destroy()
}
