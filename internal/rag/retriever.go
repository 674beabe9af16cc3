package rag

import (
	"context"
	"fmt"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Retriever answers "which chunks of this deal's document are most
// relevant to this question". Search never crosses deal boundaries.
type Retriever struct {
	embeddings contracts.EmbeddingDriver
	index      contracts.VectorIndex
	topK       int
}

// NewRetriever creates a retriever returning at most topK chunks.
func NewRetriever(embeddings contracts.EmbeddingDriver, index contracts.VectorIndex, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		embeddings: embeddings,
		index:      index,
		topK:       topK,
	}
}

// Retrieve embeds the question and returns the deal's top chunks ranked
// by similarity. Results are deterministic for a given index state.
func (r *Retriever) Retrieve(ctx context.Context, dealID, question string) ([]models.SearchResult, error) {
	vectors, err := r.embeddings.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed question: got %d vectors, want 1", len(vectors))
	}
	results, err := r.index.Search(ctx, dealID, vectors[0], r.topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return results, nil
}
