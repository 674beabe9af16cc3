package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Ingester turns a deal's document text into indexed chunks: chunk the
// text, embed in driver-sized batches, upsert into the deal's partition
// of the index. Chunk ids are deterministic, so re-ingesting the same
// document replaces rather than duplicates.
type Ingester struct {
	embeddings contracts.EmbeddingDriver
	index      contracts.VectorIndex
	chunker    ChunkerConfig
}

// NewIngester creates an ingester.
func NewIngester(embeddings contracts.EmbeddingDriver, index contracts.VectorIndex, chunker ChunkerConfig) *Ingester {
	return &Ingester{
		embeddings: embeddings,
		index:      index,
		chunker:    chunker,
	}
}

// Replace re-indexes the deal's document from scratch: prior chunks for
// the deal are dropped, then the text is chunked, embedded, and upserted.
// Returns the number of chunks indexed.
func (ing *Ingester) Replace(ctx context.Context, dealID, text string) (int, error) {
	if err := ing.index.DeleteDeal(ctx, dealID); err != nil {
		return 0, fmt.Errorf("clear prior chunks: %w", err)
	}

	chunks := ChunkText(text, ing.chunker)
	if len(chunks) == 0 {
		return 0, nil
	}

	batchSize := ing.embeddings.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	now := time.Now().UTC()
	indexed := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := ing.embeddings.Embed(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch at chunk %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return indexed, fmt.Errorf("embed batch at chunk %d: got %d vectors for %d texts", start, len(vectors), len(batch))
		}

		docs := make([]models.VectorDoc, len(batch))
		for i, c := range batch {
			docs[i] = models.VectorDoc{
				DealID:       dealID,
				ChunkID:      ChunkID(dealID, c.Index),
				Text:         c.Text,
				Vector:       vectors[i],
				SourceOffset: c.SourceOffset,
				CreatedAt:    now,
			}
		}
		if err := ing.index.Upsert(ctx, dealID, docs); err != nil {
			return indexed, fmt.Errorf("upsert batch at chunk %d: %w", start, err)
		}
		indexed += len(batch)
	}

	log.Debug().
		Str("deal_id", dealID).
		Int("chunks", indexed).
		Str("index", ing.index.Kind()).
		Msg("deal document indexed")
	return indexed, nil
}

// ChunkID returns the stable id for the nth chunk of a deal's document.
func ChunkID(dealID string, index int) string {
	return fmt.Sprintf("%s-chunk-%04d", dealID, index)
}
