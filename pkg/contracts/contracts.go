// Package contracts defines the capability boundaries of the DealDesk
// control plane.
//
// The orchestration core depends only on these interfaces. Concrete
// implementations live in internal/ (OpenAI drivers, the embedded and
// pgvector chunk indexes, the plain-text extractor); deployments can swap
// any of them without touching the pipeline or chat code.
package contracts

import (
	"context"

	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed in pkg/
// so embedding deployments can wire their own persistence without
// importing internal/ directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Embedding provider ──────────────────────────────────────

// EmbeddingDriver turns text into vectors. Used by ingestion for document
// chunks and by the context assembler for query-time question embedding.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g. "openai").
	Kind() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// MaxBatchSize returns the max texts per Embed call.
	MaxBatchSize() int

	// Embed generates one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Generation provider ─────────────────────────────────────

// GenerateRequest is a single call to the answer/analysis generation
// capability. SchemaHint, when set, asks the provider for JSON output
// matching the described shape; callers still validate the result.
type GenerateRequest struct {
	System     string
	Prompt     string
	SchemaHint string
	Language   string
}

// GenerationDriver produces text (or JSON text) from a prompt. Every
// analysis stage and the chat answerer go through this interface.
type GenerationDriver interface {
	// Kind returns the driver identifier (e.g. "openai").
	Kind() string

	// Generate returns the raw model output for the request.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Text extraction provider ────────────────────────────────

// TextExtractor normalizes a raw uploaded file into plain text for
// chunking. PDF/DOCX extraction is an external collaborator; the in-tree
// implementation handles plain-text formats only.
type TextExtractor interface {
	// Extract returns the normalized text of the document.
	Extract(ctx context.Context, filename string, raw []byte) (string, error)
}

// ── Archive provider ────────────────────────────────────────

// ArchiveDriver writes expired deal records to durable storage before
// the retention janitor purges them from the hot store.
type ArchiveDriver interface {
	// Kind returns the driver identifier (e.g. "local").
	Kind() string

	// ArchiveDeals writes the exports and returns the archive location.
	ArchiveDeals(ctx context.Context, exports []models.DealExport) (string, error)

	// HealthCheck verifies the archive destination is writable.
	HealthCheck(ctx context.Context) error
}

// ── Chunk index ─────────────────────────────────────────────

// VectorIndex stores and searches a deal's embedded chunks. All operations
// are scoped to a single deal; implementations must never let one deal's
// chunks surface in another deal's results.
type VectorIndex interface {
	// Kind returns the index identifier (e.g. "embedded", "pgvector").
	Kind() string

	// Upsert inserts or replaces chunks keyed by (dealID, chunkID).
	Upsert(ctx context.Context, dealID string, docs []models.VectorDoc) error

	// Search returns the top-k most similar chunks for the deal.
	Search(ctx context.Context, dealID string, vector []float64, topK int) ([]models.SearchResult, error)

	// List returns all chunks for the deal ordered by source offset.
	List(ctx context.Context, dealID string) ([]models.VectorDoc, error)

	// DeleteDeal removes every chunk belonging to the deal.
	DeleteDeal(ctx context.Context, dealID string) error

	// Count returns the number of chunks stored for the deal.
	Count(ctx context.Context, dealID string) (int, error)

	// HealthCheck verifies the index is reachable.
	HealthCheck(ctx context.Context) error
}
