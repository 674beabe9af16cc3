// Package vectorstore provides the per-deal chunk index implementations:
// an in-memory brute-force index for single-process deployments and a
// pgvector-backed index for production.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dealdesk/dealdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// EmbeddedIndex is a lightweight in-memory chunk index using brute-force
// cosine similarity. Suitable for development and single-node workloads;
// use PgvectorIndex for anything larger.
//
// All lookups are keyed by deal id first, so one deal's chunks can never
// appear in another deal's results.
type EmbeddedIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]*models.VectorDoc // dealID → chunkID → doc
}

// NewEmbeddedIndex creates an empty in-memory chunk index.
func NewEmbeddedIndex() *EmbeddedIndex {
	log.Info().Msg("Embedded chunk index initialized")
	return &EmbeddedIndex{docs: make(map[string]map[string]*models.VectorDoc)}
}

func (s *EmbeddedIndex) Kind() string { return "embedded" }

func (s *EmbeddedIndex) Upsert(_ context.Context, dealID string, docs []models.VectorDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byChunk := s.docs[dealID]
	if byChunk == nil {
		byChunk = make(map[string]*models.VectorDoc, len(docs))
		s.docs[dealID] = byChunk
	}

	now := time.Now().UTC()
	for _, d := range docs {
		cp := d
		cp.DealID = dealID
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		byChunk[cp.ChunkID] = &cp
	}
	return nil
}

func (s *EmbeddedIndex) Search(_ context.Context, dealID string, vector []float64, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   *models.VectorDoc
		score float64
	}
	var candidates []scored
	for _, d := range s.docs[dealID] {
		if len(d.Vector) != len(vector) {
			continue
		}
		candidates = append(candidates, scored{doc: d, score: cosineSimilarity(vector, d.Vector)})
	}

	// Tie-break on chunk id so identical scores order deterministically.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.ChunkID < candidates[j].doc.ChunkID
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]models.SearchResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = models.SearchResult{Doc: *candidates[i].doc, Score: candidates[i].score}
	}
	return results, nil
}

func (s *EmbeddedIndex) List(_ context.Context, dealID string) ([]models.VectorDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []models.VectorDoc
	for _, d := range s.docs[dealID] {
		docs = append(docs, *d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceOffset < docs[j].SourceOffset })
	return docs, nil
}

func (s *EmbeddedIndex) DeleteDeal(_ context.Context, dealID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, dealID)
	return nil
}

func (s *EmbeddedIndex) Count(_ context.Context, dealID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[dealID]), nil
}

func (s *EmbeddedIndex) HealthCheck(context.Context) error {
	return nil
}

// ── Helpers ─────────────────────────────────────────────────

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
