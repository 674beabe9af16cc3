package vectorstore

import (
	"context"
	"testing"

	"github.com/dealdesk/dealdesk/pkg/models"
)

func seedDocs(t *testing.T, idx *EmbeddedIndex, dealID string, docs []models.VectorDoc) {
	t.Helper()
	if err := idx.Upsert(context.Background(), dealID, docs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestEmbeddedIndex_SearchRanksBySimilarity(t *testing.T) {
	idx := NewEmbeddedIndex()
	seedDocs(t, idx, "deal-1", []models.VectorDoc{
		{DealID: "deal-1", ChunkID: "c1", Text: "pricing", Vector: []float64{1, 0, 0}},
		{DealID: "deal-1", ChunkID: "c2", Text: "security", Vector: []float64{0, 1, 0}},
		{DealID: "deal-1", ChunkID: "c3", Text: "pricing detail", Vector: []float64{0.9, 0.1, 0}},
	})

	results, err := idx.Search(context.Background(), "deal-1", []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[0].Doc.ChunkID != "c1" {
		t.Errorf("top result = %s, want c1", results[0].Doc.ChunkID)
	}
	if results[1].Doc.ChunkID != "c3" {
		t.Errorf("second result = %s, want c3", results[1].Doc.ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %f < %f", results[0].Score, results[1].Score)
	}
}

func TestEmbeddedIndex_SearchNeverCrossesDeals(t *testing.T) {
	idx := NewEmbeddedIndex()
	seedDocs(t, idx, "deal-a", []models.VectorDoc{
		{DealID: "deal-a", ChunkID: "a1", Vector: []float64{1, 0}},
	})
	seedDocs(t, idx, "deal-b", []models.VectorDoc{
		{DealID: "deal-b", ChunkID: "b1", Vector: []float64{1, 0}},
		{DealID: "deal-b", ChunkID: "b2", Vector: []float64{1, 0}},
	})

	results, err := idx.Search(context.Background(), "deal-a", []float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search(deal-a) returned %d results, want 1", len(results))
	}
	if results[0].Doc.ChunkID != "a1" {
		t.Errorf("Search(deal-a) returned %s", results[0].Doc.ChunkID)
	}
}

func TestEmbeddedIndex_UpsertReplacesByChunkID(t *testing.T) {
	idx := NewEmbeddedIndex()
	ctx := context.Background()

	seedDocs(t, idx, "deal-1", []models.VectorDoc{
		{DealID: "deal-1", ChunkID: "c1", Text: "old", Vector: []float64{1, 0}},
	})
	seedDocs(t, idx, "deal-1", []models.VectorDoc{
		{DealID: "deal-1", ChunkID: "c1", Text: "new", Vector: []float64{1, 0}},
	})

	count, err := idx.Count(ctx, "deal-1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Count() = %d after upsert of same chunk id, want 1", count)
	}

	docs, err := idx.List(ctx, "deal-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if docs[0].Text != "new" {
		t.Errorf("chunk text = %q, want %q", docs[0].Text, "new")
	}
}

func TestEmbeddedIndex_ListOrderedBySourceOffset(t *testing.T) {
	idx := NewEmbeddedIndex()
	seedDocs(t, idx, "deal-1", []models.VectorDoc{
		{DealID: "deal-1", ChunkID: "c2", SourceOffset: 500, Vector: []float64{1}},
		{DealID: "deal-1", ChunkID: "c0", SourceOffset: 0, Vector: []float64{1}},
		{DealID: "deal-1", ChunkID: "c1", SourceOffset: 250, Vector: []float64{1}},
	})

	docs, err := idx.List(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for i := 1; i < len(docs); i++ {
		if docs[i].SourceOffset < docs[i-1].SourceOffset {
			t.Errorf("docs not ordered by offset: %d before %d", docs[i-1].SourceOffset, docs[i].SourceOffset)
		}
	}
}

func TestEmbeddedIndex_DeleteDeal(t *testing.T) {
	idx := NewEmbeddedIndex()
	ctx := context.Background()

	seedDocs(t, idx, "deal-1", []models.VectorDoc{
		{DealID: "deal-1", ChunkID: "c1", Vector: []float64{1}},
	})
	seedDocs(t, idx, "deal-2", []models.VectorDoc{
		{DealID: "deal-2", ChunkID: "c1", Vector: []float64{1}},
	})

	if err := idx.DeleteDeal(ctx, "deal-1"); err != nil {
		t.Fatalf("DeleteDeal() error = %v", err)
	}

	count, _ := idx.Count(ctx, "deal-1")
	if count != 0 {
		t.Errorf("Count(deal-1) = %d after delete, want 0", count)
	}
	other, _ := idx.Count(ctx, "deal-2")
	if other != 1 {
		t.Errorf("Count(deal-2) = %d, want 1 (delete must not leak)", other)
	}
}
