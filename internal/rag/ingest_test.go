package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/dealdesk/dealdesk/internal/vectorstore"
)

// fakeEmbedder produces deterministic vectors from text content.
type fakeEmbedder struct {
	batchSize int
	calls     int
}

func (f *fakeEmbedder) Kind() string    { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) MaxBatchSize() int {
	if f.batchSize > 0 {
		return f.batchSize
	}
	return 64
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		var sum float64
		for _, r := range text {
			sum += float64(r)
		}
		vectors[i] = []float64{float64(len(text)), sum, 1}
	}
	return vectors, nil
}

func (f *fakeEmbedder) HealthCheck(context.Context) error { return nil }

func testDocument() string {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("The vendor shall provide a managed platform with SSO support.\n\n")
		b.WriteString("Pricing must be itemized per environment and per user seat.\n\n")
	}
	return b.String()
}

func TestIngesterReplace(t *testing.T) {
	ctx := context.Background()
	index := vectorstore.NewEmbeddedIndex()
	ing := NewIngester(&fakeEmbedder{}, index, ChunkerConfig{ChunkSize: 200, ChunkOverlap: 20, Separator: "\n\n"})

	n, err := ing.Replace(ctx, "deal-1", testDocument())
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if n < 2 {
		t.Fatalf("Replace() indexed %d chunks, want several", n)
	}

	count, err := index.Count(ctx, "deal-1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != n {
		t.Errorf("index count = %d, want %d", count, n)
	}
}

func TestIngesterReplace_Idempotent(t *testing.T) {
	ctx := context.Background()
	index := vectorstore.NewEmbeddedIndex()
	ing := NewIngester(&fakeEmbedder{}, index, ChunkerConfig{ChunkSize: 200, ChunkOverlap: 20, Separator: "\n\n"})

	first, err := ing.Replace(ctx, "deal-1", testDocument())
	if err != nil {
		t.Fatalf("Replace() first run error = %v", err)
	}
	second, err := ing.Replace(ctx, "deal-1", testDocument())
	if err != nil {
		t.Fatalf("Replace() second run error = %v", err)
	}
	if first != second {
		t.Errorf("chunk counts differ between runs: %d vs %d", first, second)
	}

	count, _ := index.Count(ctx, "deal-1")
	if count != second {
		t.Errorf("index count after re-ingest = %d, want %d (no duplicates)", count, second)
	}
}

func TestIngesterReplace_BatchesRespectDriverLimit(t *testing.T) {
	ctx := context.Background()
	index := vectorstore.NewEmbeddedIndex()
	embedder := &fakeEmbedder{batchSize: 4}
	ing := NewIngester(embedder, index, ChunkerConfig{ChunkSize: 100, ChunkOverlap: 0, Separator: "\n\n"})

	n, err := ing.Replace(ctx, "deal-1", testDocument())
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	wantCalls := (n + 3) / 4
	if embedder.calls != wantCalls {
		t.Errorf("embed calls = %d, want %d for %d chunks with batch size 4", embedder.calls, wantCalls, n)
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	if got := ChunkID("deal-1", 3); got != "deal-1-chunk-0003" {
		t.Errorf("ChunkID() = %q, want %q", got, "deal-1-chunk-0003")
	}
}

func TestRetriever_ScopedToDeal(t *testing.T) {
	ctx := context.Background()
	index := vectorstore.NewEmbeddedIndex()
	embedder := &fakeEmbedder{}
	ing := NewIngester(embedder, index, ChunkerConfig{ChunkSize: 200, ChunkOverlap: 0, Separator: "\n\n"})

	if _, err := ing.Replace(ctx, "deal-a", testDocument()); err != nil {
		t.Fatalf("Replace(deal-a) error = %v", err)
	}
	if _, err := ing.Replace(ctx, "deal-b", testDocument()); err != nil {
		t.Fatalf("Replace(deal-b) error = %v", err)
	}

	r := NewRetriever(embedder, index, 5)
	results, err := r.Retrieve(ctx, "deal-a", "what about pricing?")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Retrieve() returned no results")
	}
	for _, res := range results {
		if res.Doc.DealID != "deal-a" {
			t.Errorf("result chunk %s belongs to deal %s, want deal-a", res.Doc.ChunkID, res.Doc.DealID)
		}
	}
}
