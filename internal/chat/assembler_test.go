package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/internal/rag"
	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/internal/vectorstore"
	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// ─── Fakes ───────────────────────────────────────────────────

// countingEmbedder tracks Embed calls so tests can assert that gated
// requests never reach retrieval.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *countingEmbedder) Kind() string      { return "fake" }
func (f *countingEmbedder) Dimensions() int   { return 3 }
func (f *countingEmbedder) MaxBatchSize() int { return 64 }

func (f *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{1, 1, 1}
	}
	return vectors, nil
}

func (f *countingEmbedder) HealthCheck(context.Context) error { return nil }

func (f *countingEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// genRecorder returns a canned answer and captures the last request.
type genRecorder struct {
	mu      sync.Mutex
	lastReq contracts.GenerateRequest
	answer  string
	err     error
}

func (g *genRecorder) Kind() string { return "fake" }

func (g *genRecorder) Generate(_ context.Context, req contracts.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if g.answer == "" {
		return "the answer", nil
	}
	return g.answer, nil
}

func (g *genRecorder) HealthCheck(context.Context) error { return nil }

func (g *genRecorder) last() contracts.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

// ─── Harness ─────────────────────────────────────────────────

type chatFixture struct {
	store     store.Store
	index     *vectorstore.EmbeddedIndex
	embedder  *countingEmbedder
	assembler *Assembler
}

func newChatFixture(t *testing.T, budget int) *chatFixture {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	index := vectorstore.NewEmbeddedIndex()
	embedder := &countingEmbedder{}
	retriever := rag.NewRetriever(embedder, index, 5)
	return &chatFixture{
		store:     s,
		index:     index,
		embedder:  embedder,
		assembler: NewAssembler(s, retriever, budget),
	}
}

func (f *chatFixture) putDeal(t *testing.T, dealID string, status models.DealStatus, detail *models.ErrorDetail) {
	t.Helper()
	now := time.Now().UTC()
	err := f.store.PutDeal(context.Background(), &models.Deal{
		ID:          dealID,
		Filename:    "rfp.txt",
		SessionID:   "session-" + dealID,
		Status:      status,
		ErrorDetail: detail,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("PutDeal() error = %v", err)
	}
}

func (f *chatFixture) seedReadyDeal(t *testing.T, dealID string) {
	t.Helper()
	ctx := context.Background()
	f.putDeal(t, dealID, models.DealReady, nil)

	artifacts := []struct {
		kind        models.ArtifactKind
		contentType string
		content     string
	}{
		{models.ArtifactDIC, models.ContentMarkdown, "# Deal Intelligence Core\n\nAcme RFP, 8 requirements."},
		{models.ArtifactDemoBrief, models.ContentJSON, `{"demo_type":"custom","scenarios":[{"id":"S1","objective":"SSO flow"}]}`},
		{models.ArtifactGapAnalysis, models.ContentJSON, `{"gaps":[{"id":"GAP-001","severity":"high","description":"audit export uncovered"}]}`},
	}
	for _, a := range artifacts {
		err := f.store.PutArtifact(ctx, &models.Artifact{
			DealID:      dealID,
			Kind:        a.kind,
			ContentType: a.contentType,
			Content:     a.content,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("PutArtifact(%s) error = %v", a.kind, err)
		}
	}

	err := f.index.Upsert(ctx, dealID, []models.VectorDoc{
		{DealID: dealID, ChunkID: dealID + "-chunk-0000", Text: "The vendor shall provide SSO via SAML.", Vector: []float64{1, 1, 1}, SourceOffset: 0},
		{DealID: dealID, ChunkID: dealID + "-chunk-0001", Text: "Uptime of 99.9% is required.", Vector: []float64{1, 0, 1}, SourceOffset: 100},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func history(contents ...string) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(contents))
	role := models.RoleUser
	for _, c := range contents {
		msgs = append(msgs, models.ChatMessage{Role: role, Content: c, Timestamp: time.Now().UTC()})
		if role == models.RoleUser {
			role = models.RoleAssistant
		} else {
			role = models.RoleUser
		}
	}
	return msgs
}

// ─── Tests ───────────────────────────────────────────────────

func TestAssembler_UnknownDealIsNotFound(t *testing.T) {
	f := newChatFixture(t, 0)

	_, err := f.assembler.Assemble(context.Background(), "missing", "question", nil)
	if !store.IsNotFound(err) {
		t.Fatalf("Assemble() error = %v, want not found", err)
	}
	if f.embedder.count() != 0 {
		t.Errorf("embed calls = %d for unknown deal, want 0", f.embedder.count())
	}
}

func TestAssembler_ProcessingDealIsGated(t *testing.T) {
	f := newChatFixture(t, 0)
	f.putDeal(t, "deal-1", models.DealAnalyzing, nil)

	_, err := f.assembler.Assemble(context.Background(), "deal-1", "question", nil)
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Assemble() error = %v, want NotReadyError", err)
	}
	if notReady.Status != models.DealAnalyzing {
		t.Errorf("NotReadyError status = %q, want %q", notReady.Status, models.DealAnalyzing)
	}
	if f.embedder.count() != 0 {
		t.Errorf("embed calls = %d for gated deal, want 0", f.embedder.count())
	}
}

func TestAssembler_FailedDealIsGated(t *testing.T) {
	f := newChatFixture(t, 0)
	f.putDeal(t, "deal-1", models.DealError, &models.ErrorDetail{Stage: "summarizer", Message: "model unavailable"})

	_, err := f.assembler.Assemble(context.Background(), "deal-1", "question", nil)
	var inError *InErrorStateError
	if !errors.As(err, &inError) {
		t.Fatalf("Assemble() error = %v, want InErrorStateError", err)
	}
	if inError.Detail == nil || inError.Detail.Stage != "summarizer" {
		t.Errorf("InErrorStateError detail = %+v, want summarizer stage", inError.Detail)
	}
	if f.embedder.count() != 0 {
		t.Errorf("embed calls = %d for failed deal, want 0", f.embedder.count())
	}
}

func TestAssembler_ReadyDealSectionOrder(t *testing.T) {
	f := newChatFixture(t, 0)
	f.seedReadyDeal(t, "deal-1")

	got, err := f.assembler.Assemble(context.Background(), "deal-1", "how about SSO?", history("hi", "hello"))
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	headers := []string{
		"## Deal Intelligence Core",
		"## Demo brief",
		"## Gap analysis",
		"## Source document excerpts",
		"## Conversation so far",
	}
	pos := -1
	for _, h := range headers {
		i := strings.Index(got, h)
		if i < 0 {
			t.Fatalf("context missing section %q", h)
		}
		if i < pos {
			t.Errorf("section %q out of order", h)
		}
		pos = i
	}

	if !strings.Contains(got, "deal-1-chunk-0000") {
		t.Error("context does not cite chunk ids")
	}
	if !strings.Contains(got, "user: hi") {
		t.Error("context missing history turn")
	}
}

func TestAssembler_TruncationDropsOldestHistoryFirst(t *testing.T) {
	f := newChatFixture(t, 0)
	f.seedReadyDeal(t, "deal-1")
	turns := history("first question about scope", "first answer", "second question about pricing")

	full, err := f.assembler.Assemble(context.Background(), "deal-1", "q", turns)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	tight := newChatFixture(t, len([]rune(full))-1)
	tight.seedReadyDeal(t, "deal-1")

	got, err := tight.assembler.Assemble(context.Background(), "deal-1", "q", turns)
	if err != nil {
		t.Fatalf("Assemble() with tight budget error = %v", err)
	}
	if strings.Contains(got, "first question about scope") {
		t.Error("oldest history turn survived truncation")
	}
	if !strings.Contains(got, "second question about pricing") {
		t.Error("newest history turn was dropped before the oldest")
	}
	if !strings.Contains(got, "deal-1-chunk-0000") {
		t.Error("chunks were dropped before history")
	}
}

func TestAssembler_FixedSectionsSurviveAnyBudget(t *testing.T) {
	f := newChatFixture(t, 1)
	f.seedReadyDeal(t, "deal-1")

	got, err := f.assembler.Assemble(context.Background(), "deal-1", "q", history("old turn", "old reply"))
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.Contains(got, "## Deal Intelligence Core") {
		t.Error("DIC section was truncated")
	}
	if !strings.Contains(got, "## Gap analysis") {
		t.Error("gap analysis section was truncated")
	}
	if strings.Contains(got, "## Source document excerpts") {
		t.Error("chunks survived a budget they cannot fit")
	}
	if strings.Contains(got, "## Conversation so far") {
		t.Error("history survived a budget it cannot fit")
	}
}
