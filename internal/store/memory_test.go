package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Deals ───────────────────────────────────────────────────

func TestPutAndGetDeal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deal := &models.Deal{
		ID:       "deal-1",
		Filename: "rfp.txt",
		Status:   models.DealPending,
	}
	if err := s.PutDeal(ctx, deal); err != nil {
		t.Fatalf("PutDeal() error = %v", err)
	}

	got, err := s.GetDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetDeal() error = %v", err)
	}
	if got.Filename != "rfp.txt" {
		t.Errorf("GetDeal().Filename = %q, want %q", got.Filename, "rfp.txt")
	}
	if got.Status != models.DealPending {
		t.Errorf("GetDeal().Status = %q, want %q", got.Status, models.DealPending)
	}
}

func TestGetDeal_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDeal(context.Background(), "missing")
	if !store.IsNotFound(err) {
		t.Fatalf("GetDeal() error = %v, want ErrNotFound", err)
	}
}

func TestGetDeal_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutDeal(ctx, &models.Deal{ID: "deal-1", Status: models.DealPending}); err != nil {
		t.Fatalf("PutDeal() error = %v", err)
	}

	first, _ := s.GetDeal(ctx, "deal-1")
	first.Status = models.DealError

	second, _ := s.GetDeal(ctx, "deal-1")
	if second.Status != models.DealPending {
		t.Errorf("stored deal mutated through returned copy: status = %q", second.Status)
	}
}

func TestDeleteDeal_RemovesEventsAndArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutDeal(ctx, &models.Deal{ID: "deal-1", Status: models.DealReady}); err != nil {
		t.Fatalf("PutDeal() error = %v", err)
	}
	if _, err := s.AppendEvent(ctx, &models.Event{DealID: "deal-1", Kind: models.EventStageStarted, Stage: "ingestion"}); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := s.PutArtifact(ctx, &models.Artifact{DealID: "deal-1", Kind: models.ArtifactDIC, ContentType: models.ContentMarkdown, Content: "# DIC"}); err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}

	if err := s.DeleteDeal(ctx, "deal-1"); err != nil {
		t.Fatalf("DeleteDeal() error = %v", err)
	}

	if _, err := s.GetDeal(ctx, "deal-1"); !store.IsNotFound(err) {
		t.Errorf("GetDeal() after delete error = %v, want ErrNotFound", err)
	}
	events, err := s.ListEventsSince(ctx, "deal-1", 0)
	if err != nil {
		t.Fatalf("ListEventsSince() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events after delete = %d, want 0", len(events))
	}
	if _, err := s.GetArtifact(ctx, "deal-1", models.ArtifactDIC); !store.IsNotFound(err) {
		t.Errorf("GetArtifact() after delete error = %v, want ErrNotFound", err)
	}
}

// ─── Events ──────────────────────────────────────────────────

func TestAppendEvent_GaplessAscendingIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id, err := s.AppendEvent(ctx, &models.Event{DealID: "deal-1", Kind: models.EventStageStarted})
		if err != nil {
			t.Fatalf("AppendEvent() #%d error = %v", i, err)
		}
		if id != int64(i)+1 {
			t.Errorf("AppendEvent() #%d id = %d, want %d", i, id, i+1)
		}
	}
}

func TestAppendEvent_IDsAreDealScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, _ := s.AppendEvent(ctx, &models.Event{DealID: "deal-a", Kind: models.EventStageStarted})
	idB, _ := s.AppendEvent(ctx, &models.Event{DealID: "deal-b", Kind: models.EventStageStarted})

	if idA != 1 || idB != 1 {
		t.Errorf("first event ids = %d, %d, want 1, 1 (sequences are per deal)", idA, idB)
	}
}

func TestListEventsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := s.AppendEvent(ctx, &models.Event{DealID: "deal-1", Kind: models.EventStageStarted}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := s.ListEventsSince(ctx, "deal-1", 2)
	if err != nil {
		t.Fatalf("ListEventsSince() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListEventsSince(after=2) returned %d events, want 2", len(events))
	}
	if events[0].ID != 3 || events[1].ID != 4 {
		t.Errorf("event ids = %d, %d, want 3, 4", events[0].ID, events[1].ID)
	}
}

func TestListEventsSince_EmptyNotError(t *testing.T) {
	s := newTestStore(t)

	events, err := s.ListEventsSince(context.Background(), "unknown-deal", 0)
	if err != nil {
		t.Fatalf("ListEventsSince() error = %v, want nil for unknown deal", err)
	}
	if len(events) != 0 {
		t.Errorf("ListEventsSince() returned %d events, want 0", len(events))
	}
}

// ─── Artifacts ───────────────────────────────────────────────

func TestPutArtifact_WriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &models.Artifact{DealID: "deal-1", Kind: models.ArtifactDIC, ContentType: models.ContentMarkdown, Content: "v1"}
	if err := s.PutArtifact(ctx, a); err != nil {
		t.Fatalf("PutArtifact() first write error = %v", err)
	}
	if err := s.PutArtifact(ctx, a); err == nil {
		t.Fatal("PutArtifact() second write succeeded, want error")
	}
}

func TestDeleteArtifacts_AllowsRewrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &models.Artifact{DealID: "deal-1", Kind: models.ArtifactDIC, ContentType: models.ContentMarkdown, Content: "v1"}
	if err := s.PutArtifact(ctx, a); err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}
	if err := s.DeleteArtifacts(ctx, "deal-1"); err != nil {
		t.Fatalf("DeleteArtifacts() error = %v", err)
	}

	a2 := &models.Artifact{DealID: "deal-1", Kind: models.ArtifactDIC, ContentType: models.ContentMarkdown, Content: "v2"}
	if err := s.PutArtifact(ctx, a2); err != nil {
		t.Fatalf("PutArtifact() after delete error = %v", err)
	}

	got, err := s.GetArtifact(ctx, "deal-1", models.ArtifactDIC)
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if got.Content != "v2" {
		t.Errorf("GetArtifact().Content = %q, want %q", got.Content, "v2")
	}
}

func TestListArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kinds := []models.ArtifactKind{models.ArtifactDealContext, models.ArtifactDIC, models.ArtifactDemoBrief}
	for _, k := range kinds {
		if err := s.PutArtifact(ctx, &models.Artifact{DealID: "deal-1", Kind: k, ContentType: models.ContentJSON, Content: "{}"}); err != nil {
			t.Fatalf("PutArtifact(%s) error = %v", k, err)
		}
	}

	set, err := s.ListArtifacts(ctx, "deal-1")
	if err != nil {
		t.Fatalf("ListArtifacts() error = %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("ListArtifacts() returned %d artifacts, want 3", len(set))
	}
	for _, k := range kinds {
		if _, err := set.Get(k); err != nil {
			t.Errorf("ArtifactSet missing %s: %v", k, err)
		}
	}
}

// ─── Sessions ────────────────────────────────────────────────

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.ChatSession{
		ID:     "sess-1",
		DealID: "deal-1",
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "hello", Timestamp: time.Now().UTC()},
		},
	}
	if err := s.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("GetSession().Messages = %+v, want single hello message", got.Messages)
	}

	// Mutating the returned copy must not touch the stored session.
	got.Messages[0].Content = "changed"
	again, _ := s.GetSession(ctx, "sess-1")
	if again.Messages[0].Content != "hello" {
		t.Errorf("stored session mutated through returned copy")
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutSession(ctx, &models.ChatSession{ID: "sess-1"}); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); !store.IsNotFound(err) {
		t.Errorf("DeleteSession() second call error = %v, want ErrNotFound", err)
	}
}
