package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dealdesk/dealdesk/pkg/models"
)

func newTestManager(t *testing.T, historyWindow int) (*Manager, *chatFixture, *genRecorder) {
	t.Helper()
	f := newChatFixture(t, 0)
	gen := &genRecorder{}
	return NewManager(f.store, f.assembler, gen, historyWindow), f, gen
}

func TestManager_FirstGroundedTurnIsWelcome(t *testing.T) {
	m, f, _ := newTestManager(t, 0)
	f.seedReadyDeal(t, "deal-1")
	ctx := context.Background()

	first, err := m.Ask(ctx, "session-1", "deal-1", "hello", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if first.Stage != models.ChatStageWelcome {
		t.Errorf("first turn stage = %q, want %q", first.Stage, models.ChatStageWelcome)
	}

	second, err := m.Ask(ctx, "session-1", "deal-1", "what about SSO?", "")
	if err != nil {
		t.Fatalf("Ask() second turn error = %v", err)
	}
	if second.Stage != models.ChatStageQA {
		t.Errorf("second turn stage = %q, want %q", second.Stage, models.ChatStageQA)
	}
}

func TestManager_GroundedTurnCarriesDealContext(t *testing.T) {
	m, f, gen := newTestManager(t, 0)
	f.seedReadyDeal(t, "deal-1")

	if _, err := m.Ask(context.Background(), "session-1", "deal-1", "what about SSO?", "de"); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	req := gen.last()
	if !strings.Contains(req.Prompt, "## Deal Intelligence Core") {
		t.Error("prompt does not carry the assembled deal context")
	}
	if !strings.Contains(req.Prompt, "what about SSO?") {
		t.Error("prompt does not carry the question")
	}
	if req.Language != "de" {
		t.Errorf("request language = %q, want de", req.Language)
	}
}

func TestManager_UnboundSessionRunsUngrounded(t *testing.T) {
	m, f, gen := newTestManager(t, 0)

	answer, err := m.Ask(context.Background(), "session-1", "", "what is an RFP?", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Stage != models.ChatStageQA {
		t.Errorf("unbound stage = %q, want %q", answer.Stage, models.ChatStageQA)
	}
	if f.embedder.count() != 0 {
		t.Errorf("embed calls = %d for unbound session, want 0", f.embedder.count())
	}
	if strings.Contains(gen.last().System, "Ground every answer") {
		t.Error("unbound session used the grounded system prompt")
	}
}

func TestManager_HistoryEvictsOldestTurns(t *testing.T) {
	m, f, _ := newTestManager(t, 4)
	f.seedReadyDeal(t, "deal-1")
	ctx := context.Background()

	questions := []string{"turn one", "turn two", "turn three"}
	for _, q := range questions {
		if _, err := m.Ask(ctx, "session-1", "deal-1", q, ""); err != nil {
			t.Fatalf("Ask(%q) error = %v", q, err)
		}
	}

	session, err := f.store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(session.Messages) != 4 {
		t.Fatalf("session has %d messages, want 4 (window)", len(session.Messages))
	}
	for _, msg := range session.Messages {
		if msg.Content == "turn one" {
			t.Error("oldest turn survived eviction")
		}
	}
	last := session.Messages[len(session.Messages)-1]
	if last.Role != models.RoleAssistant {
		t.Errorf("last message role = %q, want assistant", last.Role)
	}
}

func TestManager_SessionBindsDealOnce(t *testing.T) {
	m, f, _ := newTestManager(t, 0)
	f.seedReadyDeal(t, "deal-a")
	f.seedReadyDeal(t, "deal-b")
	ctx := context.Background()

	if _, err := m.Ask(ctx, "session-1", "deal-a", "hello", ""); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	// Omitting the deal id on later turns keeps the binding.
	if _, err := m.Ask(ctx, "session-1", "", "follow-up", ""); err != nil {
		t.Fatalf("Ask() without deal id error = %v", err)
	}

	if _, err := m.Ask(ctx, "session-1", "deal-b", "switch deals", ""); err == nil {
		t.Fatal("Ask() with a different deal id succeeded, want rebind error")
	}
}

func TestManager_GateErrorsPropagateAndKeepUserTurn(t *testing.T) {
	m, f, _ := newTestManager(t, 0)
	f.putDeal(t, "deal-1", models.DealSummarizing, nil)
	ctx := context.Background()

	_, err := m.Ask(ctx, "session-1", "deal-1", "too early", "")
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Ask() error = %v, want NotReadyError", err)
	}

	// The user turn is recorded even though the answer failed.
	session, err := f.store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(session.Messages) != 1 {
		t.Fatalf("session has %d messages, want 1", len(session.Messages))
	}
	if session.Messages[0].Role != models.RoleUser || session.Messages[0].Content != "too early" {
		t.Errorf("recorded turn = %+v, want the user question", session.Messages[0])
	}
}
