package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

const chatSystem = `You are a presales copilot helping a sales engineer work a
deal. Ground every answer in the provided deal context and source excerpts;
when the context does not cover a question, say so instead of guessing.`

const ungroundedSystem = `You are a presales copilot. No deal is attached to
this conversation, so answer from general presales knowledge and say when a
question would need the deal's documents.`

// Manager owns chat sessions: it is the sole writer of session state.
// Sessions bound to a deal answer grounded in the deal's artifacts and
// chunks; unbound sessions answer ungrounded through the same flow.
type Manager struct {
	store         store.Store
	assembler     *Assembler
	generation    contracts.GenerationDriver
	historyWindow int // max messages kept per session
}

// NewManager creates a chat session manager.
func NewManager(s store.Store, assembler *Assembler, generation contracts.GenerationDriver, historyWindow int) *Manager {
	if historyWindow <= 0 {
		historyWindow = 20
	}
	return &Manager{
		store:         s,
		assembler:     assembler,
		generation:    generation,
		historyWindow: historyWindow,
	}
}

// Ask processes one user turn. The user message is recorded first; the
// assistant turn is appended only when generation succeeds. Assembler
// failures (deal not found, not ready, in error) propagate unchanged so
// handlers can map them precisely.
func (m *Manager) Ask(ctx context.Context, sessionID, dealID, text, language string) (*models.ChatAnswer, error) {
	session, err := m.loadOrCreate(ctx, sessionID, dealID)
	if err != nil {
		return nil, err
	}

	stage := models.ChatStageQA
	if session.DealID != "" && len(session.Messages) == 0 {
		stage = models.ChatStageWelcome
	}

	prior := session.Messages
	now := time.Now().UTC()
	session.Messages = append(session.Messages, models.ChatMessage{
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: now,
	})
	session.UpdatedAt = now
	if err := m.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	var grounding string
	if session.DealID != "" {
		grounding, err = m.assembler.Assemble(ctx, session.DealID, text, prior)
		if err != nil {
			return nil, err
		}
	}

	answer, err := m.generate(ctx, grounding, text, language, stage)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	session.Messages = append(session.Messages, models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   answer,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	})
	if overflow := len(session.Messages) - m.historyWindow; overflow > 0 {
		session.Messages = session.Messages[overflow:]
	}
	session.UpdatedAt = time.Now().UTC()
	if err := m.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("deal_id", session.DealID).
		Str("stage", stage).
		Int("history", len(session.Messages)).
		Msg("Chat turn completed")

	return &models.ChatAnswer{Answer: answer, Stage: stage}, nil
}

// loadOrCreate fetches the session, creating it on first use. A session
// binds to a deal at most once; later turns may omit the deal id but not
// change it.
func (m *Manager) loadOrCreate(ctx context.Context, sessionID, dealID string) (*models.ChatSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
	case store.IsNotFound(err):
		now := time.Now().UTC()
		session = &models.ChatSession{
			ID:        sessionID,
			DealID:    dealID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	default:
		return nil, fmt.Errorf("load session: %w", err)
	}

	if dealID != "" && session.DealID != "" && session.DealID != dealID {
		return nil, fmt.Errorf("session %s is bound to deal %s, not %s", sessionID, session.DealID, dealID)
	}
	if session.DealID == "" {
		session.DealID = dealID
	}
	return session, nil
}

// generate produces the assistant answer for one turn.
func (m *Manager) generate(ctx context.Context, grounding, text, language, stage string) (string, error) {
	system := chatSystem
	if grounding == "" {
		system = ungroundedSystem
	}

	prompt := text
	if grounding != "" {
		prompt = grounding + "## Question\n\n" + text
	}
	if stage == models.ChatStageWelcome {
		prompt += "\n\nThis is the first exchange: open with a short welcome" +
			" summarizing the deal before answering."
	}

	return m.generation.Generate(ctx, contracts.GenerateRequest{
		System:   system,
		Prompt:   prompt,
		Language: language,
	})
}
