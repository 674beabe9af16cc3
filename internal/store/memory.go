package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dealdesk/dealdesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// MemoryStore is a thread-safe in-memory Store. It is the default for
// single-process deployments and for tests.
//
// Events use a per-deal append-only slice guarded separately from the
// entity maps, so status pollers reading the log never contend with deal
// or artifact writes.
type MemoryStore struct {
	mu        sync.RWMutex
	deals     map[string]*models.Deal
	artifacts map[string]*models.Artifact // key: dealID:kind
	sessions  map[string]*models.ChatSession

	eventsMu sync.RWMutex
	events   map[string][]models.Event // key: dealID, ordered by id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	log.Info().Msg("In-memory store initialized")
	return &MemoryStore{
		deals:     make(map[string]*models.Deal),
		artifacts: make(map[string]*models.Artifact),
		sessions:  make(map[string]*models.ChatSession),
		events:    make(map[string][]models.Event),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

// ── Deals ───────────────────────────────────────────────────

func (s *MemoryStore) GetDeal(_ context.Context, id string) (*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deal, ok := s.deals[id]
	if !ok {
		return nil, NotFound("deal", id)
	}
	cp := *deal
	return &cp, nil
}

func (s *MemoryStore) PutDeal(_ context.Context, deal *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *deal
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.deals[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDeals(_ context.Context) ([]models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deals := make([]models.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		deals = append(deals, *d)
	}
	return deals, nil
}

func (s *MemoryStore) DeleteDeal(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.deals[id]; !ok {
		s.mu.Unlock()
		return NotFound("deal", id)
	}
	delete(s.deals, id)
	for k, a := range s.artifacts {
		if a.DealID == id {
			delete(s.artifacts, k)
		}
	}
	s.mu.Unlock()

	s.eventsMu.Lock()
	delete(s.events, id)
	s.eventsMu.Unlock()
	return nil
}

// ── Events ──────────────────────────────────────────────────

func (s *MemoryStore) AppendEvent(_ context.Context, event *models.Event) (int64, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	seq := s.events[event.DealID]
	event.ID = int64(len(seq)) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.events[event.DealID] = append(seq, *event)
	return event.ID, nil
}

func (s *MemoryStore) ListEventsSince(_ context.Context, dealID string, afterID int64) ([]models.Event, error) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	seq := s.events[dealID]
	if afterID < 0 {
		afterID = 0
	}
	if afterID >= int64(len(seq)) {
		return []models.Event{}, nil
	}
	// ids are positional (id == index+1), so the slice after afterID is
	// exactly the events with id > afterID.
	out := make([]models.Event, len(seq)-int(afterID))
	copy(out, seq[afterID:])
	return out, nil
}

// ── Artifacts ───────────────────────────────────────────────

func (s *MemoryStore) PutArtifact(_ context.Context, artifact *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := artifactKey(artifact.DealID, artifact.Kind)
	if _, exists := s.artifacts[k]; exists {
		return fmt.Errorf("artifact %s already exists for deal %s", artifact.Kind, artifact.DealID)
	}
	cp := *artifact
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.artifacts[k] = &cp
	return nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, dealID string, kind models.ArtifactKind) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[artifactKey(dealID, kind)]
	if !ok {
		return nil, NotFound("artifact", dealID+":"+string(kind))
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListArtifacts(_ context.Context, dealID string) (models.ArtifactSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(models.ArtifactSet)
	for _, a := range s.artifacts {
		if a.DealID == dealID {
			cp := *a
			set[a.Kind] = &cp
		}
	}
	return set, nil
}

func (s *MemoryStore) DeleteArtifacts(_ context.Context, dealID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, a := range s.artifacts {
		if a.DealID == dealID {
			delete(s.artifacts, k)
		}
	}
	return nil
}

// ── Sessions ────────────────────────────────────────────────

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, NotFound("session", id)
	}
	cp := *sess
	cp.Messages = append([]models.ChatMessage(nil), sess.Messages...)
	return &cp, nil
}

func (s *MemoryStore) PutSession(_ context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	cp.Messages = append([]models.ChatMessage(nil), session.Messages...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return NotFound("session", id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]models.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		cp.Messages = append([]models.ChatMessage(nil), sess.Messages...)
		sessions = append(sessions, cp)
	}
	return sessions, nil
}

// ── Helpers ─────────────────────────────────────────────────

func artifactKey(dealID string, kind models.ArtifactKind) string {
	return dealID + ":" + string(kind)
}
