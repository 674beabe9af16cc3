// Package store provides the persistence interface and implementations for
// the DealDesk control plane. The in-memory store is the zero-config
// default; the PostgreSQL store backs multi-process deployments.
package store

import (
	"context"
	"errors"

	"github.com/dealdesk/dealdesk/pkg/models"
)

// Store is the primary persistence interface. The pipeline runner, chat
// session manager, and HTTP handlers all depend on this interface, so
// swapping between in-memory (tests, dev) and PostgreSQL (production) is a
// wiring-time decision.
type Store interface {
	DealStore
	EventStore
	ArtifactStore
	SessionStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Deal Store ──────────────────────────────────────────────

type DealStore interface {
	GetDeal(ctx context.Context, id string) (*models.Deal, error)

	// PutDeal inserts or replaces a deal. The pipeline runner is the only
	// writer for a deal that is not in a terminal state.
	PutDeal(ctx context.Context, deal *models.Deal) error

	// ListDeals returns all deals. Used by the retention janitor.
	ListDeals(ctx context.Context) ([]models.Deal, error)

	// DeleteDeal removes the deal record together with its events and
	// artifacts. Chunk index and session cleanup are the caller's job.
	DeleteDeal(ctx context.Context, id string) error
}

// ── Event Store ─────────────────────────────────────────────

// EventStore is the append-only progress log. Event ids are deal-scoped,
// start at 1 and are gapless; appends never mutate or reorder existing
// entries, and readers never block writers.
type EventStore interface {
	// AppendEvent assigns the next id for the event's deal (current max + 1)
	// and persists it. Returns the assigned id.
	AppendEvent(ctx context.Context, event *models.Event) (int64, error)

	// ListEventsSince returns all events for the deal with id > afterID in
	// ascending id order. Returns an empty slice (not an error) when there
	// are no new events or the deal is unknown.
	ListEventsSince(ctx context.Context, dealID string, afterID int64) ([]models.Event, error)
}

// ── Artifact Store ──────────────────────────────────────────

// ArtifactStore holds the immutable generated documents. At most one
// artifact of each kind exists per deal; a fresh pipeline run clears the
// previous set before writing new ones.
type ArtifactStore interface {
	// PutArtifact writes an artifact. Writing a kind that already exists
	// for the deal is an error (write-once within a run).
	PutArtifact(ctx context.Context, artifact *models.Artifact) error

	// GetArtifact returns the artifact of the given kind for the deal.
	GetArtifact(ctx context.Context, dealID string, kind models.ArtifactKind) (*models.Artifact, error)

	// ListArtifacts returns all artifacts present for the deal.
	ListArtifacts(ctx context.Context, dealID string) (models.ArtifactSet, error)

	// DeleteArtifacts removes every artifact for the deal (start of a
	// fresh run).
	DeleteArtifacts(ctx context.Context, dealID string) error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore persists chat conversation state. The chat session manager
// is the sole owner of session mutation.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	PutSession(ctx context.Context, session *models.ChatSession) error
	DeleteSession(ctx context.Context, id string) error

	// ListSessions returns all sessions. Used by the retention janitor.
	ListSessions(ctx context.Context) ([]models.ChatSession, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// NotFound builds an ErrNotFound for the given entity and key.
func NotFound(entity, key string) error {
	return &ErrNotFound{Entity: entity, Key: key}
}

// IsNotFound reports whether err is (or wraps) an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
