package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dealdesk/dealdesk/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL via pgx. Tables are created
// on startup if missing; there is no migration tooling beyond that.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS dd_deals (
			id           TEXT PRIMARY KEY,
			filename     TEXT NOT NULL DEFAULT '',
			language     TEXT NOT NULL DEFAULT '',
			session_id   TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			error_detail JSONB,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS dd_events (
			deal_id   TEXT NOT NULL,
			id        BIGINT NOT NULL,
			kind      TEXT NOT NULL,
			stage     TEXT NOT NULL DEFAULT '',
			message   TEXT NOT NULL DEFAULT '',
			payload   JSONB,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (deal_id, id)
		);

		CREATE TABLE IF NOT EXISTS dd_artifacts (
			deal_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			content      TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (deal_id, kind)
		);

		CREATE TABLE IF NOT EXISTS dd_sessions (
			id         TEXT PRIMARY KEY,
			deal_id    TEXT NOT NULL DEFAULT '',
			messages   JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Deals ───────────────────────────────────────────────────

func (s *PostgresStore) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, filename, language, session_id, status, error_detail, created_at, updated_at
		FROM dd_deals WHERE id = $1`, id)

	var deal models.Deal
	var errDetail []byte
	err := row.Scan(&deal.ID, &deal.Filename, &deal.Language, &deal.SessionID,
		&deal.Status, &errDetail, &deal.CreatedAt, &deal.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, NotFound("deal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	if len(errDetail) > 0 {
		var d models.ErrorDetail
		if err := json.Unmarshal(errDetail, &d); err == nil {
			deal.ErrorDetail = &d
		}
	}
	return &deal, nil
}

func (s *PostgresStore) PutDeal(ctx context.Context, deal *models.Deal) error {
	var errDetail []byte
	if deal.ErrorDetail != nil {
		errDetail, _ = json.Marshal(deal.ErrorDetail)
	}
	updated := deal.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	created := deal.CreatedAt
	if created.IsZero() {
		created = updated
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dd_deals (id, filename, language, session_id, status, error_detail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			language = EXCLUDED.language,
			session_id = EXCLUDED.session_id,
			status = EXCLUDED.status,
			error_detail = EXCLUDED.error_detail,
			updated_at = EXCLUDED.updated_at`,
		deal.ID, deal.Filename, deal.Language, deal.SessionID, deal.Status, errDetail, created, updated)
	if err != nil {
		return fmt.Errorf("put deal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDeals(ctx context.Context) ([]models.Deal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, language, session_id, status, error_detail, created_at, updated_at
		FROM dd_deals ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	deals := []models.Deal{}
	for rows.Next() {
		var deal models.Deal
		var errDetail []byte
		if err := rows.Scan(&deal.ID, &deal.Filename, &deal.Language, &deal.SessionID,
			&deal.Status, &errDetail, &deal.CreatedAt, &deal.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		if len(errDetail) > 0 {
			var d models.ErrorDetail
			if err := json.Unmarshal(errDetail, &d); err == nil {
				deal.ErrorDetail = &d
			}
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

func (s *PostgresStore) DeleteDeal(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dd_deals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("deal", id)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM dd_events WHERE deal_id = $1`, id); err != nil {
		return fmt.Errorf("delete deal events: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM dd_artifacts WHERE deal_id = $1`, id); err != nil {
		return fmt.Errorf("delete deal artifacts: %w", err)
	}
	return nil
}

// ── Events ──────────────────────────────────────────────────

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.Event) (int64, error) {
	var payload []byte
	if event.Payload != nil {
		payload, _ = json.Marshal(event.Payload)
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// Gapless per-deal id: next id is current max + 1. The single active
	// runner per deal is the only writer, so this SELECT+INSERT does not
	// race for a given deal; the (deal_id, id) primary key backstops it.
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO dd_events (deal_id, id, kind, stage, message, payload, timestamp)
		SELECT $1, COALESCE(MAX(id), 0) + 1, $2, $3, $4, $5, $6
		FROM dd_events WHERE deal_id = $1
		RETURNING id`,
		event.DealID, event.Kind, event.Stage, event.Message, payload, ts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	event.ID = id
	event.Timestamp = ts
	return id, nil
}

func (s *PostgresStore) ListEventsSince(ctx context.Context, dealID string, afterID int64) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT deal_id, id, kind, stage, message, payload, timestamp
		FROM dd_events WHERE deal_id = $1 AND id > $2
		ORDER BY id ASC`, dealID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		var payload []byte
		if err := rows.Scan(&ev.DealID, &ev.ID, &ev.Kind, &ev.Stage, &ev.Message, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &ev.Payload)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ── Artifacts ───────────────────────────────────────────────

func (s *PostgresStore) PutArtifact(ctx context.Context, artifact *models.Artifact) error {
	created := artifact.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	// Plain INSERT: the (deal_id, kind) primary key enforces write-once.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dd_artifacts (deal_id, kind, content_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		artifact.DealID, artifact.Kind, artifact.ContentType, artifact.Content, created)
	if err != nil {
		return fmt.Errorf("put artifact %s/%s: %w", artifact.DealID, artifact.Kind, err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, dealID string, kind models.ArtifactKind) (*models.Artifact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT deal_id, kind, content_type, content, created_at
		FROM dd_artifacts WHERE deal_id = $1 AND kind = $2`, dealID, kind)

	var a models.Artifact
	err := row.Scan(&a.DealID, &a.Kind, &a.ContentType, &a.Content, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, NotFound("artifact", dealID+":"+string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, dealID string) (models.ArtifactSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT deal_id, kind, content_type, content, created_at
		FROM dd_artifacts WHERE deal_id = $1`, dealID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	set := make(models.ArtifactSet)
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.DealID, &a.Kind, &a.ContentType, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		cp := a
		set[a.Kind] = &cp
	}
	return set, rows.Err()
}

func (s *PostgresStore) DeleteArtifacts(ctx context.Context, dealID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dd_artifacts WHERE deal_id = $1`, dealID)
	return err
}

// ── Sessions ────────────────────────────────────────────────

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, deal_id, messages, created_at, updated_at
		FROM dd_sessions WHERE id = $1`, id)

	var sess models.ChatSession
	var messages []byte
	err := row.Scan(&sess.ID, &sess.DealID, &messages, &sess.CreatedAt, &sess.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(messages, &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) PutSession(ctx context.Context, session *models.ChatSession) error {
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = updated
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dd_sessions (id, deal_id, messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			deal_id = EXCLUDED.deal_id,
			messages = EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at`,
		session.ID, session.DealID, messages, created, updated)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dd_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("session", id)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, deal_id, messages, created_at, updated_at
		FROM dd_sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ChatSession{}
	for rows.Next() {
		var sess models.ChatSession
		var messages []byte
		if err := rows.Scan(&sess.ID, &sess.DealID, &messages, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal(messages, &sess.Messages); err != nil {
			return nil, fmt.Errorf("decode session messages: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
