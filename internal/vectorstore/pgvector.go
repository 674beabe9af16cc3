package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dealdesk/dealdesk/pkg/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgvectorIndex implements the chunk index on PostgreSQL with the pgvector
// extension. The (deal_id, chunk_id) primary key makes re-ingestion an
// upsert rather than a duplication, and every query is deal-scoped.
type PgvectorIndex struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorIndex creates a pgvector-backed chunk index, creating the
// required table and extension if they don't exist.
func NewPgvectorIndex(ctx context.Context, connURL string, dimensions int) (*PgvectorIndex, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorIndex{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector chunk index initialized")
	return s, nil
}

func (s *PgvectorIndex) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS dd_chunks (
			deal_id       TEXT NOT NULL,
			chunk_id      TEXT NOT NULL,
			text          TEXT NOT NULL DEFAULT '',
			source_offset INT NOT NULL DEFAULT 0,
			vector        vector(%d) NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (deal_id, chunk_id)
		);

		CREATE INDEX IF NOT EXISTS idx_dd_chunks_deal ON dd_chunks (deal_id);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorIndex) Kind() string { return "pgvector" }

func (s *PgvectorIndex) Upsert(ctx context.Context, dealID string, docs []models.VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO dd_chunks (deal_id, chunk_id, text, source_offset, vector, created_at)
		VALUES `)

	args := make([]interface{}, 0, len(docs)*6)
	for i, d := range docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*6 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4, base+5))
		now := d.CreatedAt
		if now.IsZero() {
			now = time.Now().UTC()
		}
		args = append(args, dealID, d.ChunkID, d.Text, d.SourceOffset, pgvectorArray(d.Vector), now)
	}

	sb.WriteString(` ON CONFLICT (deal_id, chunk_id) DO UPDATE SET
		text = EXCLUDED.text,
		source_offset = EXCLUDED.source_offset,
		vector = EXCLUDED.vector`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorIndex) Search(ctx context.Context, dealID string, vector []float64, topK int) ([]models.SearchResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT deal_id, chunk_id, text, source_offset, created_at,
			1 - (vector <=> $1) AS score
		FROM dd_chunks
		WHERE deal_id = $2
		ORDER BY vector <=> $1, chunk_id
		LIMIT $3`, pgvectorArray(vector), dealID, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var doc models.VectorDoc
		var score float64
		if err := rows.Scan(&doc.DealID, &doc.ChunkID, &doc.Text, &doc.SourceOffset, &doc.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, models.SearchResult{Doc: doc, Score: score})
	}
	return results, rows.Err()
}

func (s *PgvectorIndex) List(ctx context.Context, dealID string) ([]models.VectorDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT deal_id, chunk_id, text, source_offset, created_at
		FROM dd_chunks WHERE deal_id = $1
		ORDER BY source_offset ASC`, dealID)
	if err != nil {
		return nil, fmt.Errorf("pgvector list: %w", err)
	}
	defer rows.Close()

	var docs []models.VectorDoc
	for rows.Next() {
		var doc models.VectorDoc
		if err := rows.Scan(&doc.DealID, &doc.ChunkID, &doc.Text, &doc.SourceOffset, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PgvectorIndex) DeleteDeal(ctx context.Context, dealID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dd_chunks WHERE deal_id = $1`, dealID)
	return err
}

func (s *PgvectorIndex) Count(ctx context.Context, dealID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dd_chunks WHERE deal_id = $1`, dealID).Scan(&count)
	return count, err
}

func (s *PgvectorIndex) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorIndex) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
