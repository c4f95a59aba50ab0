package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore appends archived turns to PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turn_archive (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turn_archive_entity_created ON turn_archive (entity_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turn_archive (id, entity_id, turn_id, role, content, branch, label, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID,
		entry.EntityID,
		entry.TurnID,
		entry.Role,
		entry.Content,
		entry.Branch,
		entry.Label,
		entry.PIIRedacted,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, entityID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, turn_id, role, content, branch, label, pii_redacted, created_at
		 FROM turn_archive WHERE entity_id=$1 ORDER BY created_at DESC LIMIT $2`,
		entityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EntityID, &e.TurnID, &e.Role, &e.Content, &e.Branch, &e.Label, &e.PIIRedacted, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Chronological order, oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
