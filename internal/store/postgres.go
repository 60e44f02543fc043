package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session messages in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			companion_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			fragments JSONB NOT NULL DEFAULT '[]',
			stats JSONB NOT NULL DEFAULT '{}',
			token_efficiency DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_pair_created
		 ON session_messages (companion_id, user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	fragments, err := json.Marshal(msg.Fragments)
	if err != nil {
		return fmt.Errorf("marshal fragments: %w", err)
	}
	stats, err := json.Marshal(msg.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_messages
		 (session_id, user_id, companion_id, conversation_id, summary, fragments, stats, token_efficiency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (session_id) DO NOTHING`,
		msg.SessionID,
		msg.UserID,
		msg.CompanionID,
		msg.ConversationID,
		msg.Summary,
		fragments,
		stats,
		msg.TokenEfficiency,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, companionID, userID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 8
	}

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, companion_id, conversation_id, summary, fragments, stats, token_efficiency, created_at
		 FROM session_messages
		 WHERE companion_id=$1 AND user_id=$2
		 ORDER BY created_at DESC LIMIT $3`,
		companionID,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0, limit)
	for rows.Next() {
		var (
			m         Message
			fragments []byte
			stats     []byte
		)
		if err := rows.Scan(&m.SessionID, &m.UserID, &m.CompanionID, &m.ConversationID,
			&m.Summary, &fragments, &stats, &m.TokenEfficiency, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if err := json.Unmarshal(fragments, &m.Fragments); err != nil {
			return nil, fmt.Errorf("decode fragments: %w", err)
		}
		if err := json.Unmarshal(stats, &m.Stats); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
