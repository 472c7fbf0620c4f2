// Package sessionstore optionally persists conversation turns to Postgres
// so a session's history can be rehydrated across a gateway process
// restart, not just across a reconnect within the same process (§4.8's
// reconnect-with-history only covers the latter; the in-memory
// session.Manager has nothing left to hand back once the process exits).
package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turnframe/gateway/internal/convo"
)

// TurnRecord is one persisted conversation message.
type TurnRecord struct {
	ID          string
	SessionID   string
	UserID      string
	Role        string
	Content     string
	ToolCallID  string
	ToolName    string
	PIIRedacted bool
	CreatedAt   time.Time
}

// Store persists and replays a session's conversation history.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the turns table exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_turns_session_created ON session_turns (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// SaveTurn appends one message to a session's durable history.
func (s *Store) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_turns (id, session_id, user_id, role, content, tool_call_id, tool_name, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.SessionID,
		record.UserID,
		record.Role,
		record.Content,
		record.ToolCallID,
		record.ToolName,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// LoadHistory returns up to limit most-recent messages for a session, in
// chronological order, ready to seed a fresh convo.State.
func (s *Store) LoadHistory(ctx context.Context, sessionID string, limit int) ([]convo.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, tool_call_id, tool_name
		 FROM session_turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	msgs := make([]convo.Message, 0, limit)
	for rows.Next() {
		var role, content, toolCallID, toolName string
		if err := rows.Scan(&role, &content, &toolCallID, &toolName); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		msgs = append(msgs, convo.Message{
			Role:       convo.Role(role),
			Text:       content,
			ToolCallID: toolCallID,
			ToolName:   toolName,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
