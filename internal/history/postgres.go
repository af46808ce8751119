package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore persists dialogue history in PostgreSQL. Turn sequencing is
// serialized per conversation with a transaction-scoped advisory lock, so two
// concurrent appends to the same conversation cannot read the same
// MAX(turn_num); appends to different conversations hash to different locks
// and run in parallel.
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
		`CREATE TABLE IF NOT EXISTS dialogue_turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_num BIGINT NOT NULL,
			speaker_id TEXT NOT NULL,
			content TEXT NOT NULL,
			emotion_tag TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (conversation_id, turn_num)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dialogue_turns_conv ON dialogue_turns (conversation_id, turn_num);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, conversationID, speakerID, content, emotionTag string) (Turn, error) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, ErrEmptyContent
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
		return Turn{}, fmt.Errorf("conversation lock: %w", err)
	}

	turn := Turn{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SpeakerID:      speakerID,
		Content:        content,
		EmotionTag:     emotionTag,
		CreatedAt:      time.Now().UTC(),
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO dialogue_turns (id, conversation_id, turn_num, speaker_id, content, emotion_tag, created_at)
		 SELECT $1, $2, COALESCE(MAX(turn_num), 0) + 1, $3, $4, $5, $6
		 FROM dialogue_turns WHERE conversation_id = $2
		 RETURNING turn_num`,
		turn.ID, conversationID, speakerID, content, emotionTag, turn.CreatedAt,
	)
	if err := row.Scan(&turn.TurnNum); err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Turn{}, fmt.Errorf("commit append: %w", err)
	}
	return turn, nil
}

func (s *PostgresStore) Recent(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, turn_num, speaker_id, content, emotion_tag, created_at
		 FROM dialogue_turns WHERE conversation_id = $1
		 ORDER BY turn_num DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.TurnNum, &t.SpeakerID, &t.Content, &t.EmotionTag, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	reverse(turns)
	return turns, nil
}

func (s *PostgresStore) All(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, turn_num, speaker_id, content, emotion_tag, created_at
		 FROM dialogue_turns WHERE conversation_id = $1
		 ORDER BY turn_num ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.TurnNum, &t.SpeakerID, &t.Content, &t.EmotionTag, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
