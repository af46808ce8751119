package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists dialogue history in an embedded SQLite file. Appends
// for the same conversation are serialized by a per-conversation mutex so the
// MAX(turn_num)+1 read and the insert cannot interleave; appends to distinct
// conversations only share the database write lock.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dialogue_turns (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		turn_num        INTEGER NOT NULL,
		speaker_id      TEXT NOT NULL,
		content         TEXT NOT NULL,
		emotion_tag     TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		UNIQUE (conversation_id, turn_num)
	);
	CREATE INDEX IF NOT EXISTS idx_dialogue_turns_conv ON dialogue_turns(conversation_id, turn_num);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) convLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[conversationID] = l
	}
	return l
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID, speakerID, content, emotionTag string) (Turn, error) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, ErrEmptyContent
	}

	l := s.convLock(conversationID)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var next int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_num), 0) + 1 FROM dialogue_turns WHERE conversation_id = ?`,
		conversationID,
	)
	if err := row.Scan(&next); err != nil {
		return Turn{}, fmt.Errorf("next turn_num: %w", err)
	}

	turn := Turn{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		TurnNum:        next,
		SpeakerID:      speakerID,
		Content:        content,
		EmotionTag:     emotionTag,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO dialogue_turns (id, conversation_id, turn_num, speaker_id, content, emotion_tag, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, turn.TurnNum, turn.SpeakerID, turn.Content, turn.EmotionTag,
		turn.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("commit append: %w", err)
	}
	return turn, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, turn_num, speaker_id, content, emotion_tag, created_at
		 FROM dialogue_turns WHERE conversation_id = ?
		 ORDER BY turn_num DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	reverse(turns)
	return turns, nil
}

func (s *SQLiteStore) All(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, turn_num, speaker_id, content, emotion_tag, created_at
		 FROM dialogue_turns WHERE conversation_id = ?
		 ORDER BY turn_num ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	return scanTurns(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	defer rows.Close()
	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.TurnNum, &t.SpeakerID, &t.Content, &t.EmotionTag, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		t.CreatedAt = ts
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func reverse(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
