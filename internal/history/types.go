package history

import (
	"context"
	"errors"
	"time"
)

// Turn is one recorded message in a conversation. TurnNum is assigned by the
// store, starts at 1, and is strictly increasing with no gaps per
// conversation. A turn is immutable once written.
type Turn struct {
	ID             string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	TurnNum        int64     `json:"turn_num"`
	SpeakerID      string    `json:"speaker_id"`
	Content        string    `json:"content"`
	EmotionTag     string    `json:"emotion_tag,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

var ErrEmptyContent = errors.New("turn content is empty")

// Store is the append-only dialogue log, one independent turn sequence per
// conversation. Appends to the same conversation are serialized by the store;
// different conversations proceed in parallel.
type Store interface {
	AppendTurn(ctx context.Context, conversationID, speakerID, content, emotionTag string) (Turn, error)
	Recent(ctx context.Context, conversationID string, limit int) ([]Turn, error)
	All(ctx context.Context, conversationID string) ([]Turn, error)
	Close() error
}
