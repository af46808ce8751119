package convo

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

var (
	ErrNotFound = errors.New("conversation not found")
	// ErrOwnership is returned when a conversation exists but belongs to a
	// different user or a different character. A conversation id, once
	// issued, always maps to the same user and character.
	ErrOwnership = errors.New("conversation not owned by caller")
)

// Conversation is the durable binding between a conversation id and its user
// and character. It outlives the websocket connection so a client can resume
// after a reconnect.
type Conversation struct {
	ID             string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	CharacterID    string    `json:"character_id"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Registry stores conversation bindings. Backends: in-process map (default)
// and redis (survives restarts, shared across instances).
type Registry interface {
	// Create issues a new conversation id bound to (userID, characterID).
	Create(ctx context.Context, userID, characterID string) (Conversation, error)
	// Get returns the binding or ErrNotFound.
	Get(ctx context.Context, id string) (Conversation, error)
	// Resume reactivates an existing conversation after verifying that the
	// caller and character match the original binding.
	Resume(ctx context.Context, id, userID, characterID string) (Conversation, error)
	// Touch refreshes last-activity time.
	Touch(ctx context.Context, id string) error
	// End marks the conversation closed; the binding itself is retained so
	// the id can never be reissued with a different owner.
	End(ctx context.Context, id string) (Conversation, error)
	Close() error
}
