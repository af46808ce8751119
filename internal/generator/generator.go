package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is the normalized generation request: the rendered context bundle
// plus the user utterance that triggered the turn.
type Request struct {
	UserID         string `json:"user_id"`
	CharacterID    string `json:"character_id"`
	CharacterName  string `json:"character_name,omitempty"`
	ConversationID string `json:"conversation_id"`
	Context        string `json:"context"`
	InputText      string `json:"input_text"`
}

// Reply is the final reply after streaming deltas.
type Reply struct {
	Text       string `json:"text"`
	EmotionTag string `json:"emotion_tag,omitempty"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges the session engine with a reply generator.
type Adapter interface {
	StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration
}

func New(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("generator HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported generator mode %q", cfg.Mode)
	}
}
