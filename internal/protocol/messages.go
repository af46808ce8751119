package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Inbound message types.
const (
	TypeStartAISession         MessageType = "start_ai_session"
	TypeChatMessage            MessageType = "chat_message"
	TypeGetAICharacters        MessageType = "get_ai_characters"
	TypeGetConversationHistory MessageType = "get_conversation_history"
	TypeEndAISession           MessageType = "end_ai_session"
	TypePing                   MessageType = "ping"
)

// Outbound message types.
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypeAISessionStarted      MessageType = "ai_session_started"
	TypeAISessionEnded        MessageType = "ai_session_ended"
	TypeUserMessageSent       MessageType = "user_message_sent"
	TypeAIStreamStart         MessageType = "ai_stream_start"
	TypeAIStreamChunk         MessageType = "ai_stream_chunk"
	TypeAIStreamEnd           MessageType = "ai_stream_end"
	TypeAIError               MessageType = "ai_error"
	TypeResponse              MessageType = "response"
	TypeError                 MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// --- inbound ---

type StartAISession struct {
	Type           MessageType `json:"type"`
	AICharacterID  string      `json:"ai_character_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

type ChatMessage struct {
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	ConversationID string      `json:"conversation_id"`
	MessageType    string      `json:"message_type"`
}

type GetAICharacters struct {
	Type MessageType `json:"type"`
}

type GetConversationHistory struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Limit          int         `json:"limit,omitempty"`
}

type EndAISession struct {
	Type MessageType `json:"type"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

// --- outbound ---

type ConnectionEstablished struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

type AISessionStarted struct {
	Type          MessageType `json:"type"`
	AICharacterID string      `json:"ai_character_id"`
	Message       string      `json:"message"`
	Timestamp     string      `json:"timestamp"`
}

type AISessionEnded struct {
	Type          MessageType `json:"type"`
	AICharacterID string      `json:"ai_character_id"`
	Message       string      `json:"message"`
	Timestamp     string      `json:"timestamp"`
}

type UserMessageSent struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	TurnNum   int64       `json:"turn_num"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
}

type AIStreamStart struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	Timestamp string      `json:"timestamp"`
}

type AIStreamChunk struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	Chunk     string      `json:"chunk"`
	Timestamp string      `json:"timestamp"`
}

type AIStreamEnd struct {
	Type         MessageType `json:"type"`
	MessageID    string      `json:"message_id"`
	FinalContent string      `json:"final_content"`
	TurnNum      int64       `json:"turn_num"`
	Timestamp    string      `json:"timestamp"`
}

type AIError struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Error     string      `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// Response wraps the handler result for one inbound message. Every inbound
// message yields exactly one Response; acks and stream pushes are extra.
type Response struct {
	Type         MessageType `json:"type"`
	OriginalType MessageType `json:"original_type"`
	Result       Result      `json:"result"`
}

// Result is the success/error payload inside a Response envelope.
type Result struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"-"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Code != "" {
		out["code"] = r.Code
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// ErrorNotice is pushed for frames that cannot be parsed at all (invalid
// JSON), where no original_type is recoverable.
type ErrorNotice struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// Timestamp renders the wall clock the way the wire format expects.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

// ParseClientMessage decodes one inbound frame. It returns the decoded
// message, the declared envelope type (when recoverable), and an error for
// malformed frames or unsupported types.
func ParseClientMessage(raw []byte) (any, MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartAISession:
		var msg StartAISession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, env.Type, err
		}
		if msg.AICharacterID == "" {
			return nil, env.Type, errors.New("ai_character_id is required")
		}
		return msg, env.Type, nil
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, env.Type, err
		}
		if msg.ConversationID == "" {
			return nil, env.Type, errors.New("conversation_id is required")
		}
		if msg.MessageType == "" {
			msg.MessageType = "text"
		}
		return msg, env.Type, nil
	case TypeGetAICharacters:
		return GetAICharacters{Type: env.Type}, env.Type, nil
	case TypeGetConversationHistory:
		var msg GetConversationHistory
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, env.Type, err
		}
		if msg.ConversationID == "" {
			return nil, env.Type, errors.New("conversation_id is required")
		}
		return msg, env.Type, nil
	case TypeEndAISession:
		return EndAISession{Type: env.Type}, env.Type, nil
	case TypePing:
		return Ping{Type: env.Type}, env.Type, nil
	default:
		if env.Type == "" {
			return nil, "", errors.New("missing message type")
		}
		return nil, env.Type, fmt.Errorf("%w: %s", ErrUnsupportedType, env.Type)
	}
}
