package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echosoul-labs/echosoul/internal/convo"
	"github.com/echosoul-labs/echosoul/internal/protocol"
)

// ConnState is the per-connection state machine phase.
type ConnState string

const (
	StateConnected     ConnState = "connected"
	StateSessionActive ConnState = "session_active"
	StateEnded         ConnState = "ended"
)

const (
	outboundBuffer      = 64
	defaultHistoryLimit = 20
)

// Connection is one live chat connection's state machine. Handle is invoked
// only from the connection's read pump, so inbound messages are processed in
// arrival order; the generation goroutine synchronizes through mu.
type Connection struct {
	id     string
	userID string
	eng    *Engine
	out    chan any

	mu             sync.Mutex
	state          ConnState
	conversationID string
	characterID    string
	genCancel      context.CancelFunc
	genMessageID   string
	closed         bool
}

// ID returns the connection's registry key.
func (c *Connection) ID() string { return c.id }

// UserID returns the trusted user identity bound at accept time.
func (c *Connection) UserID() string { return c.userID }

// Outbound is the frame stream for the connection's single writer.
func (c *Connection) Outbound() <-chan any { return c.out }

// State reports the current machine phase.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the connection down: cancels in-flight generation, closes the
// session if one is active, and removes the connection from the registry.
// Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.genCancel
	c.genCancel = nil
	c.genMessageID = ""
	hadSession := c.state == StateSessionActive
	conversationID := c.conversationID
	c.state = StateEnded
	c.conversationID = ""
	c.characterID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hadSession {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := c.eng.convos.End(ctx, conversationID); err != nil {
			log.Printf("connection %s: close conversation %s: %v", c.id, conversationID, err)
		}
		done()
		c.eng.metrics.ActiveSessions.Dec()
		c.eng.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}

	c.eng.drop(c.id)
	c.eng.metrics.ActiveConnections.Dec()
	c.eng.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	close(c.out)
}

// send enqueues an outbound frame. Frames for a closed connection are
// discarded; a full buffer drops the frame rather than blocking the caller.
func (c *Connection) send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- v:
	default:
		log.Printf("connection %s: outbound buffer full, dropping %T", c.id, v)
	}
}

func (c *Connection) pushConnectionEstablished() {
	c.send(protocol.ConnectionEstablished{
		Type:      protocol.TypeConnectionEstablished,
		Message:   "AI chat connection established",
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

// Handle processes one raw inbound frame. Every parseable frame yields
// exactly one response envelope; acks and stream pushes are extra.
func (c *Connection) Handle(ctx context.Context, raw []byte) {
	msg, msgType, err := protocol.ParseClientMessage(raw)
	if err != nil {
		if msgType == "" {
			c.eng.metrics.WSMessages.WithLabelValues("in", "invalid").Inc()
			c.send(protocol.ErrorNotice{
				Type:      protocol.TypeError,
				Message:   "invalid message format",
				Timestamp: protocol.Timestamp(time.Now()),
			})
			return
		}
		c.eng.metrics.WSMessages.WithLabelValues("in", string(msgType)).Inc()
		c.respondErr(msgType, errf(CodeValidation, "%s", err.Error()))
		return
	}
	c.eng.metrics.WSMessages.WithLabelValues("in", string(msgType)).Inc()

	var data map[string]any
	var after func()
	switch m := msg.(type) {
	case protocol.StartAISession:
		data, err = c.handleStartSession(ctx, m)
	case protocol.ChatMessage:
		data, after, err = c.handleChatMessage(ctx, m)
	case protocol.GetAICharacters:
		data, err = c.handleGetCharacters()
	case protocol.GetConversationHistory:
		data, err = c.handleGetHistory(ctx, m)
	case protocol.EndAISession:
		data, err = c.handleEndSession(ctx)
	case protocol.Ping:
		data = map[string]any{
			"type":      "pong",
			"timestamp": protocol.Timestamp(time.Now()),
		}
	default:
		err = errf(CodeValidation, "unsupported message type %q", msgType)
	}

	if err != nil {
		c.respondErr(msgType, err)
		return
	}
	c.respond(msgType, data)
	// Detached work starts only after the response envelope is queued, so the
	// client never sees stream frames before the ack pair.
	if after != nil {
		after()
	}
}

func (c *Connection) respond(originalType protocol.MessageType, data map[string]any) {
	c.eng.metrics.WSMessages.WithLabelValues("out", string(protocol.TypeResponse)).Inc()
	c.send(protocol.Response{
		Type:         protocol.TypeResponse,
		OriginalType: originalType,
		Result:       protocol.Result{Success: true, Data: data},
	})
}

func (c *Connection) respondErr(originalType protocol.MessageType, err error) {
	code := classify(err)
	if code == CodeInternal {
		log.Printf("connection %s: %s failed: %v", c.id, originalType, err)
	}
	c.eng.metrics.WSMessages.WithLabelValues("out", string(protocol.TypeResponse)).Inc()
	c.send(protocol.Response{
		Type:         protocol.TypeResponse,
		OriginalType: originalType,
		Result:       protocol.Result{Success: false, Code: string(code), Error: err.Error()},
	})
}

func (c *Connection) handleStartSession(ctx context.Context, msg protocol.StartAISession) (map[string]any, error) {
	character, err := c.eng.catalog.Character(msg.AICharacterID)
	if err != nil {
		return nil, errf(CodeNotFound, "unknown character %q", msg.AICharacterID)
	}

	c.mu.Lock()
	if c.state == StateSessionActive {
		c.mu.Unlock()
		return nil, errf(CodeState, "a session is already active; end it first")
	}
	c.mu.Unlock()

	conversation, err := c.startConversation(ctx, msg.ConversationID, character.CharID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = StateSessionActive
	c.conversationID = conversation.ID
	c.characterID = character.CharID
	c.mu.Unlock()

	c.eng.metrics.ActiveSessions.Inc()
	c.eng.metrics.SessionEvents.WithLabelValues("session_started").Inc()

	c.push(protocol.TypeAISessionStarted, protocol.AISessionStarted{
		Type:          protocol.TypeAISessionStarted,
		AICharacterID: character.CharID,
		Message:       "AI session started with " + character.Name,
		Timestamp:     protocol.Timestamp(time.Now()),
	})

	return map[string]any{
		"conversation_id": conversation.ID,
		"ai_character":    characterSummary(character.CharID, character.Name, character.Nickname, character.Description),
	}, nil
}

func (c *Connection) handleChatMessage(ctx context.Context, msg protocol.ChatMessage) (map[string]any, func(), error) {
	c.mu.Lock()
	if c.state != StateSessionActive {
		c.mu.Unlock()
		return nil, nil, errf(CodeState, "no active AI session")
	}
	conversationID := c.conversationID
	characterID := c.characterID
	c.mu.Unlock()

	if msg.ConversationID != conversationID {
		return nil, nil, errf(CodePermission, "conversation %q does not belong to this session", msg.ConversationID)
	}
	if msg.Content == "" {
		return nil, nil, errf(CodeValidation, "content must not be empty")
	}
	if n := len([]rune(msg.Content)); n > c.eng.cfg.MaxContentLen {
		return nil, nil, errf(CodeValidation, "content length %d exceeds limit %d", n, c.eng.cfg.MaxContentLen)
	}

	turn, err := c.eng.history.AppendTurn(ctx, conversationID, c.userID, msg.Content, "")
	if err != nil {
		return nil, nil, err
	}
	c.eng.metrics.HistoryTurns.WithLabelValues("user").Inc()
	if err := c.eng.convos.Touch(ctx, conversationID); err != nil {
		log.Printf("connection %s: touch conversation %s: %v", c.id, conversationID, err)
	}

	c.push(protocol.TypeUserMessageSent, protocol.UserMessageSent{
		Type:      protocol.TypeUserMessageSent,
		MessageID: turn.ID,
		TurnNum:   turn.TurnNum,
		Content:   turn.Content,
		Timestamp: protocol.Timestamp(turn.CreatedAt),
	})

	// A fresh chat message supersedes any generation still in flight.
	messageID := uuid.NewString()
	genCtx, cancel := context.WithTimeout(context.Background(), c.eng.cfg.GenerationTimeout)

	c.mu.Lock()
	if c.genCancel != nil {
		c.genCancel()
	}
	c.genCancel = cancel
	c.genMessageID = messageID
	c.mu.Unlock()

	after := func() {
		go c.generate(genCtx, cancel, conversationID, characterID, messageID, msg.Content)
	}
	return map[string]any{
		"message_id": turn.ID,
		"turn_num":   turn.TurnNum,
	}, after, nil
}

func (c *Connection) handleGetCharacters() (map[string]any, error) {
	characters := c.eng.catalog.Characters()
	out := make([]map[string]any, 0, len(characters))
	for _, ch := range characters {
		out = append(out, characterSummary(ch.CharID, ch.Name, ch.Nickname, ch.Description))
	}
	return map[string]any{
		"characters": out,
		"total":      len(out),
	}, nil
}

func (c *Connection) handleGetHistory(ctx context.Context, msg protocol.GetConversationHistory) (map[string]any, error) {
	conversation, err := c.eng.convos.Get(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conversation.UserID != c.userID {
		return nil, errf(CodePermission, "conversation %q does not belong to this user", msg.ConversationID)
	}

	limit := msg.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > c.eng.cfg.HistoryLimitCap {
		limit = c.eng.cfg.HistoryLimitCap
	}

	turns, err := c.eng.history.Recent(ctx, msg.ConversationID, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, map[string]any{
			"message_id": t.ID,
			"turn_num":   t.TurnNum,
			"speaker_id": t.SpeakerID,
			"content":    t.Content,
			"emotion":    t.EmotionTag,
			"timestamp":  protocol.Timestamp(t.CreatedAt),
		})
	}
	return map[string]any{
		"conversation_id": msg.ConversationID,
		"messages":        messages,
		"count":           len(messages),
	}, nil
}

func (c *Connection) handleEndSession(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	if c.state != StateSessionActive {
		c.mu.Unlock()
		return nil, errf(CodeState, "no active AI session")
	}
	conversationID := c.conversationID
	characterID := c.characterID
	cancel := c.genCancel
	c.genCancel = nil
	c.genMessageID = ""
	c.state = StateEnded
	c.conversationID = ""
	c.characterID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if _, err := c.eng.convos.End(ctx, conversationID); err != nil {
		log.Printf("connection %s: end conversation %s: %v", c.id, conversationID, err)
	}

	c.eng.metrics.ActiveSessions.Dec()
	c.eng.metrics.SessionEvents.WithLabelValues("session_ended").Inc()

	c.push(protocol.TypeAISessionEnded, protocol.AISessionEnded{
		Type:          protocol.TypeAISessionEnded,
		AICharacterID: characterID,
		Message:       "AI session ended",
		Timestamp:     protocol.Timestamp(time.Now()),
	})

	return map[string]any{"conversation_id": conversationID}, nil
}

func (c *Connection) startConversation(ctx context.Context, conversationID, characterID string) (convo.Conversation, error) {
	if conversationID == "" {
		return c.eng.convos.Create(ctx, c.userID, characterID)
	}
	return c.eng.convos.Resume(ctx, conversationID, c.userID, characterID)
}

// push emits a non-response frame and counts it.
func (c *Connection) push(t protocol.MessageType, v any) {
	c.eng.metrics.WSMessages.WithLabelValues("out", string(t)).Inc()
	c.send(v)
}

func characterSummary(id, name, nickname, description string) map[string]any {
	return map[string]any{
		"char_id":     id,
		"name":        name,
		"nickname":    nickname,
		"description": description,
	}
}
