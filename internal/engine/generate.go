package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/echosoul-labs/echosoul/internal/generator"
	"github.com/echosoul-labs/echosoul/internal/observability"
	"github.com/echosoul-labs/echosoul/internal/protocol"
)

// errSuperseded aborts a stream whose result must no longer be delivered:
// the session ended, the connection closed, or a newer chat message took
// over the generation slot.
var errSuperseded = errors.New("generation superseded")

// current reports whether messageID still owns the generation slot for
// conversationID on a live session.
func (c *Connection) current(conversationID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed &&
		c.state == StateSessionActive &&
		c.conversationID == conversationID &&
		c.genMessageID == messageID
}

// clearGeneration releases the generation slot if messageID still owns it.
func (c *Connection) clearGeneration(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.genMessageID == messageID {
		c.genMessageID = ""
		c.genCancel = nil
	}
}

// generate runs the detached reply pipeline for one user message: assemble
// context, stream the reply, append the AI turn, push stream frames. Stale
// results are discarded, never delivered.
func (c *Connection) generate(ctx context.Context, cancel context.CancelFunc, conversationID, characterID, messageID, input string) {
	defer cancel()
	defer c.clearGeneration(messageID)

	startedAt := time.Now()

	bundle, err := c.eng.assembler.Assemble(ctx, characterID, conversationID, []string{c.userID}, "")
	if err != nil {
		c.finishGeneration(ctx, conversationID, messageID, err)
		return
	}
	c.eng.stages.Observe(observability.StageContextAssembly, time.Since(startedAt))

	if !c.current(conversationID, messageID) {
		c.eng.metrics.GenerationResults.WithLabelValues("cancelled").Inc()
		return
	}

	// ai_stream_start is deferred to the first delta so a superseded or
	// failed generation never opens a bracket it cannot close.
	streamOpen := false
	openStream := func() {
		if streamOpen {
			return
		}
		streamOpen = true
		c.push(protocol.TypeAIStreamStart, protocol.AIStreamStart{
			Type:      protocol.TypeAIStreamStart,
			MessageID: messageID,
			Timestamp: protocol.Timestamp(time.Now()),
		})
	}

	reply, err := c.eng.gen.StreamReply(ctx, generator.Request{
		UserID:         c.userID,
		CharacterID:    characterID,
		CharacterName:  bundle.Character.Nickname,
		ConversationID: conversationID,
		Context:        bundle.Render(),
		InputText:      input,
	}, func(delta string) error {
		if !c.current(conversationID, messageID) {
			return errSuperseded
		}
		if !streamOpen {
			c.eng.stages.Observe(observability.StageFirstDelta, time.Since(startedAt))
			openStream()
		}
		c.push(protocol.TypeAIStreamChunk, protocol.AIStreamChunk{
			Type:      protocol.TypeAIStreamChunk,
			MessageID: messageID,
			Chunk:     delta,
			Timestamp: protocol.Timestamp(time.Now()),
		})
		return nil
	})
	if err != nil {
		c.finishGeneration(ctx, conversationID, messageID, err)
		return
	}
	if !c.current(conversationID, messageID) {
		c.eng.metrics.GenerationResults.WithLabelValues("cancelled").Inc()
		return
	}

	// The AI turn is durable before the client sees the stream end, so a
	// reconnecting client always finds what it was shown.
	turn, err := c.eng.history.AppendTurn(ctx, conversationID, characterID, reply.Text, reply.EmotionTag)
	if err != nil {
		c.finishGeneration(ctx, conversationID, messageID, err)
		return
	}
	c.eng.metrics.HistoryTurns.WithLabelValues("ai").Inc()

	elapsed := time.Since(startedAt)
	c.eng.metrics.ObserveGenerationLatency(elapsed)
	c.eng.stages.Observe(observability.StageReplyTotal, elapsed)
	c.eng.metrics.GenerationResults.WithLabelValues("ok").Inc()

	if !c.current(conversationID, messageID) {
		return
	}
	openStream()
	c.push(protocol.TypeAIStreamEnd, protocol.AIStreamEnd{
		Type:         protocol.TypeAIStreamEnd,
		MessageID:    messageID,
		FinalContent: reply.Text,
		TurnNum:      turn.TurnNum,
		Timestamp:    protocol.Timestamp(turn.CreatedAt),
	})
}

// finishGeneration classifies a pipeline failure, records it, and pushes an
// ai_error unless the result became stale.
func (c *Connection) finishGeneration(ctx context.Context, conversationID, messageID string, err error) {
	switch {
	case errors.Is(err, errSuperseded), errors.Is(err, context.Canceled):
		c.eng.metrics.GenerationResults.WithLabelValues("cancelled").Inc()
		return
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.eng.metrics.GenerationResults.WithLabelValues("timeout").Inc()
		if c.current(conversationID, messageID) {
			c.pushAIError(CodeTimeout, "reply generation timed out")
		}
		return
	default:
		c.eng.metrics.GenerationResults.WithLabelValues("error").Inc()
		log.Printf("connection %s: generation for %s failed: %v", c.id, conversationID, err)
		if c.current(conversationID, messageID) {
			c.pushAIError(CodeInternal, "reply generation failed")
		}
	}
}

func (c *Connection) pushAIError(code Code, message string) {
	c.push(protocol.TypeAIError, protocol.AIError{
		Type:      protocol.TypeAIError,
		Code:      string(code),
		Error:     message,
		Timestamp: protocol.Timestamp(time.Now()),
	})
}
