package generator

import (
	"context"
	"fmt"
	"strings"
)

// mockChunkRunes keeps mock streaming observable: replies arrive in several
// deltas instead of one blob, like a real backend would deliver them.
const mockChunkRunes = 12

// MockAdapter produces deterministic local replies when no generation backend
// is configured. Identical requests yield identical replies.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	text := buildMockReply(req)
	for _, delta := range chunkRunes(text, mockChunkRunes) {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		default:
		}
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Reply{}, err
			}
		}
	}
	return Reply{Text: text, EmotionTag: "calm"}, nil
}

func buildMockReply(req Request) string {
	speaker := strings.TrimSpace(req.CharacterName)
	if speaker == "" {
		speaker = req.CharacterID
	}

	input := strings.TrimSpace(req.InputText)
	if input == "" {
		return fmt.Sprintf("%s is listening.", speaker)
	}
	return fmt.Sprintf("%s heard you say: %s", speaker, input)
}

func chunkRunes(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
