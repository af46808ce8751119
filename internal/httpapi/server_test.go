package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/config"
	"github.com/echosoul-labs/echosoul/internal/convo"
	"github.com/echosoul-labs/echosoul/internal/engine"
	"github.com/echosoul-labs/echosoul/internal/generator"
	"github.com/echosoul-labs/echosoul/internal/history"
	"github.com/echosoul-labs/echosoul/internal/observability"
	"github.com/echosoul-labs/echosoul/internal/relgraph"
)

func writeAPITestData(t *testing.T, dir string) {
	t.Helper()
	characters := `[
	  {"char_id": "char_jva1t0fu", "name": "Shirai Kuroko", "nickname": "Kuroko",
	   "identity": ["judgment member"], "personality": ["devoted"],
	   "speech_feature": ["formal register"]}
	]`
	relationships := `[
	  {"from": "char_jva1t0fu", "to": "misaka_mikoto", "relationship_type": "admires", "intensity": 10}
	]`
	for name, body := range map[string]string{
		"characters.json":    characters,
		"relationships.json": relationships,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	writeAPITestData(t, dir)

	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	graph, err := relgraph.Load(dir)
	if err != nil {
		t.Fatalf("relgraph.Load() error = %v", err)
	}
	hist := history.NewMemoryStore()
	t.Cleanup(func() { _ = hist.Close() })
	convos := convo.NewMemoryRegistry(time.Hour)

	metrics := observability.NewMetrics(fmt.Sprintf("echosoul_test_httpapi_%d", time.Now().UnixNano()))
	stages := observability.NewGenStageWindow(64)
	eng := engine.New(engine.Config{}, cat, graph, hist, convos, generator.NewMockAdapter(), metrics, stages)

	cfg := config.Config{DataDir: dir}
	srv := New(cfg, eng, cat, graph, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, dir
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return res.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	ts, _ := newTestServer(t)

	if status := getJSON(t, ts.URL+"/healthz", nil); status != http.StatusOK {
		t.Fatalf("healthz status = %d", status)
	}
	var ready map[string]any
	if status := getJSON(t, ts.URL+"/readyz", &ready); status != http.StatusOK {
		t.Fatalf("readyz status = %d", status)
	}
	if ready["characters"].(float64) != 1 {
		t.Fatalf("readyz = %+v, want 1 character", ready)
	}
}

func TestCharactersEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	if status := getJSON(t, ts.URL+"/v1/ai-chat/characters", &body); status != http.StatusOK {
		t.Fatalf("characters status = %d", status)
	}
	if body["total"].(float64) != 1 {
		t.Fatalf("total = %v, want 1", body["total"])
	}
	characters := body["characters"].([]any)
	first := characters[0].(map[string]any)
	if first["char_id"] != "char_jva1t0fu" {
		t.Fatalf("characters = %+v", characters)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	if status := getJSON(t, ts.URL+"/v1/ai-chat/stats", &body); status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	for _, key := range []string{"active_connections", "active_sessions", "characters", "relationship_edges", "generation"} {
		if _, ok := body[key]; !ok {
			t.Errorf("stats missing %q: %+v", key, body)
		}
	}
}

func TestReloadDataKeepsOldSnapshotOnFailure(t *testing.T) {
	ts, dir := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/admin/reload-data", "application/json", nil)
	if err != nil {
		t.Fatalf("reload request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d, want 200", res.StatusCode)
	}

	// Corrupt the dataset; reload must fail and the old snapshot keep serving.
	if err := os.WriteFile(filepath.Join(dir, "characters.json"), []byte(`[{"name":"no id"}]`), 0o644); err != nil {
		t.Fatalf("corrupt characters.json: %v", err)
	}
	res, err = http.Post(ts.URL+"/v1/admin/reload-data", "application/json", nil)
	if err != nil {
		t.Fatalf("reload request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("reload status = %d, want 422", res.StatusCode)
	}

	var body map[string]any
	getJSON(t, ts.URL+"/v1/ai-chat/characters", &body)
	if body["total"].(float64) != 1 {
		t.Fatalf("total after failed reload = %v, want old snapshot", body["total"])
	}
}

func TestChatWebSocketFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/ai-chat/19"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s error = %v", wsURL, err)
	}
	defer conn.Close()

	readFrame := func() map[string]any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return frame
	}

	if frame := readFrame(); frame["type"] != "connection_established" {
		t.Fatalf("first frame = %+v, want connection_established", frame)
	}

	if err := conn.WriteJSON(map[string]any{"type": "start_ai_session", "ai_character_id": "char_jva1t0fu"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if frame := readFrame(); frame["type"] != "ai_session_started" {
		t.Fatalf("frame = %+v, want ai_session_started", frame)
	}
	frame := readFrame()
	if frame["type"] != "response" || frame["original_type"] != "start_ai_session" {
		t.Fatalf("frame = %+v, want start_ai_session response", frame)
	}
	result := frame["result"].(map[string]any)
	if result["success"] != true {
		t.Fatalf("result = %+v", result)
	}
	conversationID := result["conversation_id"].(string)

	if err := conn.WriteJSON(map[string]any{
		"type":            "chat_message",
		"content":         "你好",
		"conversation_id": conversationID,
		"message_type":    "text",
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if frame := readFrame(); frame["type"] != "user_message_sent" || frame["turn_num"].(float64) != 1 {
		t.Fatalf("frame = %+v, want user_message_sent turn 1", frame)
	}
	if frame := readFrame(); frame["type"] != "response" {
		t.Fatalf("frame = %+v, want chat_message response", frame)
	}

	sawEnd := false
	for !sawEnd {
		switch frame := readFrame(); frame["type"] {
		case "ai_stream_start", "ai_stream_chunk":
		case "ai_stream_end":
			if frame["final_content"].(string) == "" {
				t.Fatalf("frame = %+v, want final content", frame)
			}
			sawEnd = true
		default:
			t.Fatalf("unexpected frame %+v", frame)
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	frame = readFrame()
	if frame["type"] != "response" || frame["original_type"] != "ping" {
		t.Fatalf("frame = %+v, want ping response", frame)
	}
	if frame["result"].(map[string]any)["type"] != "pong" {
		t.Fatalf("ping result = %+v, want pong", frame["result"])
	}
}
