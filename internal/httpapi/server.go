package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/config"
	"github.com/echosoul-labs/echosoul/internal/engine"
	"github.com/echosoul-labs/echosoul/internal/observability"
	"github.com/echosoul-labs/echosoul/internal/relgraph"
)

// Server carries the HTTP surface: the chat websocket endpoint, health and
// metrics probes, and the read-only ops endpoints.
type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	catalog  *catalog.Catalog
	graph    *relgraph.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, eng *engine.Engine, cat *catalog.Catalog, graph *relgraph.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		catalog: cat,
		graph:   graph,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a user's chat
				// session if the service is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/ai-chat/{user_id}", s.handleChatWS)

	r.Get("/v1/ai-chat/stats", s.handleStats)
	r.Get("/v1/ai-chat/characters", s.handleCharacters)
	r.Post("/v1/admin/reload-data", s.handleReloadData)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"characters": s.catalog.Len(),
		"edges":      s.graph.Len(),
	})
}

// handleChatWS upgrades the connection and bridges it to a session engine
// connection: one read pump feeding Handle, one writer goroutine draining the
// outbound channel. Websocket writes stay single-threaded.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "path parameter user_id is required")
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer wsConn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := s.engine.Connect(userID)
	defer conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range conn.Outbound() {
			_ = wsConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := wsConn.WriteJSON(msg); err != nil {
				// Unblock the read pump; keep draining so Close can finish.
				_ = wsConn.Close()
				for range conn.Outbound() {
				}
				return
			}
		}
	}()

	// Connections with no frames for the inactivity window are torn down;
	// any inbound frame (including ping) refreshes the deadline.
	idle := s.cfg.SessionInactivityTimeout
	if idle <= 0 {
		idle = 120 * time.Second
	}
	wsConn.SetReadLimit(1 << 20)
	_ = wsConn.SetReadDeadline(time.Now().Add(idle))
	wsConn.SetPongHandler(func(string) error {
		_ = wsConn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(idle))
		conn.Handle(ctx, data)
	}

	conn.Close()
	<-writerDone
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active_connections": s.engine.ConnectionCount(),
		"active_sessions":    s.engine.SessionCount(),
		"characters":         s.catalog.Len(),
		"relationship_edges": s.graph.Len(),
		"generation":         s.engine.StageSnapshot(),
	})
}

func (s *Server) handleCharacters(w http.ResponseWriter, _ *http.Request) {
	characters := s.catalog.Characters()
	out := make([]map[string]any, 0, len(characters))
	for _, ch := range characters {
		out = append(out, map[string]any{
			"char_id":     ch.CharID,
			"name":        ch.Name,
			"nickname":    ch.Nickname,
			"description": ch.Description,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"characters": out,
		"total":      len(out),
	})
}

// handleReloadData reloads the reference datasets. A validation failure keeps
// the previous snapshots serving.
func (s *Server) handleReloadData(w http.ResponseWriter, _ *http.Request) {
	if err := s.catalog.Reload(s.cfg.DataDir); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "catalog_reload_failed", err.Error())
		return
	}
	if err := s.graph.Reload(s.cfg.DataDir); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "relgraph_reload_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"characters": s.catalog.Len(),
		"edges":      s.graph.Len(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
