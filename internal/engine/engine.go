package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echosoul-labs/echosoul/internal/assembler"
	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/convo"
	"github.com/echosoul-labs/echosoul/internal/generator"
	"github.com/echosoul-labs/echosoul/internal/history"
	"github.com/echosoul-labs/echosoul/internal/observability"
	"github.com/echosoul-labs/echosoul/internal/relgraph"
)

// Config tunes the per-connection session machinery.
type Config struct {
	HistoryWindow     int
	HistoryLimitCap   int
	MaxContentLen     int
	GenerationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 20
	}
	if c.HistoryLimitCap <= 0 {
		c.HistoryLimitCap = 200
	}
	if c.MaxContentLen <= 0 {
		c.MaxContentLen = 10000
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 30 * time.Second
	}
	return c
}

// Engine owns every live connection's state machine and routes inbound
// messages to their handlers. All connection state lives in the registry;
// there are no ambient globals.
type Engine struct {
	cfg       Config
	catalog   *catalog.Catalog
	graph     *relgraph.Store
	history   history.Store
	convos    convo.Registry
	assembler *assembler.Assembler
	gen       generator.Adapter
	metrics   *observability.Metrics
	stages    *observability.GenStageWindow

	mu    sync.RWMutex
	conns map[string]*Connection
}

func New(
	cfg Config,
	cat *catalog.Catalog,
	graph *relgraph.Store,
	hist history.Store,
	convos convo.Registry,
	gen generator.Adapter,
	metrics *observability.Metrics,
	stages *observability.GenStageWindow,
) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		catalog:   cat,
		graph:     graph,
		history:   hist,
		convos:    convos,
		assembler: assembler.New(cat, graph, hist, cfg.HistoryWindow),
		gen:       gen,
		metrics:   metrics,
		stages:    stages,
		conns:     make(map[string]*Connection),
	}
}

// Connect registers a new connection for userID and pushes the
// connection_established greeting. The caller owns draining Outbound and must
// call Close on teardown.
func (e *Engine) Connect(userID string) *Connection {
	c := &Connection{
		id:     uuid.NewString(),
		userID: userID,
		eng:    e,
		out:    make(chan any, outboundBuffer),
		state:  StateConnected,
	}

	e.mu.Lock()
	e.conns[c.id] = c
	e.mu.Unlock()

	e.metrics.ActiveConnections.Inc()
	e.metrics.SessionEvents.WithLabelValues("connected").Inc()

	c.pushConnectionEstablished()
	return c
}

func (e *Engine) drop(id string) {
	e.mu.Lock()
	delete(e.conns, id)
	e.mu.Unlock()
}

// ConnectionCount reports the number of registered live connections.
func (e *Engine) ConnectionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// SessionCount reports connections currently holding an active session.
func (e *Engine) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, c := range e.conns {
		c.mu.Lock()
		if c.state == StateSessionActive {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// StageSnapshot exposes the generation latency window for the stats endpoint.
func (e *Engine) StageSnapshot() observability.GenStageSnapshot {
	return e.stages.Snapshot()
}
