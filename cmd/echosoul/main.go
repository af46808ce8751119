package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echosoul-labs/echosoul/internal/catalog"
	"github.com/echosoul-labs/echosoul/internal/config"
	"github.com/echosoul-labs/echosoul/internal/convo"
	"github.com/echosoul-labs/echosoul/internal/engine"
	"github.com/echosoul-labs/echosoul/internal/generator"
	"github.com/echosoul-labs/echosoul/internal/history"
	"github.com/echosoul-labs/echosoul/internal/httpapi"
	"github.com/echosoul-labs/echosoul/internal/observability"
	"github.com/echosoul-labs/echosoul/internal/relgraph"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewGenStageWindow(256)

	cat, err := catalog.Load(cfg.DataDir)
	if err != nil {
		log.Fatalf("character catalog load failed: %v", err)
	}
	graph, err := relgraph.Load(cfg.DataDir)
	if err != nil {
		log.Fatalf("relationship graph load failed: %v", err)
	}
	log.Printf("loaded %d characters, %d relationship edges from %s", cat.Len(), graph.Len(), cfg.DataDir)

	ctx := context.Background()
	hist, err := history.New(ctx, cfg.HistoryDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer hist.Close()

	convos, err := convo.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.ConvoTTL)
	if err != nil {
		log.Fatalf("conversation registry init failed: %v", err)
	}
	defer convos.Close()

	adapter, err := generator.New(generator.Config{
		Mode:    cfg.GeneratorMode,
		HTTPURL: cfg.GeneratorHTTPURL,
		Timeout: cfg.GeneratorTimeout,
	})
	if err != nil {
		log.Fatalf("generator adapter init failed: %v", err)
	}

	eng := engine.New(engine.Config{
		HistoryWindow:     cfg.HistoryWindow,
		HistoryLimitCap:   cfg.HistoryLimitCap,
		MaxContentLen:     cfg.MaxContentLen,
		GenerationTimeout: cfg.GeneratorTimeout,
	}, cat, graph, hist, convos, adapter, metrics, stages)

	api := httpapi.New(cfg, eng, cat, graph, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if mr, ok := convos.(*convo.MemoryRegistry); ok {
		mr.StartJanitor(runCtx, time.Minute)
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
