// Package main runs the explorer HTTP server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/localsql/explorer/pkg/config"
	"github.com/localsql/explorer/pkg/connection"
	"github.com/localsql/explorer/pkg/engine"
	"github.com/localsql/explorer/pkg/executor"
	"github.com/localsql/explorer/pkg/history"
	"github.com/localsql/explorer/pkg/logger"
	"github.com/localsql/explorer/pkg/metrics"
	"github.com/localsql/explorer/server/handlers"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get().Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logger.Get()

	db, err := sql.Open("duckdb", cfg.Database.Path)
	if err != nil {
		log.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	connMgr := connection.NewManager(db)
	eng := engine.New(connMgr)

	ctx := context.Background()

	hist, err := history.NewStore(ctx, connMgr)
	if err != nil {
		log.Error("failed to initialize history store", "error", err)
		os.Exit(1)
	}

	pool, err := ants.NewPool(cfg.Executor.Workers)
	if err != nil {
		log.Error("failed to create worker pool", "error", err)
		os.Exit(1)
	}
	defer pool.Release()

	policy := executor.BusyQueue
	if cfg.Executor.BusyPolicy == "reject" {
		policy = executor.BusyReject
	}
	bg, err := executor.New(eng, pool, executor.WithBusyPolicy(policy))
	if err != nil {
		log.Error("failed to create background executor", "error", err)
		os.Exit(1)
	}
	defer bg.Close()

	registry := executor.NewRegistry(cfg.Statements.TTL)
	defer registry.Close()

	collector := metrics.NewCollector(eng, cfg.Metrics.MaxRows, cfg.Metrics.SampleValues)

	queryHandler := handlers.NewQueryHandler(eng, collector, hist, cfg.History.Limit)
	stmtHandler := handlers.NewStatementHandler(bg, registry, hist)
	batchHandler := handlers.NewBatchHandler(bg, hist, cfg.Statements.TTL)
	defer batchHandler.Close()
	pageHandler := handlers.NewPaginateHandler(eng, collector, cfg, cfg.Statements.TTL)
	defer pageHandler.Close()

	router := handlers.NewRouter(queryHandler, stmtHandler, batchHandler, pageHandler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting explorer server", "addr", cfg.Server.Addr, "database", cfg.Database.Path)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}
}
