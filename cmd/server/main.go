package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gradski-asistent/backend/internal/assistant"
	"github.com/gradski-asistent/backend/internal/chat"
	"github.com/gradski-asistent/backend/internal/config"
	"github.com/gradski-asistent/backend/internal/db"
	"github.com/gradski-asistent/backend/internal/escalate"
	httpapi "github.com/gradski-asistent/backend/internal/http"
	"github.com/gradski-asistent/backend/internal/http/handlers"
	"github.com/gradski-asistent/backend/internal/retrieval"
)

// storeBackend is everything the process needs from a store, satisfied by
// both the Postgres store and the in-memory one.
type storeBackend interface {
	handlers.ReadStore
	chat.TranscriptStore
	escalate.TicketRepo
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "gradski-asistent").Logger()

	ctx := context.Background()

	var store storeBackend
	if cfg.DatabaseURL == "" {
		store = db.NewMemoryStore()
		logger.Info().Msg("using in-memory store")
	} else {
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		store = pg
	}

	var retriever retrieval.Retriever
	if cfg.RetrievalURL == "" {
		retriever = retrieval.MockRetriever{}
		logger.Info().Msg("using mock retriever")
	} else {
		retriever = &retrieval.HTTPRetriever{BaseURL: cfg.RetrievalURL, MinInterval: time.Second}
	}

	var streamer assistant.Streamer
	if cfg.ChatURL == "" {
		streamer = assistant.MockStreamer{ModelVersion: "mock-v1", Retriever: retriever}
		logger.Info().Msg("using mock assistant")
	} else {
		streamer = assistant.Client{BaseURL: cfg.ChatURL, APIKey: cfg.ChatAPIKey}
	}

	escalation := escalate.NewService(store, escalate.Config{
		FallbackWindow:    cfg.FallbackWindow,
		FallbackThreshold: cfg.FallbackThreshold,
	}, logger)
	autosave := escalate.NewAutosaver(escalation, logger)

	orchestrator := chat.NewOrchestrator(streamer, store, escalation, logger)
	if cfg.FirstTokenTimeout > 0 {
		orchestrator.FirstTokenTimeout = cfg.FirstTokenTimeout
	}

	router := httpapi.Router(cfg, store, orchestrator, escalation, autosave, retriever, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
