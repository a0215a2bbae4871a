package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mttgvnrd/Transcendence/internal/config"
	"github.com/mttgvnrd/Transcendence/internal/game"
	"github.com/mttgvnrd/Transcendence/internal/presence"
	"github.com/mttgvnrd/Transcendence/internal/report"
	"github.com/mttgvnrd/Transcendence/internal/server"
	"github.com/mttgvnrd/Transcendence/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		st, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[Main] Failed to connect to postgres: %v", err)
		}
		defer st.Close()
		if err := st.EnsureSchema(ctx); err != nil {
			log.Fatalf("[Main] Failed to ensure schema: %v", err)
		}
		log.Printf("[Main] Persistence enabled")
	} else {
		log.Printf("[Main] DATABASE_URL not set, running without persistence")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[Main] Redis unreachable at %s: %v, presence flags disabled", cfg.RedisAddr, err)
			rdb = nil
		}
	}

	// Interface fields stay nil without a store; a typed nil would defeat
	// the nil checks downstream.
	var sessions game.SessionStore
	var persistence report.Persistence
	var names presence.DisplayNames
	if st != nil {
		sessions = st
		persistence = st
		names = st
	}

	reporter := report.NewReporter(persistence, cfg.KafkaBroker)
	defer reporter.Close()

	registry := game.NewRegistry(sessions, reporter)
	gateway := game.NewGateway(registry, sessions, cfg.JWTSecret)
	pres := presence.NewService(rdb, names, cfg.JWTSecret)

	srv := server.NewServer(cfg.Port, registry, gateway, pres)

	go func() {
		log.Printf("[Main] Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main] Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] Forced shutdown: %v", err)
	}
}
