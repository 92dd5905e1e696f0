// Package main our entry point.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/johndosdos/huddle/internal/chat"
	"github.com/johndosdos/huddle/internal/config"
	"github.com/johndosdos/huddle/internal/database"
	"github.com/johndosdos/huddle/internal/handler"
	"github.com/johndosdos/huddle/internal/presence"
	ratelimiter "github.com/johndosdos/huddle/internal/rate_limiter"
	"github.com/johndosdos/huddle/internal/store"
	ws "github.com/johndosdos/huddle/internal/websocket"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.LogLevel,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting huddle", "port", cfg.Port)

	// Init DB
	dbConn, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		log.Fatalf("could not connect to the postgresql database: %v", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(ctx); err != nil {
		log.Fatalf("postgresql database is unreachable: %v", err)
	}

	// goose needs a database/sql handle; it borrows connections from the pool.
	if err := database.Migrate(stdlib.OpenDBFromPool(dbConn)); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	retry := store.RetryPolicy{MaxRetries: cfg.StoreMaxRetries, Base: cfg.StoreRetryBase}
	messages := store.NewMessages(dbConn, retry)
	rooms := store.NewRooms(dbConn, retry)

	hub := ws.NewHub()
	typing := presence.New(hub, cfg.TypingTTL)
	go typing.Run(ctx)

	router := chat.NewRouter(messages, rooms, hub, typing, chat.Options{})

	limiter := ratelimiter.New(cfg.HTTPRate.Requests, cfg.HTTPRate.Window, ratelimiter.CleanupOpts{
		TTL:      3 * time.Minute,
		Interval: time.Minute,
	})
	defer limiter.Cancel()

	routes := handler.Routes(handler.Deps{
		Hub:        hub,
		Dispatcher: router.Dispatcher(),
		Rooms:      rooms,
		Chat:       router,
		DB:         dbConn,
		JWTSecret:  cfg.JWTSecret,
		JWTIssuer:  cfg.JWTIssuer,
		Ws: handler.WsOptions{
			Client: ws.ClientOptions{
				SendBuffer:   cfg.SendBuffer,
				WriteTimeout: cfg.WriteTimeout,
				PingInterval: cfg.PingInterval,
				ReadLimit:    cfg.MaxMessageBytes,
			},
			OriginPatterns: cfg.AllowedOrigins,
			MessageRate:    cfg.MessageRate,
			TypingRate:     cfg.TypingRate,
		},
		History: handler.HistoryLimits{
			Default: cfg.HistoryLimit,
			Max:     cfg.HistoryMaxLimit,
		},
		RateLimit: limiter.Middleware,
	})

	// Websocket connections are long lived, so only the header read is
	// bounded here; the hub enforces per-write timeouts.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           routes,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received; shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
