package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chat"
	"coursechat/backend/internal/config"
	"coursechat/backend/internal/db"
	"coursechat/backend/internal/handlers"
	"coursechat/backend/internal/middleware"
	"coursechat/backend/internal/realtime"
	"coursechat/backend/internal/router"
	"coursechat/backend/internal/telemetry"
	"coursechat/backend/internal/tokens"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	authService, err := auth.NewService(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}

	chatStore := chat.NewStore(store, cfg.MasterKey)
	ledger := tokens.NewLedger(tokens.NewPGStore(store))
	engine := chat.NewEngine(cfg.OpenAIBaseURL)
	hub := realtime.NewHub()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	// Telemetry goes through Redis when configured, straight to Postgres
	// otherwise. Single-host deployments commonly skip Redis.
	var recorder chat.UsageRecorder = telemetry.Direct{Store: chatStore}
	if cfg.RedisURL != "" {
		queue, err := telemetry.NewQueue(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer queue.Close()
		recorder = queue
		worker := &telemetry.Worker{Queue: queue, Store: chatStore}
		go worker.Start(workerCtx)
	}

	service := chat.NewService(chatStore, chatStore, ledger, engine, recorder, hub)
	api := handlers.NewAPI(service, chatStore, authService, cfg.OpenAIBaseURL)
	limiter := middleware.NewRateLimiter(60, time.Minute)
	rt := router.New(api, authService, limiter, cfg.FrontendOrigin, hub)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     rt,
		ReadTimeout: 10 * time.Second,
		// Assistant runs can poll for up to a minute before giving up.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWorker()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
