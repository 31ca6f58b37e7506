package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/api"
	"github.com/manpreetbhatti/whiteboard/backend/internal/app"
	"github.com/manpreetbhatti/whiteboard/backend/internal/bus"
	"github.com/manpreetbhatti/whiteboard/backend/internal/db"
	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
	"github.com/manpreetbhatti/whiteboard/backend/internal/sampler"
	"github.com/manpreetbhatti/whiteboard/backend/internal/session"
	"github.com/manpreetbhatti/whiteboard/backend/internal/ws"
)

// historyStore is what the server needs from any backend
type historyStore interface {
	session.HistoryStore
	api.RoomLister
	Close() error
}

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := app.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := app.NewLogger(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to initialize history store")
	}
	defer store.Close()

	storeSampler := sampler.New(store, sampler.DefaultConfig(), logger)
	storeSampler.Start()
	defer storeSampler.Stop()

	var relay ws.Bus
	if cfg.RedisAddr != "" {
		redisBus, err := bus.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		defer redisBus.Close()
		relay = redisBus
	}

	hub := ws.NewHub(logger, relay)
	go hub.Run(ctx)

	sessions := session.New(store, hub, logger)
	apiHandler := api.New(hub, store, logger)

	mux := http.NewServeMux()
	serveWs := func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(sessions, logger, w, r)
	}
	mux.HandleFunc("GET /ws/{roomID}", serveWs)
	mux.HandleFunc("GET /ws", serveWs)

	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logEndpoints(logger, cfg)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server crashed")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown")
	}
}

func openStore(ctx context.Context, cfg app.Config) (historyStore, error) {
	switch cfg.Store {
	case app.StoreMongo:
		return db.NewMongo(ctx, db.MongoConfig{
			URI:        cfg.MongoURI(),
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	case app.StoreMemory:
		return db.NewMemory(), nil
	default:
		return db.New(cfg.DBPath)
	}
}

func logEndpoints(logger zerolog.Logger, cfg app.Config) {
	logger.Info().
		Str("addr", cfg.HTTPAddr).
		Str("store", cfg.Store).
		Bool("relay", cfg.RedisAddr != "").
		Msg("whiteboard server starting")
	logger.Debug().Msg("endpoints: GET /ws/{roomID}, GET /ws?room={roomID}, GET /health, GET /api/stats, GET /api/rooms, GET /api/rooms/{id}, GET /metrics")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
