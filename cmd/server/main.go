package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/talosprotocol/a2a-relay-go/internal/config"
	"github.com/talosprotocol/a2a-relay-go/internal/database"
	"github.com/talosprotocol/a2a-relay-go/internal/handler"
	"github.com/talosprotocol/a2a-relay-go/internal/jobs"
	"github.com/talosprotocol/a2a-relay-go/internal/ledger"
	"github.com/talosprotocol/a2a-relay-go/internal/notify"
	"github.com/talosprotocol/a2a-relay-go/internal/repository"
	"github.com/talosprotocol/a2a-relay-go/internal/service"
)

// main wires services behind health endpoints only. Request dispatch,
// authentication, and the wire protocol live in the front-end process; this
// binary owns storage, the event chains, and retention.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	readDB := db
	if cfg.ReadReplicaURL != "" {
		readDB, err = database.Connect(cfg.ReadReplicaURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to read replica")
		}
		defer readDB.Close()
		log.Info().Msg("read replica connected")
	}

	var broker *notify.Broker
	if cfg.RedisURL != "" {
		redisClient, err := notify.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		broker = notify.NewBroker(redisClient)
		defer broker.Close()
	}

	sessionService := service.NewSessionService(db, ledger.NewSessionLedger(), cfg.SessionTTL())
	frameService := service.NewFrameService(db, readDB, broker).
		WithLimits(cfg.FrameMaxBytes, int64(cfg.FrameMaxSeqJump))
	groupService := service.NewGroupService(db, ledger.NewGroupLedger())

	diagnosticsHandler := handler.NewDiagnosticsHandler(sessionService, frameService, groupService)

	retentionJob := jobs.NewRetentionJob(
		repository.NewFrameRepository(db.DB),
		repository.NewRetentionRepository(db.DB),
		cfg.RetentionAge(),
		cfg.RetentionInterval(),
	)
	retentionJob.Start()
	defer retentionJob.Stop()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Mount("/", diagnosticsHandler.Routes())
		if broker != nil {
			eventsHandler := handler.NewEventsHandler(broker)
			r.Get("/recipients/{id}/events", eventsHandler.ServeHTTP)
		}
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
