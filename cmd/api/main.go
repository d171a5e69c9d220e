package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"metrion-backend/internal/api"
	"metrion-backend/internal/bus"
	"metrion-backend/internal/config"
	"metrion-backend/internal/crypto"
	"metrion-backend/internal/logger"
	"metrion-backend/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Init("info")
		fallback := logger.WithComponent("api")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("api")

	key, err := crypto.KeyFromString(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ENCRYPTION_KEY")
	}
	enc, err := crypto.NewAESGCM(key)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build encryptor")
	}

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	var publisher *bus.Publisher
	if cfg.Broadcast.NATSURL != "" {
		publisher, err = bus.NewPublisher(cfg.Broadcast.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer publisher.Close()
	} else {
		log.Warn().Msg("no NATS url configured, control events disabled")
	}

	handler := &api.Handler{
		Repo:         repo,
		Bus:          publisher,
		Encryptor:    enc,
		MinFrequency: cfg.API.MinFrequencyMinutes,
		MaxFrequency: cfg.API.MaxFrequencyMinutes,
		Timeout:      5 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.API.RequestTimeoutSeconds) * time.Second))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.API.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().Int("port", cfg.API.Port).Msg("management api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}
}
