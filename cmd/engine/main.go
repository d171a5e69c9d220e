package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"metrion-backend/internal/alerting"
	"metrion-backend/internal/broadcast"
	"metrion-backend/internal/bus"
	"metrion-backend/internal/config"
	"metrion-backend/internal/crypto"
	"metrion-backend/internal/engine"
	"metrion-backend/internal/lifecycle"
	"metrion-backend/internal/logger"
	"metrion-backend/internal/source"
	"metrion-backend/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Init("info")
		fallback := logger.WithComponent("engine")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("engine")

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	repo := storage.NewRepository(store)

	key, err := crypto.KeyFromString(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ENCRYPTION_KEY")
	}
	enc, err := crypto.NewAESGCM(key)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build encryptor")
	}
	src := source.NewSQLValueSource(repo, enc)

	bcast, closeBroadcast, natsConn, err := buildBroadcaster(cfg.Broadcast)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Broadcast.Transport).Msg("failed to build broadcaster")
	}

	alerts := alerting.NewFanout().
		Add("store", alerting.NewStoreSink(repo)).
		Add("log", alerting.NewLogSink())
	if cfg.Alerting.WebhookURL != "" {
		hook, err := alerting.NewWebhookSink(cfg.Alerting.WebhookURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid alert webhook url")
		}
		alerts.Add("webhook", hook)
	}
	if natsConn != nil {
		alerts.Add("nats", alerting.NewNATSSink(natsConn))
	}

	executor := engine.NewExecutor(engine.ExecutorConfig{
		MaxConcurrency:   cfg.Engine.MaxConcurrency,
		ExecutionTimeout: time.Duration(cfg.Engine.ExecutionTimeoutSeconds) * time.Second,
	}, src, engine.NewHistoryBaseline(repo), repo, bcast, alerts)

	loop := engine.NewLoop(engine.LoopConfig{
		TickInterval: time.Duration(cfg.Engine.TickIntervalSeconds) * time.Second,
		DrainGrace:   time.Duration(cfg.Engine.DrainGraceSeconds) * time.Second,
	}, repo, executor)

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()

	var subscriber *bus.Subscriber
	if cfg.Broadcast.NATSURL != "" {
		subscriber, err = bus.NewSubscriber(cfg.Broadcast.NATSURL)
		if err != nil {
			log.Warn().Err(err).Msg("control bus unavailable, manual runs and cache invalidation disabled")
			subscriber = nil
		} else {
			runTimeout := time.Duration(cfg.Engine.ExecutionTimeoutSeconds+5) * time.Second
			subscribeControlEvents(subscriber, loop, src, runTimeout, log)
		}
	} else {
		log.Warn().Msg("no NATS url configured, manual runs and cache invalidation disabled")
	}

	admin := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Engine.AdminPort),
		Handler:           newAdminRouter(loop),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.Engine.AdminPort).Msg("engine admin server listening")
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin server error")
		}
	}()

	coord := lifecycle.NewCoordinator()
	drainGrace := time.Duration(cfg.Engine.DrainGraceSeconds) * time.Second
	coord.Register("scheduling-loop", 40, drainGrace+5*time.Second, func(ctx context.Context) error {
		stopLoop()
		select {
		case <-loopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if subscriber != nil {
		coord.Register("control-bus", 30, 5*time.Second, func(context.Context) error {
			subscriber.Close()
			return nil
		})
	}
	coord.Register("broadcast", 20, 5*time.Second, func(context.Context) error {
		closeBroadcast()
		return nil
	})
	coord.Register("admin-server", 10, 5*time.Second, admin.Shutdown)
	coord.RegisterCloser("value-source", src.Close)
	coord.RegisterCloser("storage", store.Close)

	waitForShutdown(coord, drainGrace, log)
}

// buildBroadcaster wires the configured transport. The NATS connection is
// returned so the alert sink can share it.
func buildBroadcaster(cfg config.BroadcastConfig) (engine.Broadcaster, func(), *nats.Conn, error) {
	switch cfg.Transport {
	case "nats":
		sink, err := broadcast.NewNATSSink(cfg.NATSURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return sink, sink.Close, sink.Conn, nil
	case "kafka":
		sink := broadcast.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		return sink, func() { _ = sink.Close() }, nil, nil
	default:
		return broadcast.NewLogSink(), func() {}, nil, nil
	}
}

func subscribeControlEvents(sub *bus.Subscriber, loop *engine.Loop, src *source.SQLValueSource, runTimeout time.Duration, log zerolog.Logger) {
	_, _ = sub.Subscribe(bus.SubjectIndicatorRun, func(evt bus.Event) {
		if evt.IndicatorID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		res, err := loop.RunNow(ctx, evt.IndicatorID)
		if err != nil {
			log.Warn().Err(err).Str("indicator_id", evt.IndicatorID).Msg("manual run failed")
			return
		}
		log.Info().Str("indicator_id", evt.IndicatorID).Str("outcome", string(res.Outcome)).Msg("manual run complete")
	})
	_, _ = sub.Subscribe(bus.SubjectConnectionUpdated, func(evt bus.Event) {
		if evt.ConnectionID == "" {
			return
		}
		src.Invalidate(evt.ConnectionID)
		log.Info().Str("connection_id", evt.ConnectionID).Msg("connection cache invalidated")
	})
}

func newAdminRouter(loop *engine.Loop) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, loop.Status())
	})
	r.Post("/loop/suspend", func(w http.ResponseWriter, _ *http.Request) {
		loop.Suspend()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/loop/resume", func(w http.ResponseWriter, _ *http.Request) {
		loop.Resume()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/loop/tick", func(w http.ResponseWriter, _ *http.Request) {
		if !loop.ForceTick() {
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": "batch already in flight or loop suspended"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// waitForShutdown blocks until a termination signal, then runs the graceful
// sequence. A second signal or an expired deadline falls through to the
// emergency path.
func waitForShutdown(coord *lifecycle.Coordinator, drainGrace time.Duration, log zerolog.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown requested")

	go func() {
		<-sigCh
		log.Warn().Msg("second signal, emergency shutdown")
		coord.Emergency()
		os.Exit(1)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainGrace+30*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown incomplete")
		os.Exit(1)
	}
	log.Info().Msg("engine stopped")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
