package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/medical-appointment-platform/internal/api"
	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/chat"
	"github.com/hackgods/medical-appointment-platform/internal/config"
	"github.com/hackgods/medical-appointment-platform/internal/db"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
	"github.com/hackgods/medical-appointment-platform/internal/metrics"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
	"github.com/hackgods/medical-appointment-platform/internal/oracle"
	redisclient "github.com/hackgods/medical-appointment-platform/internal/redis"
	"github.com/hackgods/medical-appointment-platform/internal/webhook"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.NewLogger(os.Stderr, "prod", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := cfg.Logger(os.Stdout).With().Str("service", "api-server").Logger()
	logger.Info().Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dir := directory.NewPgDirectory(pgPool)
	lifecycle := appointment.NewService(appointment.NewPgStore(pgPool), logger, m)
	resolver := appointment.NewResolver(lifecycle.Ledger())

	var twilio *notify.TwilioSender
	dispatchCfg := notify.DispatcherConfig{
		Directory: dir,
		Recorder:  notify.NewPgStore(pgPool),
		Logger:    logger,
		Metrics:   m,
	}
	if cfg.Twilio.Enabled() {
		twilio = notify.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.WhatsAppSender, logger)
		dispatchCfg.WhatsApp = twilio
	} else {
		logger.Warn().Msg("twilio not configured, WhatsApp notifications disabled")
	}
	if sg := notify.NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.From, logger); sg != nil {
		dispatchCfg.Email = sg
	}
	dispatcher := notify.NewDispatcher(dispatchCfg)

	bookings := booking.NewService(lifecycle, resolver, dispatcher, logger)

	orc, closeOracle, err := newOracle(rootCtx, cfg.Oracle, m)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.Oracle.Provider).Msg("oracle setup error")
	}
	defer closeOracle()

	engine := chat.NewEngine(chat.EngineConfig{
		Store:     chat.NewPgStore(pgPool),
		Directory: dir,
		Slots:     resolver,
		Booker:    bookings,
		Oracle:    orc,
		Locker:    redisclient.NewRedisLocker(rdb, "lock", cfg.LockTTL),
		Logger:    logger,
		Metrics:   m,
	})

	webhookCfg := webhook.Config{
		Appointments: lifecycle,
		Booking:      bookings,
		Deduper:      redisclient.NewDeduper(rdb, "webhook", cfg.WebhookDedupeTTL),
		Logger:       logger,
		Metrics:      m,
	}
	if twilio != nil {
		webhookCfg.Replier = twilio
	}

	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn().Msg("JWT_SECRET not set, using the development secret")
	}

	router := api.NewRouter(api.RouterConfig{
		Booking:   bookings,
		Reader:    lifecycle,
		Schedules: resolver,
		Notifier:  dispatcher,
		Chat:      engine,
		Webhook:   webhook.NewProcessor(webhookCfg),
		WebhookAuth: api.WebhookConfig{
			AuthToken: cfg.Twilio.AuthToken,
			PublicURL: cfg.Twilio.WebhookURL,
		},
		JWTSecret: cfg.JWTSecret,
		Postgres:  pgPool,
		Redis:     api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// chat turns wait on the oracle
		WriteTimeout: cfg.Oracle.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}

func newOracle(ctx context.Context, cfg config.OracleConfig, m *metrics.Metrics) (oracle.Oracle, func(), error) {
	switch cfg.Provider {
	case "gemini":
		client, err := oracle.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return oracle.NewBounded(client, "gemini", cfg.Timeout, m), func() { _ = client.Close() }, nil
	default:
		client := oracle.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
		return oracle.NewBounded(client, "ollama", cfg.Timeout, m), func() {}, nil
	}
}
