package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/config"
	"github.com/hackgods/medical-appointment-platform/internal/db"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
	"github.com/hackgods/medical-appointment-platform/internal/metrics"
	"github.com/hackgods/medical-appointment-platform/internal/notify"
	redisclient "github.com/hackgods/medical-appointment-platform/internal/redis"
)

// The sweep lock keeps concurrent workers from sending the same reminder twice.
const (
	sweepLockKey = "reminder-sweep"
	sweepTimeout = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.NewLogger(os.Stderr, "prod", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := cfg.Logger(os.Stdout).With().Str("service", "reminder-worker").Logger()
	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Bool("dry_run", cfg.ReminderDryRun).
		Str("clinic_timezone", cfg.ClinicLocation.String()).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 2,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	store := notify.NewPgStore(pgPool)

	dispatchCfg := notify.DispatcherConfig{
		Directory: directory.NewPgDirectory(pgPool),
		Recorder:  store,
		Logger:    logger,
		Metrics:   m,
	}
	if cfg.Twilio.Enabled() {
		dispatchCfg.WhatsApp = notify.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.WhatsAppSender, logger)
	}
	if sg := notify.NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.From, logger); sg != nil {
		dispatchCfg.Email = sg
	}

	reminders := notify.NewReminders(store, notify.NewDispatcher(dispatchCfg), notify.ReminderConfig{
		DryRun:   cfg.ReminderDryRun,
		Location: cfg.ClinicLocation,
	}, logger, m)
	locker := redisclient.NewRedisLocker(rdb, "lock", sweepTimeout)

	// Run once at startup
	runOnce(rootCtx, reminders, locker, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, reminders, locker, logger)
		}
	}
}

func runOnce(ctx context.Context, reminders *notify.Reminders, locker redisclient.Locker, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	var sum notify.ReminderSummary
	err := locker.WithLock(runCtx, sweepLockKey, func(ctx context.Context) error {
		var err error
		sum, err = reminders.RunOnce(ctx)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		logger.Debug().Msg("another worker holds the sweep, skipping")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("reminder run error")
		return
	}
	logger.Info().
		Int("due", sum.Due).
		Int("sent", sum.Sent).
		Int("failed", sum.Failed).
		Dur("duration", time.Since(start)).
		Msg("reminder run complete")
}
