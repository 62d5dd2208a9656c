package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/dispatcher"
	"github.com/flowforge/automation/pkg/eventbus"
	"github.com/flowforge/automation/pkg/lock"
	"github.com/flowforge/automation/pkg/mail"
	"github.com/flowforge/automation/pkg/metrics"
	"github.com/flowforge/automation/pkg/quota"
	"github.com/flowforge/automation/pkg/rss"
	"github.com/flowforge/automation/pkg/rules"
	"github.com/flowforge/automation/pkg/runner"
	"github.com/flowforge/automation/pkg/store/outcomes"
	"github.com/flowforge/automation/pkg/store/postgres"
	redisclient "github.com/flowforge/automation/pkg/store/redis"
)

const feedTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redis, err := redisclient.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()

	outcomeStore, err := outcomes.Open(ctx, cfg, db.DB(), logger)
	if err != nil {
		logger.Fatal("failed to open outcome store", zap.Error(err))
	}
	defer outcomeStore.Close()

	transport, err := mail.NewSESTransport(ctx, &cfg.Mail, logger)
	if err != nil {
		logger.Fatal("failed to create mail transport", zap.Error(err))
	}

	automationStore := postgres.NewAutomationStore(db.DB())
	mailer := mail.NewService(automationStore, automationStore, quota.NewManager(db.DB()), transport, logger)
	bus := eventbus.NewBus(redis.Client())

	d, err := dispatcher.New(dispatcher.Deps{
		Store:    automationStore,
		Mailer:   mailer,
		Jobs:     postgres.NewOutboxRepository(db.DB()),
		Locker:   lock.NewRedisLocker(redis.Client()),
		Notifier: bus,
		Feeds:    rss.NewReader(feedTimeout),
		Rules:    rules.NewEvaluator(),
		Metrics:  metrics.Prometheus{},
		Logger:   logger,
	}, dispatcher.OptionsFromConfig(cfg.Dispatcher))
	if err != nil {
		logger.Fatal("failed to create dispatcher", zap.Error(err))
	}

	r, err := runner.New(
		postgres.NewEventRepository(db.DB()),
		d,
		runner.NewRedisRetryTracker(redis.Client()),
		outcomeStore,
		bus,
		cfg.Runner,
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create event runner", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("event runner stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", zap.Error(err))
	}
}
