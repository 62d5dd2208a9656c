package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/automation/pkg/config"
	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/postback"
	"github.com/flowforge/automation/pkg/queue"
	redisclient "github.com/flowforge/automation/pkg/store/redis"
)

const dedupeTTL = 24 * time.Hour

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

	var deduper queue.Deduper = queue.NewMemoryDeduper(dedupeTTL)
	redis, err := redisclient.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, deduplicating postbacks in memory", zap.Error(err))
	} else {
		defer redis.Close()
		deduper = queue.NewRedisDeduper(redis.Client(), "postback:seen:", dedupeTTL)
	}

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID,
		GroupID:    cfg.Kafka.PostbackGroup,
		Topic:      cfg.Kafka.JobTopic,
		RetryTopic: cfg.Kafka.JobRetryTopic,
		DLQTopic:   cfg.Kafka.JobDLQTopic,
		JobTypes:   []string{model.JobPostback},
	}, deduper, logger)
	defer consumer.Close()

	deliverer := postback.NewDeliverer(nil, cfg.Postback.Timeout, logger)

	logger.Info("postback worker starting", zap.String("topic", cfg.Kafka.JobTopic))
	for {
		err := consumer.Consume(ctx, deliverer.Handle)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
		logger.Error("postback consumer failed", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
	logger.Info("postback worker stopped")
}
