package main

import (
	"context"
	"fmt"
	"time"

	"github.com/HomePlate/OrderTrack/config"
	"github.com/HomePlate/OrderTrack/internal/broker/kafka"
	"github.com/HomePlate/OrderTrack/internal/cache/rediscache"
	"github.com/HomePlate/OrderTrack/internal/services/sweeper"
	"github.com/HomePlate/OrderTrack/internal/storage/pgorders"
)

type sweeperFactories struct {
	newStorage     func(cfg *config.Config) (repo sweeper.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) sweeper.Producer
	newRateLimiter func(cfg *config.Config) sweeper.RateLimiter
}

func defaultSweeperFactories() sweeperFactories {
	return sweeperFactories{
		newStorage: func(cfg *config.Config) (sweeper.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgorders.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) sweeper.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
	}
}

func buildSweeper(cfg *config.Config, f sweeperFactories) (*sweeper.Sweeper, func(), error) {
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	pollInterval := time.Duration(cfg.Orders.SweeperPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.Orders.SweeperBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	lease := time.Duration(cfg.Orders.SweeperLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.Orders.SweeperRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 300
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)

	s := sweeper.New(repo, producer, rl, topic).
		WithSettings(pollInterval, batchSize, lease, rlPerMin).
		WithPlanner(sweeper.PlannerConfig{
			Backoff1: time.Duration(cfg.Orders.SweeperBackoff1Seconds) * time.Second,
			Backoff2: time.Duration(cfg.Orders.SweeperBackoff2Seconds) * time.Second,
			Backoff3: time.Duration(cfg.Orders.SweeperBackoff3Seconds) * time.Second,
			Backoff4: time.Duration(cfg.Orders.SweeperBackoff4Seconds) * time.Second,
		})
	return s, closeFn, nil
}

func RunOrderSweeper(ctx context.Context, cfg *config.Config, f sweeperFactories) error {
	s, closeFn, err := buildSweeper(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return s.Run(ctx)
}
