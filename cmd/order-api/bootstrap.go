package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HomePlate/OrderTrack/config"
	"github.com/HomePlate/OrderTrack/internal/broker/kafka"
	"github.com/HomePlate/OrderTrack/internal/cache/rediscache"
	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/services/fees"
	"github.com/HomePlate/OrderTrack/internal/services/orders"
	"github.com/HomePlate/OrderTrack/internal/storage/pgorders"
)

type orderAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     orderAPIOpts
	svc      *orders.Service
	calc     *fees.Calculator
	consumer *kafka.Consumer
	producer *kafka.Producer
	closeDB  func()
}

func mustBootstrapOrderAPI() *orderAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.Orders.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Orders.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "order-api"
	}
	updatedTopic := cfg.Kafka.OrderUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "order.updated"
	}
	positionTopic := cfg.Kafka.AgentPositionTopicName
	if positionTopic == "" {
		positionTopic = "agent.position"
	}

	cacheTTL := time.Duration(cfg.Orders.CurrentOrderTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	cancelWindow := time.Duration(cfg.Orders.CancellationWindowSeconds) * time.Second
	if cancelWindow <= 0 {
		cancelWindow = 10 * time.Minute
	}
	travelMode := geo.TravelMode(cfg.Orders.CourierTravelMode)
	if travelMode == "" {
		travelMode = geo.ModeDriving
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, positionTopic, consumerGroup)

	svc := orders.New(st, rc, producer, cacheTTL, cancelWindow, updatedTopic)

	calc, err := fees.New(
		orDefault(cfg.Orders.FeeBasePrice, 50),
		cfg.Orders.FeeCurrency,
		orDefault(cfg.Orders.FeeBaseDistanceKm, 5),
		cfg.Orders.FeeTimezone,
	)
	if err != nil {
		panic(fmt.Sprintf("failed to build fee calculator: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &orderAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: orderAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         positionTopic,
			consumerGroup: consumerGroup,
			travelMode:    travelMode,
		},
		svc:      svc,
		calc:     calc,
		consumer: consumer,
		producer: producer,
		closeDB:  st.Close,
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *orderAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *orderAPIApp) Run() error {
	return runOrderAPI(a.ctx, a.opts, a.svc, a.calc, a.consumer)
}
