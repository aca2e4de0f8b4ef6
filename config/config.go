package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig   `yaml:"database"`
	Kafka    KafkaConfig      `yaml:"kafka"`
	Redis    RedisConfig      `yaml:"redis"`
	Orders   OrderTrackConfig `yaml:"ordertrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	OrderUpdatedTopicName  string `yaml:"order_updated_topic_name"`
	AgentPositionTopicName string `yaml:"agent_position_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type OrderTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentOrderTTLSeconds int `yaml:"current_order_ttl_seconds"`

	// CancellationWindowSeconds is how long after placement a customer may
	// cancel unilaterally; it is also the confirmation deadline for chefs.
	CancellationWindowSeconds int `yaml:"cancellation_window_seconds"`

	SweeperHTTPAddr            string `yaml:"sweeper_http_addr"`
	SweeperPollIntervalSeconds int    `yaml:"sweeper_poll_interval_seconds"`
	SweeperBatchSize           int    `yaml:"sweeper_batch_size"`
	SweeperLeaseSeconds        int    `yaml:"sweeper_lease_seconds"`
	SweeperRateLimitPerMinute  int    `yaml:"sweeper_rate_limit_per_minute"`

	// Sweeper retry backoff stages. If not set, defaults are 1/5/15/30 minutes.
	SweeperBackoff1Seconds int `yaml:"sweeper_backoff_1_seconds"`
	SweeperBackoff2Seconds int `yaml:"sweeper_backoff_2_seconds"`
	SweeperBackoff3Seconds int `yaml:"sweeper_backoff_3_seconds"`
	SweeperBackoff4Seconds int `yaml:"sweeper_backoff_4_seconds"`

	CourierTravelMode string `yaml:"courier_travel_mode"` // "driving" | "cycling" | "walking"

	FeeBasePrice      float64 `yaml:"fee_base_price"`
	FeeCurrency       string  `yaml:"fee_currency"`
	FeeBaseDistanceKm float64 `yaml:"fee_base_distance_km"`
	FeeTimezone       string  `yaml:"fee_timezone"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
