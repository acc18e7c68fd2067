package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"pulse/pkg/errors"
)

type Config struct {
	App           AppConfig
	Redis         RedisConfig
	ClickHouse    ClickHouseConfig
	Kafka         KafkaConfig
	Pipeline      PipelineConfig
	Archive       ArchiveConfig
	Signals       SignalConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"pulse"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"pulse"`
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"KAFKA_BROKERS"`
	SignalTopic string   `envconfig:"KAFKA_SIGNAL_TOPIC" default:"pulse.signals"`
}

// PipelineConfig holds the knobs for the intake queue and cleaning stage
type PipelineConfig struct {
	WorkerCount   int           `envconfig:"PIPELINE_WORKER_COUNT" default:"4"`
	QueueCapacity int           `envconfig:"PIPELINE_QUEUE_CAPACITY" default:"1000"`
	CleanTopic    string        `envconfig:"PIPELINE_CLEAN_TOPIC" default:"stream:clean"`
	DedupTTL      time.Duration `envconfig:"PIPELINE_DEDUP_TTL" default:"24h"`
	ReadBlock     time.Duration `envconfig:"PIPELINE_READ_BLOCK" default:"1s"`
	ReadBatchSize int           `envconfig:"PIPELINE_READ_BATCH_SIZE" default:"10"`
	MinTextLength int           `envconfig:"PIPELINE_MIN_TEXT_LENGTH" default:"10"`
	StopTimeout   time.Duration `envconfig:"PIPELINE_STOP_TIMEOUT" default:"10s"`
}

// ArchiveConfig controls batch flushing in the archival stage
type ArchiveConfig struct {
	Sink          string        `envconfig:"ARCHIVE_SINK" default:"file"` // file | clickhouse
	BasePath      string        `envconfig:"ARCHIVE_BASE_PATH" default:"data/archive"`
	SizeThreshold int           `envconfig:"ARCHIVE_SIZE_THRESHOLD" default:"50"`
	TimeThreshold time.Duration `envconfig:"ARCHIVE_TIME_THRESHOLD" default:"60s"`
	StatsInterval time.Duration `envconfig:"ARCHIVE_STATS_INTERVAL" default:"30s"`
}

// SignalConfig controls the sliding-window signal stage
type SignalConfig struct {
	WindowCapacity int     `envconfig:"SIGNAL_WINDOW_CAPACITY" default:"50"`
	MinWindowSize  int     `envconfig:"SIGNAL_MIN_WINDOW_SIZE" default:"5"`
	BuyThreshold   float64 `envconfig:"SIGNAL_BUY_THRESHOLD" default:"0.25"`
	SellThreshold  float64 `envconfig:"SIGNAL_SELL_THRESHOLD" default:"-0.25"`
	MinConfidence  float64 `envconfig:"SIGNAL_MIN_CONFIDENCE" default:"0.6"`
	MaxTrackedKeys int     `envconfig:"SIGNAL_MAX_TRACKED_KEYS" default:"0"` // 0 = unbounded
	DefaultKey     string  `envconfig:"SIGNAL_DEFAULT_KEY" default:"nifty50"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
