package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/tenantops/announcer/pkg/logger"
)

var config *Config

// Config holds every env-sourced setting. Only this struct may be used to
// read configuration; no direct env access elsewhere.
//
// The three retry policies of the pipeline are deliberately separate, named
// values rather than a shared queue default: fan-out runs once, deliveries
// get a small bounded number of attempts, and the completion watcher
// reschedules itself on a fixed interval.
type Config struct {
	AppEnv  string `env:"APP_ENV" default:"dev"`
	AppName string `env:"APP_NAME" default:"announcer"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr      string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisUsername  string `env:"REDIS_USER"`
	RedisPassword  string `env:"REDIS_PASS"`
	RedisDatabase  int    `env:"REDIS_DATABASE"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE" default:"announcer"`

	QueueConsumerGroup string        `env:"QUEUE_CONSUMER_GROUP" default:"announcer"`
	QueueConsumerName  string        `env:"QUEUE_CONSUMER_NAME" default:"announcer"`
	QueuePollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" default:"1s"`
	QueueBatchSize     int64         `env:"QUEUE_BATCH_SIZE" default:"10"`
	QueueMaxLen        int64         `env:"QUEUE_MAX_LEN" default:"100000"`
	QueueEnableDLQ     bool          `env:"QUEUE_ENABLE_DLQ" default:"true"`

	// Fan-out: one attempt, no automatic retry. Partial fan-out is not
	// safely resumable, so re-triggering is an operator decision.
	FanoutAttempts int           `env:"FANOUT_ATTEMPTS" default:"1"`
	FanoutTimeout  time.Duration `env:"FANOUT_TIMEOUT" default:"2m"`

	// Delivery: bounded attempts; backoff comes from the queue's
	// visibility-timeout reclaim.
	DeliveryAttempts          int           `env:"DELIVERY_ATTEMPTS" default:"3"`
	DeliveryTimeout           time.Duration `env:"DELIVERY_TIMEOUT" default:"30s"`
	DeliveryJitterMin         time.Duration `env:"DELIVERY_JITTER_MIN" default:"1s"`
	DeliveryJitterMax         time.Duration `env:"DELIVERY_JITTER_MAX" default:"10s"`
	DeliveryVisibilityTimeout time.Duration `env:"DELIVERY_VISIBILITY_TIMEOUT" default:"45s"`

	// Watcher: unbounded self-reschedule on a fixed interval. WatchMaxElapsed
	// (0 = disabled) is an explicit cutoff for announcements stuck in
	// Sending; when hit, the watcher force-finalizes to PartiallyFailed.
	WatchInitialDelay time.Duration `env:"WATCH_INITIAL_DELAY" default:"30s"`
	WatchPollInterval time.Duration `env:"WATCH_POLL_INTERVAL" default:"2m"`
	WatchTimeout      time.Duration `env:"WATCH_TIMEOUT" default:"15s"`
	WatchMaxElapsed   time.Duration `env:"WATCH_MAX_ELAPSED" default:"0"`

	ProviderURL     string        `env:"PROVIDER_URL"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" default:"5s"`
}

func Load(path string) error {
	logger.Info("loading configs", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		if err = godotenv.Load(path); err != nil {
			return errors.Wrap(err, "failed to load configuration file "+path)
		}
	}

	if _, err = env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("config is not initialized")
	}
	return config
}

// Set replaces the global config. Test hook.
func Set(c *Config) {
	config = c
}
