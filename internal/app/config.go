package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-storefront/internal/events"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the configuration of both binaries, loadable from environment
// variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	Kafka       KafkaConfig
	Worker      WorkerConfig
	Graceful    GracefulConfig
}

// RedisConfig controls the zone list cache. An empty URL disables it.
type RedisConfig struct {
	URL     string        `usage:"Redis URL for the zone cache (STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	ZoneTTL time.Duration `default:"10m" usage:"Lifetime of cached zone lists" flag:"redis-zone-ttl"`
}

// KafkaConfig controls the order event consumer.
type KafkaConfig struct {
	Brokers    []string      `default:"localhost:9092" usage:"Kafka bootstrap brokers"`
	Topic      string        `usage:"Order lifecycle topic (default order-events)"`
	Group      string        `default:"ledger-worker" usage:"Consumer group id"`
	RetryDelay time.Duration `default:"2s" usage:"Pause before rejoining after a failed session" flag:"kafka-retry-delay"`
}

// WorkerConfig controls the ledger worker's probe server.
type WorkerConfig struct {
	HealthAddr string `default:"0.0.0.0:8081" usage:"Ledger worker health listen address" flag:"worker-health-addr"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/store/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if c.Redis.ZoneTTL <= 0 {
		return errors.Errorf("redis zone TTL must be positive, got %s", c.Redis.ZoneTTL)
	}
	return nil
}

// applyPlatformDefaults maps the unprefixed variables hosting platforms set
// (DATABASE_URL, REDIS_URL, PORT) onto the configuration and fills the event
// topic.
func (c *Config) applyPlatformDefaults() {
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = events.Topic
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
