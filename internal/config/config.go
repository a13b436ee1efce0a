// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"3002"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Store selection: PostgreSQL when DatabaseURL is set, else MongoDB when
	// MongoURL is set, else in-memory.
	DatabaseURL   string        `env:"DATABASE_URL"`
	MongoURL      string        `env:"MONGO_URL"`
	MongoDatabase string        `env:"MONGO_DATABASE" envDefault:"portfolio"`
	RedisURL      string        `env:"REDIS_URL"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"30s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"orders"`

	QuoteBaseURL         string        `env:"QUOTE_BASE_URL" envDefault:"https://query1.finance.yahoo.com"`
	QuoteUserAgent       string        `env:"QUOTE_USER_AGENT" envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"`
	QuoteTimeout         time.Duration `env:"QUOTE_TIMEOUT" envDefault:"5s"`
	QuoteExchangeSuffix  string        `env:"QUOTE_EXCHANGE_SUFFIX" envDefault:".NS"`
	QuoteCacheWindow     time.Duration `env:"QUOTE_CACHE_WINDOW" envDefault:"60s"`
	QuoteRequestDelay    time.Duration `env:"QUOTE_REQUEST_DELAY" envDefault:"500ms"`
	QuoteBreakerFailures uint32        `env:"QUOTE_BREAKER_FAILURES" envDefault:"5"`
	QuoteBreakerReset    time.Duration `env:"QUOTE_BREAKER_RESET" envDefault:"30s"`

	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"5m"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3001"`
}

func Load() (Config, error) {
	var cfg Config
	return cfg, env.Parse(&cfg)
}
