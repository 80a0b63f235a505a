package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Broker   BrokerConfig
	Auth     AuthConfig
	Bank     BankConfig
	Limits   LimitsConfig

	LogVerbose bool `env:"APP_VERBOSE,default=0"`
	LogPretty  bool `env:"APP_PRETTY,default=0"`
}

type ServerConfig struct {
	Listen       string        `env:"RUN_ADDRESS,default=localhost:8088"`
	TimeoutRead  time.Duration `env:"SERVER_TIMEOUT_READ,default=5s"`
	TimeoutWrite time.Duration `env:"SERVER_TIMEOUT_WRITE,default=10s"`
	TimeoutIdle  time.Duration `env:"SERVER_TIMEOUT_IDLE,default=1m"`
}

type DatabaseConfig struct {
	DSN string `env:"DATABASE_URI,required"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD,default="`
	DB       int    `env:"REDIS_DB,default=0"`
}

type BrokerConfig struct {
	URL             string `env:"AMQP_URL,required"`
	FraudQueue      string `env:"AMQP_QUEUE_FRAUD,default=fraud"`
	SettlementQueue string `env:"AMQP_QUEUE_SETTLEMENT,default=settlement"`
}

type AuthConfig struct {
	JWKSURL  string        `env:"AUTH_JWKS_URL,required"`
	Timeout  time.Duration `env:"AUTH_JWKS_TIMEOUT,default=5s"`
	CacheTTL time.Duration `env:"AUTH_JWKS_CACHE_TTL,default=300s"`
}

type BankConfig struct {
	// RemoteURL of the settlement gateway; empty wires the static stub
	RemoteURL string `env:"BANK_API_ADDRESS,default="`
}

type LimitsConfig struct {
	DefaultDaily   int64         `env:"LIMIT_DEFAULT_DAILY,default=20000"`
	MinDaily       int64         `env:"LIMIT_MIN_DAILY,default=20000"`
	FraudThreshold int64         `env:"FRAUD_THRESHOLD,default=1000000"`
	RateLimit      int64         `env:"RATE_LIMIT,default=60"`
	RatePeriod     time.Duration `env:"RATE_PERIOD,default=60s"`
}

// New config constructor
func New() Config {
	return Config{}
}

// Load config from environment and from .env file (if exists) and from flags
func (cfg *Config) Load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".env load: %w", err)
	}

	if err := envdecode.StrictDecode(cfg); err != nil {
		return fmt.Errorf("env decode: %w", err)
	}

	pflag.StringVarP(&cfg.Server.Listen, "listen-addr", "a", cfg.Server.Listen, "Server address to listen on")
	pflag.StringVarP(&cfg.Database.DSN, "database-uri", "d", cfg.Database.DSN, "Database URI")
	pflag.StringVarP(&cfg.Broker.URL, "amqp-url", "q", cfg.Broker.URL, "AMQP broker URL")
	pflag.StringVarP(&cfg.Auth.JWKSURL, "jwks-url", "j", cfg.Auth.JWKSURL, "Identity JWKS URL")
	pflag.BoolVarP(&cfg.LogVerbose, "verbose", "v", cfg.LogVerbose, "Verbose output")
	pflag.BoolVarP(&cfg.LogPretty, "pretty", "p", cfg.LogPretty, "Pretty output")
	pflag.Parse()

	return nil
}
