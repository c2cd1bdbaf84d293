package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "CongoLedger"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultStoreDriver    = DriverPostgres
	defaultSQLiteDSN      = "file:ledger.db?_busy_timeout=5000&_journal_mode=WAL"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAccessTTL      = 15 * time.Minute
	defaultKafkaTopic     = "ledger.events"
	defaultCurrency       = "XAF"
	defaultMaxAttempts    = 3
	defaultPendingTTL     = 24 * time.Hour
	defaultReconcileEvery = time.Minute
	defaultStatsMonths    = 6
	defaultStatsCacheTTL  = 5 * time.Minute
	defaultLoginPerMinute = 5

	devJWTSecret     = "dev-jwt-secret"
	devWebhookSecret = "dev-webhook-secret"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	StoreDriver string
	DatabaseURL string
	RedisURL    string

	JWTSecret      string
	AccessTokenTTL time.Duration
	WebhookSecret  string
	LoginPerMinute int

	KafkaBrokers []string
	KafkaTopic   string

	Currency          string
	CurrencyScale     int32
	LedgerMaxAttempts int
	PendingTTL        time.Duration
	ReconcileInterval time.Duration
	StatsMonths       int
	StatsCacheTTL     time.Duration

	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration values from the environment, after loading a
// local .env file when one exists, and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (Config, error) {
	cfg := Config{
		AppName:     getEnv("APP_NAME", defaultAppName),
		AppEnv:      getEnv("APP_ENV", defaultAppEnv),
		Port:        getEnv("PORT", defaultPort),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", defaultStoreDriver)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		Currency:    strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"LEDGER_MAX_ATTEMPTS", defaultMaxAttempts, &cfg.LedgerMaxAttempts},
		{"STATS_MONTHS", defaultStatsMonths, &cfg.StatsMonths},
		{"LOGIN_RATE_LIMIT", defaultLoginPerMinute, &cfg.LoginPerMinute},
	}
	for _, v := range ints {
		if *v.dst, err = getInt(v.key, v.fallback); err != nil {
			return Config{}, err
		}
	}

	scale, err := getInt("CURRENCY_SCALE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.CurrencyScale = int32(scale)

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", defaultShutdownDelay, &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"ACCESS_TOKEN_TTL", defaultAccessTTL, &cfg.AccessTokenTTL},
		{"PENDING_TTL", defaultPendingTTL, &cfg.PendingTTL},
		{"RECONCILE_INTERVAL", defaultReconcileEvery, &cfg.ReconcileInterval},
		{"STATS_CACHE_TTL", defaultStatsCacheTTL, &cfg.StatsCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMySQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverSQLite:
		if c.DatabaseURL == "" {
			c.DatabaseURL = defaultSQLiteDSN
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch {
	case c.CurrencyScale < 0 || c.CurrencyScale > 8:
		return fmt.Errorf("CURRENCY_SCALE must be between 0 and 8")
	case c.LedgerMaxAttempts < 1:
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1")
	case c.StatsMonths < 1:
		return fmt.Errorf("STATS_MONTHS must be at least 1")
	case c.AccessTokenTTL <= 0:
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	case c.PendingTTL < 0:
		return fmt.Errorf("PENDING_TTL must not be negative")
	}

	if c.IsDev() {
		if c.JWTSecret == "" {
			c.JWTSecret = devJWTSecret
		}
		if c.WebhookSecret == "" {
			c.WebhookSecret = devWebhookSecret
		}
		return nil
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.StoreDriver == DriverMemory {
		return fmt.Errorf("STORE_DRIVER=memory is only allowed in development")
	}
	return nil
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration reads KEY_SECONDS as whole seconds, or KEY as either whole
// seconds or a Go duration string.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
