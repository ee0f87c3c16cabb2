package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/stocklot-review/pkg/config"
	"github.com/utafrali/stocklot-review/pkg/database"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort          int `env:"REVIEW_HTTP_PORT" envDefault:"8012"`
	StatsCacheMaxAgeS int `env:"STATS_CACHE_MAX_AGE_SECONDS" envDefault:"30"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"stocklot"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"stocklot_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"review_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis caches the marketplace means and consumed event ids. Empty host
	// disables it.
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. No brokers disables events.
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID  string   `env:"KAFKA_GROUP_ID" envDefault:"review-service"`
	EventsEnabled bool     `env:"EVENTS_ENABLED" envDefault:"true"`

	// Collaborators
	OrderServiceURL   string `env:"ORDER_SERVICE_URL" envDefault:"http://localhost:8003"`
	DisputeServiceURL string `env:"DISPUTE_SERVICE_URL" envDefault:"http://localhost:8003"`
	UserServiceURL    string `env:"USER_SERVICE_URL" envDefault:"http://localhost:8001"`

	// Circuit breaker settings for collaborator calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Moderation. An empty endpoint approves all content.
	ModerationEndpoint  string  `env:"MODERATION_ENDPOINT" envDefault:""`
	ModerationAPIKey    string  `env:"MODERATION_API_KEY" envDefault:""`
	ModerationTimeoutMs int     `env:"MODERATION_TIMEOUT_MS" envDefault:"3000"`
	ModerationRPS       float64 `env:"MODERATION_RPS" envDefault:"20"`
	ToxicityThreshold   float64 `env:"TOXICITY_THRESHOLD" envDefault:"0.82"`

	// Review lifecycle
	BlindWindowHours       int `env:"BLIND_WINDOW_HOURS" envDefault:"168"`
	EditWindowHours        int `env:"EDIT_WINDOW_HOURS" envDefault:"72"`
	SecondMoverEditMinutes int `env:"SECOND_MOVER_EDIT_MINUTES" envDefault:"60"`
	ReviewWindowDays       int `env:"REVIEW_WINDOW_DAYS" envDefault:"90"`
	MinKYCLevel            int `env:"MIN_KYC_LEVEL" envDefault:"1"`

	// Aggregation
	BayesConfidence        float64 `env:"BAYES_CONFIDENCE" envDefault:"20"`
	DefaultMarketplaceMean float64 `env:"DEFAULT_MARKETPLACE_MEAN" envDefault:"4.3"`
	MeanLookbackDays       int     `env:"MEAN_LOOKBACK_DAYS" envDefault:"90"`
	MeanCacheTTLMinutes    int     `env:"MEAN_CACHE_TTL_MINUTES" envDefault:"60"`
	DefaultPromptness      float64 `env:"DEFAULT_PROMPTNESS" envDefault:"0.5"`

	// Background jobs
	JobsEnabled            bool   `env:"JOBS_ENABLED" envDefault:"true"`
	UnblindIntervalMinutes int    `env:"UNBLIND_INTERVAL_MINUTES" envDefault:"15"`
	RecomputeIntervalHours int    `env:"RECOMPUTE_INTERVAL_HOURS" envDefault:"24"`
	RecomputeConcurrency   int    `env:"RECOMPUTE_CONCURRENCY" envDefault:"8"`
	JobsJWTSecret          string `env:"JOBS_JWT_SECRET" envDefault:""`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants. Errors name the offending key.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("REVIEW_HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}
	switch c.StorageDriver {
	case StoragePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, c.StorageDriver)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ToxicityThreshold <= 0 || c.ToxicityThreshold > 1 {
		return fmt.Errorf("TOXICITY_THRESHOLD must be in (0, 1], got %f", c.ToxicityThreshold)
	}
	if c.DefaultMarketplaceMean < 1 || c.DefaultMarketplaceMean > 5 {
		return fmt.Errorf("DEFAULT_MARKETPLACE_MEAN must be between 1 and 5, got %f", c.DefaultMarketplaceMean)
	}
	if c.DefaultPromptness < 0 || c.DefaultPromptness > 1 {
		return fmt.Errorf("DEFAULT_PROMPTNESS must be between 0 and 1, got %f", c.DefaultPromptness)
	}
	if c.BayesConfidence < 0 {
		return fmt.Errorf("BAYES_CONFIDENCE must not be negative, got %f", c.BayesConfidence)
	}

	for name, v := range map[string]int{
		"BLIND_WINDOW_HOURS":        c.BlindWindowHours,
		"EDIT_WINDOW_HOURS":         c.EditWindowHours,
		"SECOND_MOVER_EDIT_MINUTES": c.SecondMoverEditMinutes,
		"REVIEW_WINDOW_DAYS":        c.ReviewWindowDays,
		"MEAN_LOOKBACK_DAYS":        c.MeanLookbackDays,
		"RECOMPUTE_CONCURRENCY":     c.RecomputeConcurrency,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	for name, v := range map[string]int{
		"MEAN_CACHE_TTL_MINUTES":      c.MeanCacheTTLMinutes,
		"UNBLIND_INTERVAL_MINUTES":    c.UnblindIntervalMinutes,
		"RECOMPUTE_INTERVAL_HOURS":    c.RecomputeIntervalHours,
		"MODERATION_TIMEOUT_MS":       c.ModerationTimeoutMs,
		"MIN_KYC_LEVEL":               c.MinKYCLevel,
		"STATS_CACHE_MAX_AGE_SECONDS": c.StatsCacheMaxAgeS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}

	urls := map[string]string{
		"ORDER_SERVICE_URL":   c.OrderServiceURL,
		"DISPUTE_SERVICE_URL": c.DisputeServiceURL,
		"USER_SERVICE_URL":    c.UserServiceURL,
	}
	if c.ModerationEndpoint != "" {
		urls["MODERATION_ENDPOINT"] = c.ModerationEndpoint
	}
	for name, rawURL := range urls {
		if rawURL == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
		}
	}
	return nil
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis configuration. ok is false when Redis is disabled.
func (c *Config) Redis() (cfg database.RedisConfig, ok bool) {
	if c.RedisHost == "" {
		return database.RedisConfig{}, false
	}
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, true
}

// EventsActive reports whether Kafka producers and consumers should run.
func (c *Config) EventsActive() bool {
	return c.EventsEnabled && len(c.KafkaBrokers) > 0
}

// BlindWindow returns BLIND_WINDOW_HOURS as a duration.
func (c *Config) BlindWindow() time.Duration {
	return time.Duration(c.BlindWindowHours) * time.Hour
}

// EditWindow returns EDIT_WINDOW_HOURS as a duration.
func (c *Config) EditWindow() time.Duration {
	return time.Duration(c.EditWindowHours) * time.Hour
}

// SecondMoverEditWindow returns SECOND_MOVER_EDIT_MINUTES as a duration.
func (c *Config) SecondMoverEditWindow() time.Duration {
	return time.Duration(c.SecondMoverEditMinutes) * time.Minute
}

// ReviewWindow returns REVIEW_WINDOW_DAYS as a duration.
func (c *Config) ReviewWindow() time.Duration {
	return time.Duration(c.ReviewWindowDays) * 24 * time.Hour
}

// MeanLookback returns MEAN_LOOKBACK_DAYS as a duration.
func (c *Config) MeanLookback() time.Duration {
	return time.Duration(c.MeanLookbackDays) * 24 * time.Hour
}

// UnblindInterval is zero when jobs are disabled.
func (c *Config) UnblindInterval() time.Duration {
	if !c.JobsEnabled {
		return 0
	}
	return time.Duration(c.UnblindIntervalMinutes) * time.Minute
}

// RecomputeInterval is zero when jobs are disabled.
func (c *Config) RecomputeInterval() time.Duration {
	if !c.JobsEnabled {
		return 0
	}
	return time.Duration(c.RecomputeIntervalHours) * time.Hour
}
