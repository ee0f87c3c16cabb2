package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8012, cfg.HTTPPort)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, "review_db", cfg.PostgresDB)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.InDelta(t, 0.82, cfg.ToxicityThreshold, 1e-9)
	assert.InDelta(t, 4.3, cfg.DefaultMarketplaceMean, 1e-9)
	assert.InDelta(t, 20.0, cfg.BayesConfidence, 1e-9)
	assert.Equal(t, 7*24*time.Hour, cfg.BlindWindow())
	assert.Equal(t, 72*time.Hour, cfg.EditWindow())
	assert.Equal(t, time.Hour, cfg.SecondMoverEditWindow())
	assert.Equal(t, 90*24*time.Hour, cfg.ReviewWindow())
	assert.Equal(t, 15*time.Minute, cfg.UnblindInterval())
	assert.Equal(t, 24*time.Hour, cfg.RecomputeInterval())
	assert.Empty(t, cfg.JobsJWTSecret)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BLIND_WINDOW_HOURS", "48")
	t.Setenv("JOBS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 48*time.Hour, cfg.BlindWindow())
	assert.Zero(t, cfg.UnblindInterval())
	assert.Zero(t, cfg.RecomputeInterval())
}

func TestRedis(t *testing.T) {
	cfg := &Config{RedisHost: "cache", RedisPort: 6380, RedisDB: 2}
	rc, ok := cfg.Redis()
	require.True(t, ok)
	assert.Equal(t, "cache", rc.Host)
	assert.Equal(t, 6380, rc.Port)
	assert.Equal(t, 2, rc.DB)

	cfg.RedisHost = ""
	_, ok = cfg.Redis()
	assert.False(t, ok)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port", "REVIEW_HTTP_PORT", "70000", "REVIEW_HTTP_PORT"},
		{"storage driver", "STORAGE_DRIVER", "sqlite", "STORAGE_DRIVER"},
		{"toxicity", "TOXICITY_THRESHOLD", "1.5", "TOXICITY_THRESHOLD"},
		{"mean", "DEFAULT_MARKETPLACE_MEAN", "6", "DEFAULT_MARKETPLACE_MEAN"},
		{"promptness", "DEFAULT_PROMPTNESS", "-0.1", "DEFAULT_PROMPTNESS"},
		{"blind window", "BLIND_WINDOW_HOURS", "0", "BLIND_WINDOW_HOURS"},
		{"concurrency", "RECOMPUTE_CONCURRENCY", "0", "RECOMPUTE_CONCURRENCY"},
		{"order url", "ORDER_SERVICE_URL", "not a url", "ORDER_SERVICE_URL"},
		{"moderation url", "MODERATION_ENDPOINT", "::bad", "MODERATION_ENDPOINT"},
		{"sample rate", "OTEL_SAMPLE_RATE", "2", "OTEL_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgres(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("DB_MAX_CONN_LIFETIME_MINUTES", "10")

	cfg, err := Load()
	require.NoError(t, err)

	pg := cfg.Postgres()
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, int32(40), pg.MaxConns)
	assert.Equal(t, 10*time.Minute, pg.MaxConnLifetime)
	assert.Equal(t, "review_db", pg.DBName)
}

func TestEventsActive(t *testing.T) {
	cfg := &Config{EventsEnabled: true, KafkaBrokers: []string{"k:9092"}}
	assert.True(t, cfg.EventsActive())

	cfg.EventsEnabled = false
	assert.False(t, cfg.EventsActive())

	cfg = &Config{EventsEnabled: true}
	assert.False(t, cfg.EventsActive())
}
