package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  host: localhost
  user: harvester
  dbname: harvester
`))
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "twitterapi_io", cfg.Content.Provider)
	assert.Equal(t, "https://api.twitterapi.io/v1.1", cfg.Content.BaseURL)
	assert.EqualValues(t, 10<<20, cfg.Content.MaxResponseBytes)
	assert.Equal(t, 20, cfg.Extraction.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Extraction.BatchDelay)
	assert.Equal(t, 100, cfg.Extraction.DefaultLimit)
	assert.Equal(t, "fa", cfg.Extraction.DefaultLang)
	assert.Equal(t, 50.0, cfg.Refresh.ImportanceThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Refresh.Staleness)
	assert.Equal(t, 500*time.Millisecond, cfg.Refresh.Delay)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Jobs.Extract.Interval)
	assert.Equal(t, time.Hour, cfg.Scheduler.Jobs.Refresh.Interval)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.Jobs.Cleanup.Cron)
	assert.Equal(t, 3, cfg.Scheduler.MaxInstances)
	assert.Equal(t, time.Hour, cfg.Scheduler.MisfireGrace)
	assert.Equal(t, 30*24*time.Hour, cfg.RunLog.Retention)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.RabbitMQ.Enabled)
}

func TestParse_OfficialProviderBaseURL(t *testing.T) {
	cfg, err := Parse([]byte("content:\n  provider: official\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.twitter.com/2", cfg.Content.BaseURL)
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("HARVESTER_API_KEY", "s3cret")
	t.Setenv("HARVESTER_DB_PASSWORD", "pw")

	cfg, err := Parse([]byte(`
database:
  password: ${HARVESTER_DB_PASSWORD}
content:
  api_key: ${HARVESTER_API_KEY}
  rate_limit:
    requests_per_second: 0.5
    burst: 2
extraction:
  batch_size: 5
  batch_delay: 250ms
scheduler:
  jobs:
    extract:
      interval: 5m
      paused: true
`))
	require.NoError(t, err)

	assert.Equal(t, "pw", cfg.Database.Password)
	assert.Equal(t, "s3cret", cfg.Content.APIKey)
	assert.Equal(t, 0.5, cfg.Content.Rate.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Extraction.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Extraction.BatchDelay)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Jobs.Extract.Interval)
	assert.True(t, cfg.Scheduler.Jobs.Extract.Paused)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown provider":   "content:\n  provider: carrier_pigeon\n",
		"negative batch":     "extraction:\n  batch_size: -1\n",
		"negative delay":     "extraction:\n  batch_delay: -1s\n",
		"threshold too high": "refresh:\n  importance_threshold: 120\n",
		"bad yaml":           "database: [",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", d.DSN())
}
