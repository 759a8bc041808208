package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)

	// Resolver gates
	assert.Equal(t, 0.3, cfg.Resolver.MinScore)
	assert.Equal(t, 0.4, cfg.Resolver.MinConfidence)
	assert.Equal(t, 0.8, cfg.Resolver.TitleEqualityWeight)
	assert.Equal(t, 0.6, cfg.Resolver.TitleContainmentWeight)
	assert.Equal(t, 0.5, cfg.Resolver.BaseConfidence)
	assert.Equal(t, -0.2, cfg.Resolver.NewUserAdjustment)
	assert.Equal(t, 5, cfg.Resolver.CalendarFrequencyMin)

	// Analyzer thresholds
	assert.Equal(t, 3, cfg.Patterns.NewUserMaxMessages)
	assert.Equal(t, 20, cfg.Patterns.PowerUserMessages)
	assert.Equal(t, 10, cfg.Patterns.PowerUserMemories)
	assert.Equal(t, 1.5, cfg.Patterns.LeaningRatio)

	// Batch defaults
	assert.Equal(t, 3, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 50, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 1, cfg.Batch.RetryAttempts)
	assert.False(t, cfg.Batch.BreakerEnabled)

	// Store defaults
	assert.Equal(t, StoreMemory, cfg.Store.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Resolver.MinConfidence = 1.5 },
			wantErr: true,
			errMsg:  "min confidence must be between 0 and 1",
		},
		{
			name:    "base confidence out of range",
			mutate:  func(c *Config) { c.Resolver.BaseConfidence = -0.1 },
			wantErr: true,
			errMsg:  "base confidence must be between 0 and 1",
		},
		{
			name:    "leaning ratio below one",
			mutate:  func(c *Config) { c.Patterns.LeaningRatio = 0.5 },
			wantErr: true,
			errMsg:  "leaning ratio must be at least 1",
		},
		{
			name:    "power user threshold below new user",
			mutate:  func(c *Config) { c.Patterns.PowerUserMessages = 2 },
			wantErr: true,
			errMsg:  "power user messages must exceed new user max messages",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Batch.MaxConcurrency = 0 },
			wantErr: true,
			errMsg:  "max concurrency must be positive",
		},
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Batch.RetryAttempts = 0 },
			wantErr: true,
			errMsg:  "retry attempts must be at least 1",
		},
		{
			name:    "non positive ttl",
			mutate:  func(c *Config) { c.Store.TTLHours = 0 },
			wantErr: true,
			errMsg:  "context ttl must be positive",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Store.Provider = StorePostgres
				c.Store.PostgresDSN = ""
			},
			wantErr: true,
			errMsg:  "postgres dsn is required",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Store.Provider = "etcd" },
			wantErr: true,
			errMsg:  "unknown store provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"PORT", "9090")
	t.Setenv(EnvPrefix+"MIN_CONFIDENCE", "0.55")
	t.Setenv(EnvPrefix+"MAX_CONCURRENCY", "7")
	t.Setenv(EnvPrefix+"BREAKER_ENABLED", "true")
	t.Setenv(EnvPrefix+"STORE_PROVIDER", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.55, cfg.Resolver.MinConfidence)
	assert.Equal(t, 7, cfg.Batch.MaxConcurrency)
	assert.True(t, cfg.Batch.BreakerEnabled)
	assert.Equal(t, StoreRedis, cfg.Store.Provider)
	assert.Equal(t, "redis:6380", cfg.Store.RedisAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_AnalyzerEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"NEW_USER_MAX_MESSAGES", "1")
	t.Setenv(EnvPrefix+"POWER_USER_MESSAGES", "8")
	t.Setenv(EnvPrefix+"POWER_USER_MEMORIES", "4")
	t.Setenv(EnvPrefix+"LEANING_RATIO", "2")
	t.Setenv(EnvPrefix+"BASE_CONFIDENCE", "0.6")
	t.Setenv(EnvPrefix+"NEW_USER_ADJUSTMENT", "0")
	t.Setenv(EnvPrefix+"CALENDAR_BONUS", "0.05")
	t.Setenv(EnvPrefix+"CALENDAR_FREQUENCY_MIN", "2")
	t.Setenv(EnvPrefix+"DEPTH_BONUS_THRESHOLD", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Patterns.NewUserMaxMessages)
	assert.Equal(t, 8, cfg.Patterns.PowerUserMessages)
	assert.Equal(t, 4, cfg.Patterns.PowerUserMemories)
	assert.Equal(t, 2.0, cfg.Patterns.LeaningRatio)
	assert.Equal(t, 0.6, cfg.Resolver.BaseConfidence)
	assert.Equal(t, 0.0, cfg.Resolver.NewUserAdjustment)
	assert.Equal(t, 0.05, cfg.Resolver.CalendarBonus)
	assert.Equal(t, 2, cfg.Resolver.CalendarFrequencyMin)
	assert.Equal(t, 3.0, cfg.Resolver.DepthBonusThreshold)
	// Unset adjustments keep their defaults
	assert.Equal(t, 0.2, cfg.Resolver.PowerUserAdjustment)
}

func TestLoadConfig_InvalidEnvIgnored(t *testing.T) {
	t.Setenv(EnvPrefix+"MAX_CONCURRENCY", "many")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrency)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolver.yaml")
	content := `
resolver:
  min_score: 0.25
  min_confidence: 0.45
  help_seeker_adjustment: -0.05
patterns:
  new_user_max_messages: 2
  power_user_memories: 6
matching:
  cluster_threshold: 0.9
batch:
  max_concurrency: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(EnvPrefix+"CONFIG_FILE", path)
	// Environment still wins over the file
	t.Setenv(EnvPrefix+"MAX_CONCURRENCY", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.Resolver.MinScore)
	assert.Equal(t, 0.45, cfg.Resolver.MinConfidence)
	assert.Equal(t, 0.9, cfg.Matching.ClusterThreshold)
	assert.Equal(t, -0.05, cfg.Resolver.HelpSeekerAdjustment)
	assert.Equal(t, 2, cfg.Patterns.NewUserMaxMessages)
	assert.Equal(t, 6, cfg.Patterns.PowerUserMemories)
	assert.Equal(t, 20, cfg.Patterns.PowerUserMessages)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrency)
	// Untouched fields keep their defaults
	assert.Equal(t, 0.8, cfg.Resolver.TitleEqualityWeight)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
