package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ENTITY_RESOLVER_"

// Store providers
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`
	Patterns PatternsConfig `json:"patterns" yaml:"patterns"`
	Matching MatchingConfig `json:"matching" yaml:"matching"`
	Batch    BatchConfig    `json:"batch" yaml:"batch"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int    `json:"port" yaml:"port"`
	Host         string `json:"host" yaml:"host"`
	ReadTimeout  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	// AllowedOrigins enables CORS for browser callers; empty disables it
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins"`
}

// ResolverConfig holds the acceptance gates and signal weights of the reference resolver
type ResolverConfig struct {
	MinScore      float64 `json:"min_score" yaml:"min_score"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	TitleEqualityWeight    float64 `json:"title_equality_weight" yaml:"title_equality_weight"`
	TitleContainmentWeight float64 `json:"title_containment_weight" yaml:"title_containment_weight"`
	DateWeight             float64 `json:"date_weight" yaml:"date_weight"`
	DomainWeight           float64 `json:"domain_weight" yaml:"domain_weight"`
	AgentWeight            float64 `json:"agent_weight" yaml:"agent_weight"`
	DepthBonus             float64 `json:"depth_bonus" yaml:"depth_bonus"`
	DepthBonusThreshold    float64 `json:"depth_bonus_threshold" yaml:"depth_bonus_threshold"`
	PowerUserBonus         float64 `json:"power_user_bonus" yaml:"power_user_bonus"`

	BaseConfidence        float64 `json:"base_confidence" yaml:"base_confidence"`
	DepthConfidence       float64 `json:"depth_confidence" yaml:"depth_confidence"`
	PowerUserAdjustment   float64 `json:"power_user_adjustment" yaml:"power_user_adjustment"`
	RegularUserAdjustment float64 `json:"regular_user_adjustment" yaml:"regular_user_adjustment"`
	HelpSeekerAdjustment  float64 `json:"help_seeker_adjustment" yaml:"help_seeker_adjustment"`
	NewUserAdjustment     float64 `json:"new_user_adjustment" yaml:"new_user_adjustment"`
	CalendarBonus         float64 `json:"calendar_bonus" yaml:"calendar_bonus"`
	CalendarFrequencyMin  int     `json:"calendar_frequency_min" yaml:"calendar_frequency_min"`
}

// PatternsConfig holds the conversation analyzer weights and behavior thresholds
type PatternsConfig struct {
	MemoryWeight       int     `json:"memory_weight" yaml:"memory_weight"`
	LeaningRatio       float64 `json:"leaning_ratio" yaml:"leaning_ratio"`
	MessageDepthWeight float64 `json:"message_depth_weight" yaml:"message_depth_weight"`
	MemoryDepthWeight  float64 `json:"memory_depth_weight" yaml:"memory_depth_weight"`
	NewUserMaxMessages int     `json:"new_user_max_messages" yaml:"new_user_max_messages"`
	PowerUserMessages  int     `json:"power_user_messages" yaml:"power_user_messages"`
	PowerUserMemories  int     `json:"power_user_memories" yaml:"power_user_memories"`
}

// MatchingConfig holds the floors used by the matching engine
type MatchingConfig struct {
	FuzzyFloor       float64 `json:"fuzzy_floor" yaml:"fuzzy_floor"`
	SuggestionFloor  float64 `json:"suggestion_floor" yaml:"suggestion_floor"`
	ClusterThreshold float64 `json:"cluster_threshold" yaml:"cluster_threshold"`
	MaxRanked        int     `json:"max_ranked" yaml:"max_ranked"`
}

// BatchConfig represents batch orchestrator configuration
type BatchConfig struct {
	MaxConcurrency          int  `json:"max_concurrency" yaml:"max_concurrency"`
	MaxBatchSize            int  `json:"max_batch_size" yaml:"max_batch_size"`
	RetryAttempts           int  `json:"retry_attempts" yaml:"retry_attempts"`
	RetryInitialDelayMs     int  `json:"retry_initial_delay_ms" yaml:"retry_initial_delay_ms"`
	BreakerEnabled          bool `json:"breaker_enabled" yaml:"breaker_enabled"`
	BreakerFailureThreshold int  `json:"breaker_failure_threshold" yaml:"breaker_failure_threshold"`
	BreakerTimeoutSeconds   int  `json:"breaker_timeout_seconds" yaml:"breaker_timeout_seconds"`
}

// StoreConfig selects and configures the reference context store
type StoreConfig struct {
	Provider       string `json:"provider" yaml:"provider"`
	TTLHours       int    `json:"ttl_hours" yaml:"ttl_hours"`
	MemorySize     int    `json:"memory_size" yaml:"memory_size"`
	RedisAddr      string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword  string `json:"-" yaml:"redis_password"`
	RedisDB        int    `json:"redis_db" yaml:"redis_db"`
	RedisKeyPrefix string `json:"redis_key_prefix" yaml:"redis_key_prefix"`
	SQLitePath     string `json:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN    string `json:"-" yaml:"postgres_dsn"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TTL returns the context expiry window
func (s StoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "localhost",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Resolver: ResolverConfig{
			MinScore:               0.3,
			MinConfidence:          0.4,
			TitleEqualityWeight:    0.8,
			TitleContainmentWeight: 0.6,
			DateWeight:             0.4,
			DomainWeight:           0.1,
			AgentWeight:            0.1,
			DepthBonus:             0.05,
			DepthBonusThreshold:    5,
			PowerUserBonus:         0.1,

			BaseConfidence:        0.5,
			DepthConfidence:       0.3,
			PowerUserAdjustment:   0.2,
			RegularUserAdjustment: 0.1,
			HelpSeekerAdjustment:  -0.1,
			NewUserAdjustment:     -0.2,
			CalendarBonus:         0.15,
			CalendarFrequencyMin:  5,
		},
		Patterns: PatternsConfig{
			MemoryWeight:       2,
			LeaningRatio:       1.5,
			MessageDepthWeight: 0.3,
			MemoryDepthWeight:  0.7,
			NewUserMaxMessages: 3,
			PowerUserMessages:  20,
			PowerUserMemories:  10,
		},
		Matching: MatchingConfig{
			FuzzyFloor:       0.6,
			SuggestionFloor:  0.3,
			ClusterThreshold: 0.8,
			MaxRanked:        5,
		},
		Batch: BatchConfig{
			MaxConcurrency:          3,
			MaxBatchSize:            50,
			RetryAttempts:           1,
			RetryInitialDelayMs:     100,
			BreakerEnabled:          false,
			BreakerFailureThreshold: 5,
			BreakerTimeoutSeconds:   30,
		},
		Store: StoreConfig{
			Provider:       StoreMemory,
			TTLHours:       24,
			MemorySize:     10000,
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "entity-resolver:context:",
			SQLitePath:     "./data/contexts.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		if err := loadFromFile(config, path); err != nil {
			return nil, err
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile overlays a YAML file onto config
func loadFromFile(config *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	loadServerConfig(config)
	loadResolverConfig(config)
	loadPatternsConfig(config)
	loadMatchingConfig(config)
	loadBatchConfig(config)
	loadStoreConfig(config)
	loadLoggingConfig(config)
}

func loadServerConfig(config *Config) {
	if port := os.Getenv(EnvPrefix + "PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv(EnvPrefix + "HOST"); host != "" {
		config.Server.Host = host
	}
	envInt(&config.Server.ReadTimeout, "READ_TIMEOUT_SECONDS")
	envInt(&config.Server.WriteTimeout, "WRITE_TIMEOUT_SECONDS")
	if origins := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.Server.AllowedOrigins = append(config.Server.AllowedOrigins, origin)
			}
		}
	}
}

func loadResolverConfig(config *Config) {
	envFloat(&config.Resolver.MinScore, "MIN_SCORE")
	envFloat(&config.Resolver.MinConfidence, "MIN_CONFIDENCE")
	envFloat(&config.Resolver.DepthBonusThreshold, "DEPTH_BONUS_THRESHOLD")
	envFloat(&config.Resolver.BaseConfidence, "BASE_CONFIDENCE")
	envFloat(&config.Resolver.DepthConfidence, "DEPTH_CONFIDENCE")
	envFloat(&config.Resolver.PowerUserAdjustment, "POWER_USER_ADJUSTMENT")
	envFloat(&config.Resolver.RegularUserAdjustment, "REGULAR_USER_ADJUSTMENT")
	envFloat(&config.Resolver.HelpSeekerAdjustment, "HELP_SEEKER_ADJUSTMENT")
	envFloat(&config.Resolver.NewUserAdjustment, "NEW_USER_ADJUSTMENT")
	envFloat(&config.Resolver.CalendarBonus, "CALENDAR_BONUS")
	envInt(&config.Resolver.CalendarFrequencyMin, "CALENDAR_FREQUENCY_MIN")
}

func loadPatternsConfig(config *Config) {
	envInt(&config.Patterns.MemoryWeight, "MEMORY_WEIGHT")
	envFloat(&config.Patterns.LeaningRatio, "LEANING_RATIO")
	envFloat(&config.Patterns.MessageDepthWeight, "MESSAGE_DEPTH_WEIGHT")
	envFloat(&config.Patterns.MemoryDepthWeight, "MEMORY_DEPTH_WEIGHT")
	envInt(&config.Patterns.NewUserMaxMessages, "NEW_USER_MAX_MESSAGES")
	envInt(&config.Patterns.PowerUserMessages, "POWER_USER_MESSAGES")
	envInt(&config.Patterns.PowerUserMemories, "POWER_USER_MEMORIES")
}

func loadMatchingConfig(config *Config) {
	envFloat(&config.Matching.FuzzyFloor, "FUZZY_FLOOR")
	envFloat(&config.Matching.SuggestionFloor, "SUGGESTION_FLOOR")
	envFloat(&config.Matching.ClusterThreshold, "CLUSTER_THRESHOLD")
}

func loadBatchConfig(config *Config) {
	envInt(&config.Batch.MaxConcurrency, "MAX_CONCURRENCY")
	envInt(&config.Batch.RetryAttempts, "RETRY_ATTEMPTS")
	envInt(&config.Batch.RetryInitialDelayMs, "RETRY_INITIAL_DELAY_MS")
	if enabled := os.Getenv(EnvPrefix + "BREAKER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Batch.BreakerEnabled = b
		}
	}
	envInt(&config.Batch.BreakerFailureThreshold, "BREAKER_FAILURE_THRESHOLD")
	envInt(&config.Batch.BreakerTimeoutSeconds, "BREAKER_TIMEOUT_SECONDS")
}

func loadStoreConfig(config *Config) {
	if provider := os.Getenv(EnvPrefix + "STORE_PROVIDER"); provider != "" {
		config.Store.Provider = strings.ToLower(provider)
	}
	envInt(&config.Store.TTLHours, "CONTEXT_TTL_HOURS")
	envInt(&config.Store.MemorySize, "MEMORY_STORE_SIZE")

	// Redis settings also honour the conventional REDIS_* names
	if addr := os.Getenv(EnvPrefix + "REDIS_ADDR"); addr != "" {
		config.Store.RedisAddr = addr
	} else if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Store.RedisAddr = addr
	}
	if password := os.Getenv(EnvPrefix + "REDIS_PASSWORD"); password != "" {
		config.Store.RedisPassword = password
	} else if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Store.RedisPassword = password
	}
	envInt(&config.Store.RedisDB, "REDIS_DB")
	if prefix := os.Getenv(EnvPrefix + "REDIS_KEY_PREFIX"); prefix != "" {
		config.Store.RedisKeyPrefix = prefix
	}

	if path := os.Getenv(EnvPrefix + "SQLITE_PATH"); path != "" {
		config.Store.SQLitePath = path
	}
	if dsn := os.Getenv(EnvPrefix + "POSTGRES_DSN"); dsn != "" {
		config.Store.PostgresDSN = dsn
	} else if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Store.PostgresDSN = dsn
	}
}

func loadLoggingConfig(config *Config) {
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

func envInt(dst *int, key string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	for name, v := range map[string]float64{
		"min score":         c.Resolver.MinScore,
		"min confidence":    c.Resolver.MinConfidence,
		"base confidence":   c.Resolver.BaseConfidence,
		"fuzzy floor":       c.Matching.FuzzyFloor,
		"suggestion floor":  c.Matching.SuggestionFloor,
		"cluster threshold": c.Matching.ClusterThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.Patterns.LeaningRatio < 1 {
		return fmt.Errorf("leaning ratio must be at least 1")
	}
	if c.Patterns.MemoryWeight < 0 || c.Patterns.NewUserMaxMessages < 0 {
		return fmt.Errorf("memory weight and new user max messages cannot be negative")
	}
	if c.Patterns.PowerUserMessages <= c.Patterns.NewUserMaxMessages {
		return fmt.Errorf("power user messages must exceed new user max messages")
	}
	if c.Matching.MaxRanked <= 0 {
		return fmt.Errorf("max ranked must be positive")
	}

	if c.Batch.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if c.Batch.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.Batch.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Batch.BreakerEnabled && c.Batch.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive when the breaker is enabled")
	}

	if c.Store.TTLHours <= 0 {
		return fmt.Errorf("context ttl must be positive")
	}
	switch c.Store.Provider {
	case StoreMemory:
		if c.Store.MemorySize <= 0 {
			return fmt.Errorf("memory store size must be positive")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis store")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite store")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}

	return nil
}
