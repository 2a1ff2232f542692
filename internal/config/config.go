// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Stream     StreamConfig
	Pricing    PricingConfig
	Lifecycle  LifecycleConfig
	Recovery   RecoveryConfig
	Metadata   MetadataConfig
	Durability DurabilityConfig
	LogLevel   string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ServerConfig holds the process's own HTTP surface (health + pub/sub upgrade).
type ServerConfig struct {
	Port string
}

// StreamConfig holds upstream subscription settings.
type StreamConfig struct {
	Endpoint          string
	RPCEndpoint       string // JSON-RPC HTTP endpoint backing internal/solanarpc (gap replay, signature lookups)
	Token             string
	Commitment        string // processed | confirmed | finalized
	ProgramIDBC       string
	ProgramIDAMM      string
	HeartbeatInterval time.Duration
	DegradedWindow    time.Duration // heartbeat gap beyond which the session is considered Degraded
	MinParseRate      float64       // below this wire-decode success rate the session is also Degraded
}

// PricingConfig holds SOL/USD polling and market cap defaults.
type PricingConfig struct {
	SolUsdEndpoint           string
	PollInterval             time.Duration
	RateLimitPerMinute       int
	DefaultTotalSupply       int64
	BCSaveThresholdUSD       float64
	AMMSaveThresholdUSD      float64
	SwitchSourceOnGraduation bool // resolves spec.md §9 Open Question, default false
}

// LifecycleConfig tunes the token lifecycle state machine.
type LifecycleConfig struct {
	AbandonmentWindow          time.Duration
	AbandonmentMinTrades       int
	GraduationResolutionWindow time.Duration
}

// RecoveryConfig tunes checkpointing and gap replay.
type RecoveryConfig struct {
	CheckpointInterval time.Duration
	CheckpointPath     string
	MaxReplaySlots     uint64
	MinGapDuration     time.Duration
}

// MetadataConfig tunes out-of-band enrichment lookups.
type MetadataConfig struct {
	PrimaryEndpoint  string
	FallbackEndpoint string
	BatchSize        int
	PollInterval     time.Duration
}

// DurabilityConfig tunes batched writes and roll-ups.
type DurabilityConfig struct {
	FlushInterval  time.Duration
	MaxBatchRows   int
	RollupInterval string // cron spec, e.g. "0 5 * * * *" for hourly at :05
}

// Load loads configuration from environment variables, falling back to
// typed defaults. A .env file in the working directory is loaded first,
// same as the teacher's config.Load.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "chain_indexer"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Stream: StreamConfig{
			Endpoint:          getEnv("STREAM_ENDPOINT", ""),
			RPCEndpoint:       getEnv("STREAM_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
			Token:             getEnv("STREAM_TOKEN", ""),
			Commitment:        getEnv("STREAM_COMMITMENT", "confirmed"),
			ProgramIDBC:       getEnv("BC_PROGRAM_ID", "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"),
			ProgramIDAMM:      getEnv("AMM_PROGRAM_ID", "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"),
			HeartbeatInterval: getEnvDuration("STREAM_HEARTBEAT_MS", 10*time.Second),
			DegradedWindow:    getEnvDuration("STREAM_DEGRADED_WINDOW_MS", 30*time.Second),
			MinParseRate:      getEnvFloat("STREAM_MIN_PARSE_RATE", 0.5),
		},
		Pricing: PricingConfig{
			SolUsdEndpoint:           getEnv("SOL_USD_ENDPOINT", "https://price.example/api/v1/sol"),
			PollInterval:             getEnvDuration("SOL_USD_POLL_MS", 5*time.Second),
			RateLimitPerMinute:       getEnvInt("SOL_USD_RATE_LIMIT", 30),
			DefaultTotalSupply:       getEnvInt64("DEFAULT_TOTAL_SUPPLY", 1_000_000_000),
			BCSaveThresholdUSD:       getEnvFloat("BC_SAVE_THRESHOLD", 8888),
			AMMSaveThresholdUSD:      getEnvFloat("AMM_SAVE_THRESHOLD", 8888),
			SwitchSourceOnGraduation: getEnvBool("SWITCH_PRICE_SOURCE_ON_GRADUATION", false),
		},
		Lifecycle: LifecycleConfig{
			AbandonmentWindow:          getEnvDuration("ABANDONMENT_WINDOW_MS", 24*time.Hour),
			AbandonmentMinTrades:       getEnvInt("ABANDONMENT_MIN_TRADES", 2),
			GraduationResolutionWindow: getEnvDuration("GRADUATION_RESOLUTION_WINDOW_MS", 30*time.Minute),
		},
		Recovery: RecoveryConfig{
			CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL_MS", 15*time.Second),
			CheckpointPath:     getEnv("CHECKPOINT_DB_PATH", "./data/checkpoints.db"),
			MaxReplaySlots:     uint64(getEnvInt64("MAX_REPLAY_SLOTS", 10_000)),
			MinGapDuration:     getEnvDuration("MIN_GAP_DURATION_MS", 2*time.Minute),
		},
		Metadata: MetadataConfig{
			PrimaryEndpoint:  getEnv("METADATA_PRIMARY_ENDPOINT", ""),
			FallbackEndpoint: getEnv("METADATA_FALLBACK_ENDPOINT", ""),
			BatchSize:        getEnvInt("METADATA_BATCH_SIZE", 50),
			PollInterval:     getEnvDuration("METADATA_POLL_MS", 30*time.Second),
		},
		Durability: DurabilityConfig{
			FlushInterval:  getEnvDuration("DURABILITY_FLUSH_MS", time.Second),
			MaxBatchRows:   getEnvInt("DURABILITY_MAX_BATCH_ROWS", 100),
			RollupInterval: getEnv("ROLLUP_CRON", "0 5 * * * *"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// GetDSN returns the PostgreSQL connection string. DATABASE_URL takes
// precedence over the discrete DB_ fields, same resolution as the teacher.
func (c *Config) GetDSN() string {
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvDuration(key string, defaultMS time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultMS
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(parsed) * time.Millisecond
	}
	return defaultMS
}
