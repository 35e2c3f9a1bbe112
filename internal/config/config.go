package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/model-arena/model-arena/pkg/models"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Health    HealthConfig    `mapstructure:"health"`
	Arena     ArenaConfig     `mapstructure:"arena"`
	Rating    RatingConfig    `mapstructure:"rating"`
	Router    RouterConfig    `mapstructure:"router"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Backends  []BackendConfig `mapstructure:"backends"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig holds GPU slot scheduler configuration
type SchedulerConfig struct {
	SlotCount      int           `mapstructure:"slot_count"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// HealthConfig holds health monitor configuration
type HealthConfig struct {
	ProbeInterval     time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	RecoveryThreshold int           `mapstructure:"recovery_threshold"`
}

// ArenaConfig holds arena session configuration
type ArenaConfig struct {
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	MaxSessions       int           `mapstructure:"max_sessions"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
}

// RatingConfig holds ELO rating configuration
type RatingConfig struct {
	KFactor      float64 `mapstructure:"k_factor"`
	ApplyRetries int     `mapstructure:"apply_retries"`
}

// RouterConfig holds query routing configuration
type RouterConfig struct {
	// ToolProvider is the backend ID that serves tool-requiring queries.
	// Empty routes everything to the arena.
	ToolProvider string `mapstructure:"tool_provider"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// BackendConfig describes one catalog entry. The catalog is static; health
// is tracked at runtime by the registry.
type BackendConfig struct {
	ID       string   `mapstructure:"id"`
	Name     string   `mapstructure:"name"`
	Tier     string   `mapstructure:"tier"`
	Endpoint string   `mapstructure:"endpoint"`
	Tags     []string `mapstructure:"tags"`
	Fallback string   `mapstructure:"fallback"`
	MaxRPS   float64  `mapstructure:"max_rps"`
}

// ToModel converts a catalog entry to the domain type
func (b BackendConfig) ToModel() models.Backend {
	name := b.Name
	if name == "" {
		name = b.ID
	}
	return models.Backend{
		ID:                b.ID,
		Name:              name,
		Tier:              models.Tier(b.Tier),
		Endpoint:          b.Endpoint,
		Tags:              b.Tags,
		FallbackID:        b.Fallback,
		MaxRequestsPerSec: b.MaxRPS,
	}
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Read from environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from .env file if it exists
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	// Read from environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.path", "./data/arena.db")

	// Scheduler defaults
	v.SetDefault("scheduler.slot_count", 2)
	v.SetDefault("scheduler.acquire_timeout", 2*time.Second)

	// Health monitor defaults
	v.SetDefault("health.probe_interval", 5*time.Second)
	v.SetDefault("health.probe_timeout", 2*time.Second)
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.recovery_threshold", 1)

	// Arena defaults
	v.SetDefault("arena.session_ttl", 30*time.Minute)
	v.SetDefault("arena.max_sessions", 4096)
	v.SetDefault("arena.generation_timeout", 60*time.Second)

	// Rating defaults
	v.SetDefault("rating.k_factor", 32.0)
	v.SetDefault("rating.apply_retries", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Database path
	bindEnv("database.path", "DATABASE_PATH")

	// Server config
	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")

	// Engine tuning
	bindEnv("scheduler.slot_count", "ARENA_SLOT_COUNT")
	bindEnv("scheduler.acquire_timeout", "ARENA_ACQUIRE_TIMEOUT")
	bindEnv("health.probe_interval", "ARENA_PROBE_INTERVAL")
	bindEnv("arena.session_ttl", "ARENA_SESSION_TTL")
	bindEnv("rating.k_factor", "ARENA_K_FACTOR")
	bindEnv("router.tool_provider", "ARENA_TOOL_PROVIDER")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid. Failures here are fatal
// at startup.
func (c *Config) Validate() error {
	if c.Scheduler.SlotCount < 1 {
		return fmt.Errorf("scheduler.slot_count must be at least 1")
	}
	if c.Scheduler.AcquireTimeout <= 0 {
		return fmt.Errorf("scheduler.acquire_timeout must be positive")
	}
	if c.Health.ProbeInterval <= 0 {
		return fmt.Errorf("health.probe_interval must be positive")
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}
	if c.Health.RecoveryThreshold < 1 {
		return fmt.Errorf("health.recovery_threshold must be at least 1")
	}
	if c.Arena.SessionTTL <= 0 {
		return fmt.Errorf("arena.session_ttl must be positive")
	}
	if c.Arena.MaxSessions < 1 {
		return fmt.Errorf("arena.max_sessions must be at least 1")
	}
	if c.Rating.KFactor <= 0 {
		return fmt.Errorf("rating.k_factor must be positive")
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	byID := make(map[string]BackendConfig, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend with empty id in catalog")
		}
		if _, dup := byID[b.ID]; dup {
			return fmt.Errorf("duplicate backend id %q in catalog", b.ID)
		}
		if b.Tier != string(models.TierGPU) && b.Tier != string(models.TierCPU) {
			return fmt.Errorf("backend %q has invalid tier %q (want gpu or cpu)", b.ID, b.Tier)
		}
		if b.Endpoint == "" {
			return fmt.Errorf("backend %q has no endpoint", b.ID)
		}
		byID[b.ID] = b
	}

	for _, b := range c.Backends {
		if b.Fallback == "" {
			continue
		}
		if b.Fallback == b.ID {
			return fmt.Errorf("backend %q lists itself as fallback", b.ID)
		}
		target, ok := byID[b.Fallback]
		if !ok {
			return fmt.Errorf("backend %q fallback %q is not in the catalog", b.ID, b.Fallback)
		}
		if target.Tier != string(models.TierCPU) {
			return fmt.Errorf("backend %q fallback %q must be cpu tier", b.ID, b.Fallback)
		}
	}

	if c.Router.ToolProvider != "" {
		tp, ok := byID[c.Router.ToolProvider]
		if !ok {
			return fmt.Errorf("router.tool_provider %q is not in the catalog", c.Router.ToolProvider)
		}
		hasTag := false
		for _, t := range tp.Tags {
			if t == models.TagSupportsTools {
				hasTag = true
				break
			}
		}
		if !hasTag {
			return fmt.Errorf("router.tool_provider %q is missing the %q tag", c.Router.ToolProvider, models.TagSupportsTools)
		}
	}

	return nil
}
