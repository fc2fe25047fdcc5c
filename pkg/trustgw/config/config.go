package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the top-level configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Trust     TrustConfig     `mapstructure:"trust"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"` // requests per interval per client
	RateInterval    string        `mapstructure:"rate_interval"`
}

// StoreConfig selects and configures the relationship store backend
type StoreConfig struct {
	Backend     string `mapstructure:"backend"` // memory or postgres
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Backend    string `mapstructure:"backend"` // memory or file
	FilePath   string `mapstructure:"file_path"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// TrustConfig holds the trust level catalog and default policy knobs
type TrustConfig struct {
	Levels []LevelConfig `mapstructure:"levels"`
}

// LevelConfig seeds one trust level into the registry at startup
type LevelConfig struct {
	Name                 string `mapstructure:"name"`
	Rank                 int    `mapstructure:"rank"`
	DefaultAnonymization string `mapstructure:"default_anonymization"`
	DefaultAccess        string `mapstructure:"default_access"`
	SystemDefault        bool   `mapstructure:"system_default"`
}

// TelemetryConfig configures the metrics endpoint
type TelemetryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Addr             string  `mapstructure:"addr"`
	Namespace        string  `mapstructure:"namespace"`
	ScrapeRatePerSec float64 `mapstructure:"scrape_rate_per_sec"`
	ScrapeBurst      int     `mapstructure:"scrape_burst"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig loads the configuration from the specified file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaultConfig(v)

	v.SetEnvPrefix("TRUSTGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Info().Str("config_file", configPath).Msg("Loaded configuration file")
	} else {
		log.Info().Msg("No configuration file provided, using environment variables and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaultConfig sets the default configuration values. The default
// trust level catalog mirrors the standard four-tier scale; deployments
// replace it wholesale from the config file.
func setDefaultConfig(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_interval", "1m")

	// Store defaults
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.postgres_dsn", "")

	// Audit defaults
	v.SetDefault("audit.backend", "file")
	v.SetDefault("audit.file_path", "trustgw-audit.jsonl")
	v.SetDefault("audit.buffer_size", 1000)

	// Trust level defaults
	v.SetDefault("trust.levels", []map[string]any{
		{"name": "untrusted", "rank": 0, "default_anonymization": "full", "default_access": "none", "system_default": true},
		{"name": "basic", "rank": 25, "default_anonymization": "high", "default_access": "read"},
		{"name": "standard", "rank": 50, "default_anonymization": "partial", "default_access": "subscribe"},
		{"name": "elevated", "rank": 75, "default_anonymization": "minimal", "default_access": "contribute"},
		{"name": "full", "rank": 100, "default_anonymization": "none", "default_access": "full"},
	})

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.addr", ":9094")
	v.SetDefault("telemetry.namespace", "trustgw")
	v.SetDefault("telemetry.scrape_rate_per_sec", 5.0)
	v.SetDefault("telemetry.scrape_burst", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}
