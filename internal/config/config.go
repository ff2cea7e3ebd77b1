// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Retention RetentionConfig `mapstructure:"retention"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DBConfig controls access to the PostgreSQL store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// GeminiConfig holds credentials and model selection for the analysis engine.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// LimitsConfig holds the two-tier admission ceilings for new processing
// requests. Both ceilings apply to the trailing Window.
type LimitsConfig struct {
	PerOrigin int           `mapstructure:"per_origin"`
	Global    int           `mapstructure:"global"`
	Window    time.Duration `mapstructure:"window"`

	// Burst limiting for the HTTP layer (polling endpoints).
	BurstLimit  int           `mapstructure:"burst_limit"`
	BurstWindow time.Duration `mapstructure:"burst_window"`
}

// RetentionConfig holds the sweep ages for persisted data.
type RetentionConfig struct {
	CacheMaxAge      time.Duration `mapstructure:"cache_max_age"`
	RequestLogMaxAge time.Duration `mapstructure:"request_log_max_age"`
}

// PipelineConfig bounds a single analysis run.
type PipelineConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	UseBrowser   bool          `mapstructure:"use_browser"`
}

// LoggingConfig toggles zap output options.
type LoggingConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// Load builds a Config from an optional config file and the environment.
// Environment variables use the CAREER_ prefix with underscores, e.g.
// CAREER_DB_DSN, CAREER_GEMINI_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAREER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3100", "http://localhost:3001"})

	v.SetDefault("gemini.model", "gemini-1.5-flash")

	v.SetDefault("limits.per_origin", 2)
	v.SetDefault("limits.global", 10)
	v.SetDefault("limits.window", 24*time.Hour)
	v.SetDefault("limits.burst_limit", 60)
	v.SetDefault("limits.burst_window", time.Minute)

	v.SetDefault("retention.cache_max_age", 24*time.Hour)
	v.SetDefault("retention.request_log_max_age", 30*24*time.Hour)

	v.SetDefault("pipeline.timeout", 5*time.Minute)
	v.SetDefault("pipeline.fetch_timeout", 30*time.Second)
	v.SetDefault("pipeline.use_browser", false)
}

// Validate checks that the configuration has usable values.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Limits.PerOrigin <= 0 {
		return fmt.Errorf("config error: limits.per_origin must be positive")
	}
	if c.Limits.Global < c.Limits.PerOrigin {
		return fmt.Errorf("config error: limits.global (%d) must be >= limits.per_origin (%d)",
			c.Limits.Global, c.Limits.PerOrigin)
	}
	if c.Limits.Window <= 0 {
		return fmt.Errorf("config error: limits.window must be positive")
	}
	if c.Retention.CacheMaxAge <= 0 {
		return fmt.Errorf("config error: retention.cache_max_age must be positive")
	}
	if c.Retention.RequestLogMaxAge < c.Limits.Window {
		return fmt.Errorf("config error: retention.request_log_max_age must cover the rate-limit window")
	}
	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("config error: pipeline.timeout must be positive")
	}
	return nil
}
