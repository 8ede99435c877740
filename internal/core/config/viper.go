package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/solatis/segmentkeeper/internal/core/logging"
)

// FlagBindings maps config keys to command-line flags that override them.
type FlagBindings map[string]*pflag.Flag

// LoadConfig loads configuration using viper.
// Precedence: CLI flags > environment (SK_ prefix) > config file > defaults.
func LoadConfig(configPath string, flags FlagBindings) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("SK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are environment-only.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MaxConnections: v.GetInt("server.max_connections"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Store: StoreConfig{
			URL:          strings.TrimSpace(v.GetString("store.url")),
			QueryTimeout: v.GetDuration("store.query_timeout"),
		},
		Audience: AudienceConfig{
			DefaultSampleSize: v.GetInt("audience.default_sample_size"),
			MaxSampleSize:     v.GetInt("audience.max_sample_size"),
		},
		Segments: SegmentsConfig{
			DefaultPageSize: v.GetInt("segments.default_page_size"),
			MaxPageSize:     v.GetInt("segments.max_page_size"),
			ExcludeInactive: v.GetBool("segments.exclude_inactive"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("store.url", d.Store.URL)
	v.SetDefault("store.query_timeout", d.Store.QueryTimeout.String())
	v.SetDefault("audience.default_sample_size", d.Audience.DefaultSampleSize)
	v.SetDefault("audience.max_sample_size", d.Audience.MaxSampleSize)
	v.SetDefault("segments.default_page_size", d.Segments.DefaultPageSize)
	v.SetDefault("segments.max_page_size", d.Segments.MaxPageSize)
	v.SetDefault("segments.exclude_inactive", d.Segments.ExcludeInactive)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// validateConfig checks ranges and cross-field limits.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Store.URL == "" {
		return fmt.Errorf("store.url is required")
	}
	if cfg.Store.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %v", cfg.Store.QueryTimeout)
	}
	if cfg.Audience.MaxSampleSize <= 0 {
		return fmt.Errorf("max_sample_size must be positive, got %d", cfg.Audience.MaxSampleSize)
	}
	if cfg.Audience.DefaultSampleSize < 0 || cfg.Audience.DefaultSampleSize > cfg.Audience.MaxSampleSize {
		return fmt.Errorf("default_sample_size must be between 0 and max_sample_size (%d), got %d",
			cfg.Audience.MaxSampleSize, cfg.Audience.DefaultSampleSize)
	}
	if cfg.Segments.MaxPageSize <= 0 {
		return fmt.Errorf("max_page_size must be positive, got %d", cfg.Segments.MaxPageSize)
	}
	if cfg.Segments.DefaultPageSize <= 0 || cfg.Segments.DefaultPageSize > cfg.Segments.MaxPageSize {
		return fmt.Errorf("default_page_size must be between 1 and max_page_size (%d), got %d",
			cfg.Segments.MaxPageSize, cfg.Segments.DefaultPageSize)
	}
	if !logging.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use SK_HMAC_SECRET environment variable)")
	}
	return nil
}
