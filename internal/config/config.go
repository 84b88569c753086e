// Package config loads Cadence configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the cadence binary.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path"`

	// HTTPAddr is the listen address for the HTTP API.
	HTTPAddr string `mapstructure:"http_addr"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// LogFormat selects console or json output.
	LogFormat string `mapstructure:"log_format"`

	// DefaultOrg is used by CLI commands when --org is not given.
	DefaultOrg string `mapstructure:"default_org"`
}

// Load reads configuration from an optional file path, falling back to
// ~/.config/cadence/cadence.yaml and CADENCE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("http_addr", "127.0.0.1:8380")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("default_org", "")

	v.SetEnvPrefix("CADENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("cadence")
		v.AddConfigPath(defaultConfigDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Missing config file is fine; defaults and env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cadence")
	}
	return "."
}

func defaultDBPath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".cadence", "cadence.db")
	}
	return "cadence.db"
}
