package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/querykit/internal/db"
)

// EnvPrefix is prepended to environment overrides, e.g. QUERYKIT_DATABASE_HOST.
const EnvPrefix = "QUERYKIT"

// Config is the runtime configuration of the query tools.
type Config struct {
	Database db.Config
	// SchemaPath points at an entity registry YAML file. Empty means the
	// built-in review schema.
	SchemaPath   string
	LogLevel     string
	QueryTimeout time.Duration
	// Source is the config file that was read, or "" when only defaults and
	// environment variables were used.
	Source string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database:     db.DefaultConfig(),
		LogLevel:     "info",
		QueryTimeout: 30 * time.Second,
	}
}

// Load reads config.yaml from configPath when present and applies
// QUERYKIT_-prefixed environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := cfg.Database
	v.SetDefault("database.driver", d.Driver)
	v.SetDefault("database.host", d.Host)
	v.SetDefault("database.port", d.Port)
	v.SetDefault("database.user", d.User)
	v.SetDefault("database.password", d.Password)
	v.SetDefault("database.dbname", d.DBName)
	v.SetDefault("database.sslmode", d.SSLMode)
	v.SetDefault("database.path", d.Path)
	v.SetDefault("schema.path", cfg.SchemaPath)
	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("query.timeout", cfg.QueryTimeout)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else {
			cfg.Source = v.ConfigFileUsed()
		}
	}

	cfg.Database = db.Config{
		Driver:   v.GetString("database.driver"),
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
		Path:     v.GetString("database.path"),
	}
	cfg.SchemaPath = v.GetString("schema.path")
	cfg.LogLevel = v.GetString("log.level")
	cfg.QueryTimeout = v.GetDuration("query.timeout")
	if cfg.QueryTimeout < 0 {
		return Config{}, fmt.Errorf("query.timeout must not be negative, got %s", cfg.QueryTimeout)
	}
	return cfg, nil
}
