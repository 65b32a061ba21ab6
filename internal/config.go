package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tuannm99/novaexec"
	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/txn"
)

// EnvPrefix prefixes environment overrides, e.g. NOVAEXEC_SOURCE_DSN.
const EnvPrefix = "NOVAEXEC"

type Config struct {
	AppName string `mapstructure:"app_name"`

	Source struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"source"`

	Execution struct {
		FetchSize    int           `mapstructure:"fetch_size"`
		MaxRows      int           `mapstructure:"max_rows"`
		QueryTimeout time.Duration `mapstructure:"query_timeout"`
		BatchSize    int           `mapstructure:"batch_size"`
	} `mapstructure:"execution"`

	Transaction struct {
		AutoRollback bool   `mapstructure:"auto_rollback"`
		CloseAction  string `mapstructure:"close_action"`
	} `mapstructure:"transaction"`

	Server struct {
		Addr              string  `mapstructure:"addr"`
		MaxSessions       int     `mapstructure:"max_sessions"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
		MetricsAddr       string  `mapstructure:"metrics_addr"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novaexec")
	v.SetDefault("source.driver", "sqlite")
	v.SetDefault("source.dsn", "novaexec.db")
	v.SetDefault("execution.fetch_size", 0)
	v.SetDefault("execution.max_rows", 0)
	v.SetDefault("execution.query_timeout", "0s")
	v.SetDefault("execution.batch_size", 100)
	v.SetDefault("transaction.auto_rollback", true)
	v.SetDefault("transaction.close_action", string(txn.CloseRollback))
	v.SetDefault("server.addr", "127.0.0.1:8866")
	v.SetDefault("server.max_sessions", 64)
	v.SetDefault("server.requests_per_second", 0)
	v.SetDefault("server.burst", 1)
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the YAML file at path, applies defaults and NOVAEXEC_*
// environment overrides, and validates the result. An empty path uses
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.Driver) == "" {
		return errs.Config("source.driver", "empty driver name")
	}
	if c.Execution.FetchSize < 0 || c.Execution.MaxRows < 0 || c.Execution.BatchSize < 0 {
		return errs.Config("execution", "sizes must not be negative")
	}
	if c.Execution.QueryTimeout < 0 {
		return errs.Config("execution.query_timeout", "%s is negative", c.Execution.QueryTimeout)
	}
	if _, err := txn.ParseCloseAction(c.Transaction.CloseAction); err != nil {
		return err
	}
	if c.Server.MaxSessions <= 0 {
		return errs.Config("server.max_sessions", "%d is not positive", c.Server.MaxSessions)
	}
	if c.Server.RequestsPerSecond < 0 {
		return errs.Config("server.requests_per_second", "%v is negative", c.Server.RequestsPerSecond)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses log.level (debug, info, warn, error).
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errs.Config("log.level", "%q is not a level", c.Log.Level)
	}
	return lvl, nil
}

// ClientOptions maps the execution and transaction sections onto engine
// options.
func (c *Config) ClientOptions(logger *slog.Logger) novaexec.Options {
	return novaexec.Options{
		FetchSize:    c.Execution.FetchSize,
		MaxRows:      c.Execution.MaxRows,
		QueryTimeout: c.Execution.QueryTimeout,
		BatchSize:    c.Execution.BatchSize,
		CloseAction:  c.Transaction.CloseAction,
		AutoRollback: c.Transaction.AutoRollback,
		Logger:       logger,
	}
}
