// Package config loads deskflow settings from an optional config file and
// DESKFLOW_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// AppName is the config file base name searched for when no path is given.
	AppName = "deskflow"

	// EnvPrefix prefixes every environment override, e.g. DESKFLOW_ENGINE_MAX_STEPS.
	EnvPrefix = "DESKFLOW"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	EventBus  EventBusConfig  `mapstructure:"event_bus"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Retention RetentionConfig `mapstructure:"retention"`
	Otel      OtelConfig      `mapstructure:"otel"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"       validate:"min=1,max=65535"`
	LogLevel  string `mapstructure:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type EventBusConfig struct {
	// Type is gochannel for a single process or kafka.
	Type    string `mapstructure:"type"    validate:"oneof=gochannel kafka"`
	Brokers string `mapstructure:"brokers"`
}

type EngineConfig struct {
	MaxSteps         int    `mapstructure:"max_steps"         validate:"min=0"`
	Workers          int    `mapstructure:"workers"           validate:"min=0"`
	EscalationPolicy string `mapstructure:"escalation_policy" validate:"oneof=continue halt"`
}

// DispatchConfig points the engine at the support platform. An empty URL
// keeps collaborators in memory.
type DispatchConfig struct {
	URL        string        `mapstructure:"url"         validate:"omitempty,url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"     validate:"min=0"`
	MaxRetries uint          `mapstructure:"max_retries"`
	// Escalations is memory, events or redis.
	Escalations string `mapstructure:"escalations" validate:"oneof=memory events redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// RetentionConfig controls the execution janitor. A zero MaxAge disables it.
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"min=0"`
}

type OtelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9091)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "text")
	v.SetDefault("database.url", "file://./data")
	v.SetDefault("event_bus.type", "gochannel")
	v.SetDefault("event_bus.brokers", "")
	v.SetDefault("engine.max_steps", 1000)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.escalation_policy", "continue")
	v.SetDefault("dispatch.url", "")
	v.SetDefault("dispatch.token", "")
	v.SetDefault("dispatch.timeout", 10*time.Second)
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.escalations", "memory")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("retention.schedule", "@hourly")
	v.SetDefault("retention.max_age", time.Duration(0))
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "deskflow-api")
}

// Load reads configuration from path, or from deskflow.{yaml,json,toml} in the
// working directory or $HOME/.config/deskflow when path is empty. A missing
// default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/deskflow")
	}

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Dispatch.Escalations == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis escalations need redis.addr", ErrInvalidConfig)
	}

	return nil
}
