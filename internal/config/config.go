// Package config loads service configuration from files and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all deployment configuration for the fraudguard service.
// Scoring thresholds and weights are fixed in the fraud packages; this
// struct only carries knobs that vary per environment.
type Config struct {
	LogLevel string       `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Server   ServerConfig `mapstructure:"server"`
	Database DBConfig     `mapstructure:"database"`
	Redis    RedisConfig  `mapstructure:"redis"`
	Kafka    KafkaConfig  `mapstructure:"kafka"`
	Fraud    FraudConfig  `mapstructure:"fraud"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Addr empty means the in-memory block store is used instead.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	// Brokers empty means alerts are logged instead of published.
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type FraudConfig struct {
	PerCheckTimeout   time.Duration `mapstructure:"per_check_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	HighRiskCountries []string      `mapstructure:"high_risk_countries"`
	WhitelistIPs      []string      `mapstructure:"whitelist_ips"`
	WhitelistUsers    []string      `mapstructure:"whitelist_users"`
}

// Load reads configuration from the given path (optional), the default
// search paths, and FRAUDGUARD_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FRAUDGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fraudguard")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fraudguard")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine: defaults plus environment variables apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8086")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fraudguard.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.topic", "fraudguard.alerts")
	v.SetDefault("fraud.per_check_timeout", 800*time.Millisecond)
	v.SetDefault("fraud.sweep_interval", time.Minute)
	v.SetDefault("fraud.high_risk_countries", []string{"KP", "IR", "SY", "CU", "SD"})
}
