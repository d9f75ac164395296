package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Oracle    OracleConfig    `yaml:"oracle"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Summary   SummaryConfig   `yaml:"summary"`
	Guard     GuardConfig     `yaml:"guard"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// ReadOnlyDSN returns a DSN whose sessions reject writes. Generated
// statements are only ever executed through this channel.
func (d DatabaseConfig) ReadOnlyDSN() string {
	return d.DSN() + "&default_transaction_read_only=on"
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// OracleConfig points at an OpenAI-compatible completion endpoint. The
// classifier model may be a cheaper model than the answering model.
type OracleConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	ClassifierModel string        `yaml:"classifier_model"`
	Timeout         time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Quota  int           `yaml:"quota"`
	Window time.Duration `yaml:"window"`
	// Shared selects the Redis-backed limiter instead of the
	// per-instance in-memory one.
	Shared bool `yaml:"shared"`
}

type SummaryConfig struct {
	StaleWindow time.Duration `yaml:"stale_window"`
}

type GuardConfig struct {
	Schema            string        `yaml:"schema"`
	MaxRows           int           `yaml:"max_rows"`
	PolicyEnabled     bool          `yaml:"policy_enabled"`
	PolicyPath        string        `yaml:"policy_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "insight",
			User:            "insight",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			DB:       0,
			PoolSize: 50,
		},
		Oracle: OracleConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o",
			ClassifierModel: "gpt-4o-mini",
			Timeout:         60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Quota:  20,
			Window: time.Minute,
		},
		Summary: SummaryConfig{
			StaleWindow: 30 * time.Minute,
		},
		Guard: GuardConfig{
			Schema:            "public",
			MaxRows:           200,
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
	}
}
