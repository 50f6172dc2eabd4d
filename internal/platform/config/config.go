// Package config loads process configuration.
//
// Values are layered: DefaultConfig, then an optional YAML file, then a .env
// file, then the process environment. Later layers only override the fields
// they set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server      Server      `yaml:"server" envPrefix:"BAN_SERVER_"`
	Database    Database    `yaml:"database" envPrefix:"BAN_DATABASE_"`
	Redis       RedisConfig `yaml:"redis" envPrefix:"BAN_REDIS_"`
	Cache       Cache       `yaml:"cache" envPrefix:"BAN_CACHE_"`
	Enforcement Enforcement `yaml:"enforcement" envPrefix:"BAN_ENFORCEMENT_"`
	Kafka       Kafka       `yaml:"kafka" envPrefix:"BAN_KAFKA_"`
	Notify      Notify      `yaml:"notify" envPrefix:"BAN_NOTIFY_"`
	Log         Log         `yaml:"log" envPrefix:"BAN_LOG_"`
	Tracing     Tracing     `yaml:"tracing" envPrefix:"BAN_TRACING_"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// AdminJWTKey signs admin bearer tokens (HS256). Empty disables the admin API.
	AdminJWTKey string `yaml:"admin_jwt_key" env:"ADMIN_JWT_KEY"`
	// MetricsToken, when set, is required in X-Admin-Token on /metrics.
	MetricsToken    string        `yaml:"metrics_token" env:"METRICS_TOKEN"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Database selects the relational backend.
type Database struct {
	// Driver is one of postgres (lib/pq), pgx or sqlite.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the optional shared lookup layer. An empty URL
// disables it.
type RedisConfig struct {
	URL          string        `yaml:"url" env:"URL"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// TTL bounds how long a candidate list stays shared between instances.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// Cache tunes the in-process active punishment cache.
type Cache struct {
	MaxEntries    int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	FreshFor      time.Duration `yaml:"fresh_for" env:"FRESH_FOR"`
	IdleTTL       time.Duration `yaml:"idle_ttl" env:"IDLE_TTL"`
	LoadTimeout   time.Duration `yaml:"load_timeout" env:"LOAD_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// FailurePolicy decides what a check does when it cannot complete and no
// cached punishment applies.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "closed"
	FailOpen   FailurePolicy = "open"
)

func (p FailurePolicy) Valid() bool {
	return p == FailClosed || p == FailOpen
}

// Enforcement bounds hook latency.
type Enforcement struct {
	LoginTimeout time.Duration `yaml:"login_timeout" env:"LOGIN_TIMEOUT"`
	ChatTimeout  time.Duration `yaml:"chat_timeout" env:"CHAT_TIMEOUT"`
	// FailurePolicy applies to logins.
	FailurePolicy FailurePolicy `yaml:"failure_policy" env:"FAILURE_POLICY"`
	// ChatFailurePolicy applies to chat messages.
	ChatFailurePolicy FailurePolicy `yaml:"chat_failure_policy" env:"CHAT_FAILURE_POLICY"`
}

// Kafka configures the event sink. No brokers disables it.
type Kafka struct {
	Brokers           []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic             string   `yaml:"topic" env:"TOPIC"`
	Partitions        int32    `yaml:"partitions" env:"PARTITIONS"`
	ReplicationFactor int16    `yaml:"replication_factor" env:"REPLICATION_FACTOR"`
}

// Notify sizes the asynchronous event buffer.
type Notify struct {
	Buffer int `yaml:"buffer" env:"BUFFER"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Tracing exports spans over OTLP/HTTP. An empty endpoint disables export.
type Tracing struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig returns settings suitable for a single server running with
// an embedded SQLite database.
func DefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Driver:          "sqlite",
			DSN:             "ban.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			TTL:          30 * time.Second,
		},
		Cache: Cache{
			MaxEntries:    512,
			FreshFor:      30 * time.Second,
			IdleTTL:       5 * time.Minute,
			LoadTimeout:   5 * time.Second,
			SweepInterval: time.Minute,
		},
		Enforcement: Enforcement{
			LoginTimeout:      2 * time.Second,
			ChatTimeout:       250 * time.Millisecond,
			FailurePolicy:     FailClosed,
			ChatFailurePolicy: FailOpen,
		},
		Kafka: Kafka{
			Topic:             "punishments",
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Notify: Notify{
			Buffer: 256,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Tracing: Tracing{
			ServiceName: "ban",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty), a .env file in the working directory (if present) and the
// environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres, pgx or sqlite, got %q", c.Database.Driver))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.FreshFor <= 0 || c.Cache.IdleTTL <= 0 || c.Cache.LoadTimeout <= 0 {
		errs = append(errs, errors.New("cache durations must be positive"))
	}
	if c.Enforcement.LoginTimeout <= 0 || c.Enforcement.ChatTimeout <= 0 {
		errs = append(errs, errors.New("enforcement timeouts must be positive"))
	}
	if !c.Enforcement.FailurePolicy.Valid() {
		errs = append(errs, fmt.Errorf("enforcement.failure_policy must be closed or open, got %q", c.Enforcement.FailurePolicy))
	}
	if !c.Enforcement.ChatFailurePolicy.Valid() {
		errs = append(errs, fmt.Errorf("enforcement.chat_failure_policy must be closed or open, got %q", c.Enforcement.ChatFailurePolicy))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Notify.Buffer < 0 {
		errs = append(errs, errors.New("notify.buffer must not be negative"))
	}
	return errors.Join(errs...)
}
