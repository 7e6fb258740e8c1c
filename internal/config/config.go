// Package config holds the process-wide settings for inboxd and the one-shot
// override merge applied before any configuration-dependent component is
// constructed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// ErrConfigLoad marks a fatal override-file failure: missing path or
// malformed document. Matched with errors.Is.
var ErrConfigLoad = errors.New("config load failed")

// Config is the immutable per-invocation service configuration. It is built
// once from the CLI surface and never mutated afterwards.
type Config struct {
	Prod          bool
	StartSyncback bool
	OverridePath  string
	Port          int
	LogLevel      string
}

// DefaultPort is the serving-loop bind port when -p/--port is not given.
const DefaultPort = 5555

// Duration decodes from both YAML documents and environment variables using
// Go duration syntax ("30s", "5m").
type Duration time.Duration

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repr string) error {
	parsed, err := time.ParseDuration(repr)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var repr string
	if err := value.Decode(&repr); err != nil {
		return err
	}
	return d.Decode(repr)
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DatabaseSettings configures the optional PostgreSQL action store. An empty
// DSN selects the in-memory store.
type DatabaseSettings struct {
	DSN string `yaml:"dsn" env:"INBOXD_DB_DSN"`
}

// RedisSettings configures the optional heartbeat backend. An empty address
// disables heartbeat reporting.
type RedisSettings struct {
	Addr     string `yaml:"addr" env:"INBOXD_REDIS_ADDR"`
	Password string `yaml:"password" env:"INBOXD_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"INBOXD_REDIS_DB,default=0"`
}

// SyncbackSettings sizes the background worker. Workers, QueueDepth and
// MaxAttempts are the three concurrency-shape parameters handed to the
// worker at construction time.
type SyncbackSettings struct {
	Workers      int      `yaml:"workers" env:"INBOXD_SYNCBACK_WORKERS,default=8"`
	QueueDepth   int      `yaml:"queue_depth" env:"INBOXD_SYNCBACK_QUEUE_DEPTH,default=64"`
	MaxAttempts  int      `yaml:"max_attempts" env:"INBOXD_SYNCBACK_MAX_ATTEMPTS,default=5"`
	PollInterval Duration `yaml:"poll_interval" env:"INBOXD_SYNCBACK_POLL_INTERVAL,default=2s"`
	// Cron spec used to requeue actions stuck in flight.
	RequeueSchedule string   `yaml:"requeue_schedule" env:"INBOXD_SYNCBACK_REQUEUE_SCHEDULE,default=@every 1m"`
	StuckAfter      Duration `yaml:"stuck_after" env:"INBOXD_SYNCBACK_STUCK_AFTER,default=5m"`
}

// APISettings tunes the serving loop.
type APISettings struct {
	// Requests per second and burst for the token-bucket limiter.
	RateLimit     float64  `yaml:"rate_limit" env:"INBOXD_API_RATE_LIMIT,default=50"`
	RateBurst     int      `yaml:"rate_burst" env:"INBOXD_API_RATE_BURST,default=100"`
	ReadTimeout   Duration `yaml:"read_timeout" env:"INBOXD_API_READ_TIMEOUT,default=30s"`
	WriteTimeout  Duration `yaml:"write_timeout" env:"INBOXD_API_WRITE_TIMEOUT,default=30s"`
	IdleTimeout   Duration `yaml:"idle_timeout" env:"INBOXD_API_IDLE_TIMEOUT,default=120s"`
	ShutdownGrace Duration `yaml:"shutdown_grace" env:"INBOXD_API_SHUTDOWN_GRACE,default=30s"`
}

// HeartbeatSettings tunes worker liveness reporting.
type HeartbeatSettings struct {
	Interval Duration `yaml:"interval" env:"INBOXD_HEARTBEAT_INTERVAL,default=30s"`
	TTL      Duration `yaml:"ttl" env:"INBOXD_HEARTBEAT_TTL,default=90s"`
}

// Settings is the process-wide configuration state shared by all
// components. It is written during the configure phase (defaults, then env,
// then the optional override merge) and read-only afterwards.
type Settings struct {
	LogLevel  string            `yaml:"log_level" env:"INBOXD_LOG_LEVEL,default=info"`
	Database  DatabaseSettings  `yaml:"database"`
	Redis     RedisSettings     `yaml:"redis"`
	Syncback  SyncbackSettings  `yaml:"syncback"`
	API       APISettings       `yaml:"api"`
	Heartbeat HeartbeatSettings `yaml:"heartbeat"`
}

// Default returns the built-in settings with environment variables applied.
// A .env file, when present, is expected to have been loaded by the caller
// before this runs.
func Default() (Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings from environment: %w", err)
	}
	return s, nil
}

// MergeFile applies the YAML override document at path onto s, overwriting
// any keys the document provides. The merge is all-or-nothing: on any read
// or parse failure s is left untouched and the error wraps ErrConfigLoad.
func (s *Settings) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrConfigLoad, path, err)
	}

	merged := *s
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrConfigLoad, path, err)
	}

	*s = merged
	return nil
}
