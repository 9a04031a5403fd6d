package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// AppConfig is loaded from an optional YAML file (CONFIG_FILE) and then from
// the environment, which wins.
type AppConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StockfishPath       string        `yaml:"stockfish_path"`
	EngineMaxProcs      int           `yaml:"engine_max_procs"`
	EngineDeadlineGrace time.Duration `yaml:"engine_deadline_grace"`
	EngineThreads       int           `yaml:"engine_threads"`
	EngineHashMB        int           `yaml:"engine_hash_mb"`
	EngineRemoteURL     string        `yaml:"engine_remote_url"`
	OpeningBookPath     string        `yaml:"opening_book_path"`
	OpeningMaxPly       int           `yaml:"opening_max_ply"`

	AuthMode  string `yaml:"auth_mode"`
	JWTSecret string `yaml:"jwt_secret"`

	RedisURL string `yaml:"redis_url"`
	Broker   string `yaml:"broker"`

	SessionSnapshotTTL       time.Duration `yaml:"session_snapshot_ttl"`
	SessionIdleTimeout       time.Duration `yaml:"session_idle_timeout"`
	SessionSweepInterval     time.Duration `yaml:"session_sweep_interval"`
	SessionLeaseTTL          time.Duration `yaml:"session_lease_ttl"`
	SessionCloseOnDisconnect bool          `yaml:"session_close_on_disconnect"`

	DatabaseURL     string `yaml:"database_url"`
	DatabaseMigrate bool   `yaml:"database_migrate"`

	MessagesDir string `yaml:"messages_dir"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:             ":8080",
		ShutdownTimeout:      10 * time.Second,
		StockfishPath:        "/usr/games/stockfish",
		EngineMaxProcs:       4,
		EngineDeadlineGrace:  2 * time.Second,
		EngineThreads:        1,
		EngineHashMB:         16,
		OpeningMaxPly:        12,
		AuthMode:             "jwt",
		Broker:               BrokerMemory,
		SessionSnapshotTTL:   24 * time.Hour,
		SessionSweepInterval: 30 * time.Second,
		SessionLeaseTTL:      30 * time.Second,
		DatabaseMigrate:      true,
	}
}

func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setList(&c.AllowedOrigins, "WS_ALLOWED_ORIGINS")
	setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	setString(&c.StockfishPath, "STOCKFISH_PATH")
	setInt(&c.EngineMaxProcs, "ENGINE_MAX_PROCS")
	setDuration(&c.EngineDeadlineGrace, "ENGINE_DEADLINE_GRACE")
	setInt(&c.EngineThreads, "ENGINE_THREADS")
	setInt(&c.EngineHashMB, "ENGINE_HASH_MB")
	setString(&c.EngineRemoteURL, "ENGINE_REMOTE_URL")
	setString(&c.OpeningBookPath, "OPENING_BOOK_PATH")
	setInt(&c.OpeningMaxPly, "OPENING_MAX_PLY")

	setString(&c.AuthMode, "AUTH_MODE")
	setString(&c.JWTSecret, "JWT_SECRET")

	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.Broker, "BROKER")

	setDuration(&c.SessionSnapshotTTL, "SESSION_SNAPSHOT_TTL")
	setDuration(&c.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT")
	setDuration(&c.SessionSweepInterval, "SESSION_SWEEP_INTERVAL")
	setDuration(&c.SessionLeaseTTL, "SESSION_LEASE_TTL")
	setBool(&c.SessionCloseOnDisconnect, "SESSION_CLOSE_ON_DISCONNECT")

	setString(&c.DatabaseURL, "DATABASE_URL")
	setBool(&c.DatabaseMigrate, "DATABASE_MIGRATE")

	setString(&c.MessagesDir, "MESSAGES_DIR")
}

func (c *AppConfig) Validate() error {
	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	c.Broker = strings.ToLower(strings.TrimSpace(c.Broker))

	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR is required")
	}
	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "header":
	default:
		return fmt.Errorf("AUTH_MODE must be jwt or header, got %q", c.AuthMode)
	}
	switch c.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when BROKER=redis")
		}
	default:
		return fmt.Errorf("BROKER must be memory or redis, got %q", c.Broker)
	}
	if c.StockfishPath == "" && c.EngineRemoteURL == "" {
		return errors.New("STOCKFISH_PATH or ENGINE_REMOTE_URL is required")
	}
	if c.EngineMaxProcs <= 0 {
		return errors.New("ENGINE_MAX_PROCS must be positive")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.RedisURL != "" && c.SessionLeaseTTL < time.Second {
		return errors.New("SESSION_LEASE_TTL must be at least 1s")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations or a bare number of seconds.
func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
