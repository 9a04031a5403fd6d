package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 4, cfg.EngineMaxProcs)
	require.Equal(t, 2*time.Second, cfg.EngineDeadlineGrace)
	require.Equal(t, BrokerMemory, cfg.Broker)
	require.Equal(t, 24*time.Hour, cfg.SessionSnapshotTTL)
	require.Zero(t, cfg.SessionIdleTimeout)
	require.False(t, cfg.SessionCloseOnDisconnect)
	require.True(t, cfg.DatabaseMigrate)
	require.Equal(t, 12, cfg.OpeningMaxPly)
	require.Equal(t, 30*time.Second, cfg.SessionLeaseTTL)
	require.Empty(t, cfg.OpeningBookPath)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chess.yaml")
	body := []byte(`
http_addr: ":9000"
engine_max_procs: 2
session_idle_timeout: 15m
broker: redis
redis_url: redis://file:6379/0
auth_mode: header
allowed_origins: ["example.com"]
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ENGINE_MAX_PROCS", "6")
	t.Setenv("SESSION_SWEEP_INTERVAL", "5")
	t.Setenv("SESSION_CLOSE_ON_DISCONNECT", "true")
	t.Setenv("WS_ALLOWED_ORIGINS", "a.test, b.test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, 6, cfg.EngineMaxProcs)
	require.Equal(t, 15*time.Minute, cfg.SessionIdleTimeout)
	require.Equal(t, 5*time.Second, cfg.SessionSweepInterval)
	require.True(t, cfg.SessionCloseOnDisconnect)
	require.Equal(t, BrokerRedis, cfg.Broker)
	require.Equal(t, "header", cfg.AuthMode)
	require.Equal(t, []string{"a.test", "b.test"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *AppConfig){
		"jwt without secret":   func(c *AppConfig) { c.JWTSecret = "" },
		"unknown auth":         func(c *AppConfig) { c.AuthMode = "ldap" },
		"redis without url":    func(c *AppConfig) { c.Broker = BrokerRedis },
		"unknown broker":       func(c *AppConfig) { c.Broker = "kafka" },
		"no engine":            func(c *AppConfig) { c.StockfishPath = "" },
		"zero procs":           func(c *AppConfig) { c.EngineMaxProcs = 0 },
		"negative idle":        func(c *AppConfig) { c.SessionIdleTimeout = -time.Second },
		"empty listen address": func(c *AppConfig) { c.HTTPAddr = "" },
		"short lease":          func(c *AppConfig) { c.RedisURL = "redis://r:6379/0"; c.SessionLeaseTTL = 100 * time.Millisecond },
	}
	for name, mutate := range cases {
		cfg := defaults()
		cfg.JWTSecret = "x"
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}

	cfg := defaults()
	cfg.AuthMode = " Header "
	cfg.StockfishPath = ""
	cfg.EngineRemoteURL = "http://engine:8080"
	require.NoError(t, cfg.Validate())
	require.Equal(t, "header", cfg.AuthMode)
}

func TestBadConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}
