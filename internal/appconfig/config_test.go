package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
api:
  port: 9000
  gin_mode: release
  redis_url: "redis://localhost:6379"
  limits:
    rate_limit:
      user_limit: 10
      window_sec: 30
matchmaking:
  room_ttl_sec: 300
  stale_match_sec: 90
  dispatch:
    interval_ms: 250
sweeper:
  interval_sec: 120
  dry_run: true
redis:
  pool_size: 20
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CONFIG", path)

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotPath != path {
		t.Fatalf("path: got %s want %s", gotPath, path)
	}
	if cfg.API.Port != 9000 || cfg.API.GinMode != "release" {
		t.Fatalf("api section wrong: %+v", cfg.API)
	}
	if cfg.API.Limits.RateLimit.UserLimit != 10 || cfg.API.Limits.RateLimit.WindowSec != 30 {
		t.Fatalf("rate limit wrong: %+v", cfg.API.Limits.RateLimit)
	}
	if cfg.Matchmaking.RoomTTLSec != 300 || cfg.Matchmaking.StaleMatchSec != 90 {
		t.Fatalf("matchmaking section wrong: %+v", cfg.Matchmaking)
	}
	if cfg.Matchmaking.Dispatch.IntervalMs != 250 {
		t.Fatalf("dispatch section wrong: %+v", cfg.Matchmaking.Dispatch)
	}
	if cfg.Sweeper.IntervalSec != 120 || cfg.Sweeper.DryRun == nil || !*cfg.Sweeper.DryRun {
		t.Fatalf("sweeper section wrong: %+v", cfg.Sweeper)
	}
	if cfg.Redis.PoolSize != 20 {
		t.Fatalf("redis section wrong: %+v", cfg.Redis)
	}
}

func TestLoadWithoutConfigFile(t *testing.T) {
	t.Setenv("APP_CONFIG", "")
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load without file: %v", err)
	}
	if path != "" {
		t.Fatalf("expected empty path, got %s", path)
	}
	if cfg == nil {
		t.Fatal("expected empty config, got nil")
	}
}

func TestSetEnvIfEmpty(t *testing.T) {
	t.Setenv("TEST_SET_ENV_KEY", "existing")
	SetEnvIfEmpty("TEST_SET_ENV_KEY", "new")
	if got := os.Getenv("TEST_SET_ENV_KEY"); got != "existing" {
		t.Fatalf("must not override existing env, got %s", got)
	}

	key := "TEST_SET_ENV_EMPTY_KEY"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })
	SetEnvIfEmpty(key, "value")
	if got := os.Getenv(key); got != "value" {
		t.Fatalf("backfill failed, got %s", got)
	}

	SetEnvIfEmptyInt("TEST_SET_ENV_INT_ZERO", 0)
	if _, ok := os.LookupEnv("TEST_SET_ENV_INT_ZERO"); ok {
		t.Fatal("zero value must not be backfilled")
	}
}
