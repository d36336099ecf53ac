package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atmx/fund-ledger/internal/config"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Postgres.DSN != "" {
		t.Error("defaults should select the in-memory store")
	}
}

func TestLoad_TOMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[server]
port = 9090

[engine]
replay_on_start = true
lock_wait = "3s"

[s3]
enabled = true
bucket = "ledger-archive"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Engine.ReplayOnStart || cfg.Engine.LockWait.Duration != 3*time.Second {
		t.Errorf("engine section not applied: %+v", cfg.Engine)
	}
	// Untouched keys keep their defaults.
	if cfg.Engine.ReplayConcurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.Engine.ReplayConcurrency)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.SlogLevel())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://alias")
	t.Setenv("FUNDLEDGER_POSTGRES_DSN", "postgres://explicit")
	t.Setenv("FUNDLEDGER_ENGINE_LOCK_TTL", "45s")
	t.Setenv("FUNDLEDGER_ENGINE_PUBLISH_TIMEOUT", "3s")
	t.Setenv("FUNDLEDGER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FUNDLEDGER_ENGINE_REPLAY_CONCURRENCY", "not-a-number")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Postgres.DSN != "postgres://explicit" {
		t.Errorf("FUNDLEDGER_ variable should win over alias, got %q", cfg.Postgres.DSN)
	}
	if cfg.Engine.LockTTL.Duration != 45*time.Second {
		t.Errorf("expected lock ttl 45s, got %v", cfg.Engine.LockTTL.Duration)
	}
	if cfg.Engine.PublishTimeout.Duration != 3*time.Second {
		t.Errorf("expected publish timeout 3s, got %v", cfg.Engine.PublishTimeout.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Engine.ReplayConcurrency != 4 {
		t.Errorf("unparseable override should be ignored, got %d", cfg.Engine.ReplayConcurrency)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "chatty"
	cfg.Server.Port = 0
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""
	cfg.Engine.ReplayConcurrency = 0
	cfg.Engine.PublishTimeout.Duration = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_level", "port", "bucket", "replay_concurrency", "publish_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}
