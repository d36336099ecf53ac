package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (if any) over the built-in defaults,
// loads a .env file when present, and applies environment overrides. The
// result has NOT been validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose FUNDLEDGER_* variable is set.
// DATABASE_URL, REDIS_URL and PORT are honored as shorter aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "FUNDLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDLEDGER_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "FUNDLEDGER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "FUNDLEDGER_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.RequestTimeout, "FUNDLEDGER_SERVER_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "FUNDLEDGER_SERVER_SHUTDOWN_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "FUNDLEDGER_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDLEDGER_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "FUNDLEDGER_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "FUNDLEDGER_REDIS_CACHE_TTL")
	setBool(&cfg.Redis.LockEnabled, "FUNDLEDGER_REDIS_LOCK_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDLEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDLEDGER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "FUNDLEDGER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "FUNDLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDLEDGER_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setBool(&cfg.Engine.ReplayOnStart, "FUNDLEDGER_ENGINE_REPLAY_ON_START")
	setInt(&cfg.Engine.ReplayConcurrency, "FUNDLEDGER_ENGINE_REPLAY_CONCURRENCY")
	setDuration(&cfg.Engine.LockTTL, "FUNDLEDGER_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "FUNDLEDGER_ENGINE_LOCK_WAIT")
	setDuration(&cfg.Engine.PublishTimeout, "FUNDLEDGER_ENGINE_PUBLISH_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "FUNDLEDGER_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
