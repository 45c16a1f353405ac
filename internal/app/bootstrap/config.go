package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cadencehq/identity-service/internal/domain"
)

// Config is the resolved runtime configuration for the identity service.
// It merges file defaults and environment overrides to support both local and
// deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	SigningSecret string

	DefaultRole     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	VerifyTokenTTL  time.Duration

	FailedThreshold int
	AttemptWindow   time.Duration
	LockoutDuration time.Duration

	PasswordMinLength int

	RegisterPerMinute int
	RegisterBurst     int

	RoleCacheSize int
	RoleCacheTTL  time.Duration

	AuditBuffer       int
	AuditWriteTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxRetries   int

	SweepSchedule string
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Auth struct {
		DefaultRole       string `yaml:"default_role"`
		AccessTTLMinutes  int    `yaml:"access_ttl_minutes"`
		RefreshTTLDays    int    `yaml:"refresh_ttl_days"`
		FailedThreshold   int    `yaml:"failed_threshold"`
		AttemptWindowMin  int    `yaml:"attempt_window_minutes"`
		LockoutMinutes    int    `yaml:"lockout_minutes"`
		PasswordMinLength int    `yaml:"password_min_length"`
	} `yaml:"auth"`
	Worker struct {
		SweepSchedule string `yaml:"sweep_schedule"`
	} `yaml:"worker"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific
// overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "identity-service",
		HTTPPort:           8080,
		GRPCPort:           9090,
		MaxDBConns:         20,
		DefaultRole:        "user",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		ResetTokenTTL:      time.Hour,
		VerifyTokenTTL:     24 * time.Hour,
		FailedThreshold:    5,
		AttemptWindow:      15 * time.Minute,
		LockoutDuration:    30 * time.Minute,
		PasswordMinLength:  10,
		RegisterPerMinute:  10,
		RegisterBurst:      20,
		RoleCacheSize:      256,
		RoleCacheTTL:       30 * time.Second,
		AuditBuffer:        1024,
		AuditWriteTimeout:  5 * time.Second,
		OutboxPollInterval: 2 * time.Second,
		OutboxBatchSize:    100,
		OutboxMaxRetries:   5,
		SweepSchedule:      "@every 1h",
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Auth.DefaultRole != "" {
			cfg.DefaultRole = f.Auth.DefaultRole
		}
		if f.Auth.AccessTTLMinutes > 0 {
			cfg.AccessTokenTTL = time.Duration(f.Auth.AccessTTLMinutes) * time.Minute
		}
		if f.Auth.RefreshTTLDays > 0 {
			cfg.RefreshTokenTTL = time.Duration(f.Auth.RefreshTTLDays) * 24 * time.Hour
		}
		if f.Auth.FailedThreshold > 0 {
			cfg.FailedThreshold = f.Auth.FailedThreshold
		}
		if f.Auth.AttemptWindowMin > 0 {
			cfg.AttemptWindow = time.Duration(f.Auth.AttemptWindowMin) * time.Minute
		}
		if f.Auth.LockoutMinutes > 0 {
			cfg.LockoutDuration = time.Duration(f.Auth.LockoutMinutes) * time.Minute
		}
		if f.Auth.PasswordMinLength > 0 {
			cfg.PasswordMinLength = f.Auth.PasswordMinLength
		}
		if f.Worker.SweepSchedule != "" {
			cfg.SweepSchedule = f.Worker.SweepSchedule
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.SigningSecret = envOrDefault("TOKEN_SIGNING_SECRET", cfg.SigningSecret)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.DefaultRole = envOrDefault("DEFAULT_ROLE", cfg.DefaultRole)
	cfg.FailedThreshold = envInt("FAILED_LOGIN_THRESHOLD", cfg.FailedThreshold)
	cfg.PasswordMinLength = envInt("PASSWORD_MIN_LENGTH", cfg.PasswordMinLength)
	cfg.RegisterPerMinute = envInt("REGISTER_RATE_PER_MINUTE", cfg.RegisterPerMinute)
	cfg.RegisterBurst = envInt("REGISTER_RATE_BURST", cfg.RegisterBurst)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.SweepSchedule = envOrDefault("SWEEP_SCHEDULE", cfg.SweepSchedule)

	cfg.AccessTokenTTL = time.Duration(envInt("ACCESS_TOKEN_TTL_MINUTES", int(cfg.AccessTokenTTL.Minutes()))) * time.Minute
	cfg.RefreshTokenTTL = time.Duration(envInt("REFRESH_TOKEN_TTL_DAYS", int(cfg.RefreshTokenTTL.Hours()/24))) * 24 * time.Hour
	cfg.ResetTokenTTL = time.Duration(envInt("RESET_TOKEN_TTL_MINUTES", int(cfg.ResetTokenTTL.Minutes()))) * time.Minute
	cfg.VerifyTokenTTL = time.Duration(envInt("VERIFY_TOKEN_TTL_HOURS", int(cfg.VerifyTokenTTL.Hours()))) * time.Hour
	cfg.AttemptWindow = time.Duration(envInt("ATTEMPT_WINDOW_MINUTES", int(cfg.AttemptWindow.Minutes()))) * time.Minute
	cfg.LockoutDuration = time.Duration(envInt("ACCOUNT_LOCKOUT_MINUTES", int(cfg.LockoutDuration.Minutes()))) * time.Minute
	cfg.RoleCacheTTL = time.Duration(envInt("ROLE_CACHE_TTL_SECONDS", int(cfg.RoleCacheTTL.Seconds()))) * time.Second
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if len(cfg.SigningSecret) < 32 {
		// Refusing to start beats minting forgeable tokens.
		return Config{}, fmt.Errorf("TOKEN_SIGNING_SECRET must be at least 32 bytes")
	}

	return cfg, nil
}

// PasswordPolicy derives the effective policy from config.
func (c Config) PasswordPolicy() domain.PasswordPolicy {
	policy := domain.DefaultPasswordPolicy()
	policy.MinLength = c.PasswordMinLength
	return policy
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
