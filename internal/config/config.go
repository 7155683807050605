/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects the cross-instance event transport.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	BaseURL         string // Public base URL (e.g., http://band.example.com)
	DBBackend       DatabaseBackend
	DBDSN           string
	JWTSigningKey   string
	MetricsBind     string
	MaxUploadSizeMB int // Optional multipart upload limit override for attachment handlers (MB)

	// Attachment storage
	StorageRoot string // Filesystem root when S3 is not configured

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event bus and cache configuration
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	CacheEnabled  bool
	InstanceID    string

	// Spotify configuration
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyAPIBase      string
	SpotifyTokenURL     string

	// Invitation lifecycle
	InvitationTTL           time.Duration
	InvitationSweepInterval time.Duration

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"BACKLINE_ENV", "BANDMATE_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"BACKLINE_HTTP_BIND", "BANDMATE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"BACKLINE_HTTP_PORT", "BANDMATE_HTTP_PORT"}, 8080),
		BaseURL:         getEnvAny([]string{"BACKLINE_BASE_URL", "BANDMATE_BASE_URL"}, ""),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"BACKLINE_DB_BACKEND", "BANDMATE_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:           getEnvAny([]string{"BACKLINE_DB_DSN", "BANDMATE_DB_DSN"}, ""),
		JWTSigningKey:   getEnvAny([]string{"BACKLINE_JWT_SIGNING_KEY", "BANDMATE_JWT_SIGNING_KEY"}, ""),
		MetricsBind:     getEnvAny([]string{"BACKLINE_METRICS_BIND", "BANDMATE_METRICS_BIND"}, "127.0.0.1:9000"),
		MaxUploadSizeMB: getEnvIntAny([]string{"BACKLINE_MAX_UPLOAD_SIZE_MB", "BANDMATE_MAX_UPLOAD_SIZE_MB"}, 0),

		// Attachment storage
		StorageRoot: getEnvAny([]string{"BACKLINE_STORAGE_ROOT", "BANDMATE_STORAGE_ROOT"}, "./attachments"),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"BACKLINE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"BACKLINE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"BACKLINE_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"BACKLINE_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"BACKLINE_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"BACKLINE_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"BACKLINE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"BACKLINE_TRACING_ENABLED", "BANDMATE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BACKLINE_OTLP_ENDPOINT", "BANDMATE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BACKLINE_TRACING_SAMPLE_RATE", "BANDMATE_TRACING_SAMPLE_RATE"}, 1.0),

		// Event bus and cache configuration
		EventBus:      EventBusBackend(getEnvAny([]string{"BACKLINE_EVENT_BUS", "BANDMATE_EVENT_BUS"}, string(EventBusMemory))),
		RedisAddr:     getEnvAny([]string{"BACKLINE_REDIS_ADDR", "BANDMATE_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"BACKLINE_REDIS_PASSWORD", "BANDMATE_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"BACKLINE_REDIS_DB", "BANDMATE_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"BACKLINE_NATS_URL", "BANDMATE_NATS_URL"}, "nats://localhost:4222"),
		CacheEnabled:  getEnvBoolAny([]string{"BACKLINE_CACHE_ENABLED", "BANDMATE_CACHE_ENABLED"}, false),
		InstanceID:    getEnvAny([]string{"BACKLINE_INSTANCE_ID", "BANDMATE_INSTANCE_ID"}, ""),

		// Spotify configuration
		SpotifyClientID:     getEnvAny([]string{"BACKLINE_SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_ID"}, ""),
		SpotifyClientSecret: getEnvAny([]string{"BACKLINE_SPOTIFY_CLIENT_SECRET", "SPOTIFY_CLIENT_SECRET"}, ""),
		SpotifyAPIBase:      getEnvAny([]string{"BACKLINE_SPOTIFY_API_BASE", "SPOTIFY_API_BASE"}, "https://api.spotify.com/v1"),
		SpotifyTokenURL:     getEnvAny([]string{"BACKLINE_SPOTIFY_TOKEN_URL", "SPOTIFY_TOKEN_URL"}, "https://accounts.spotify.com/api/token"),

		// Invitation lifecycle
		InvitationTTL:           time.Duration(getEnvIntAny([]string{"BACKLINE_INVITATION_TTL_HOURS", "BANDMATE_INVITATION_TTL_HOURS"}, 168)) * time.Hour,
		InvitationSweepInterval: time.Duration(getEnvIntAny([]string{"BACKLINE_INVITATION_SWEEP_MINUTES", "BANDMATE_INVITATION_SWEEP_MINUTES"}, 60)) * time.Minute,
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("BACKLINE_DB_DSN or BANDMATE_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("BACKLINE_JWT_SIGNING_KEY or BANDMATE_JWT_SIGNING_KEY must be provided")
	}

	if cfg.EventBus != EventBusMemory && cfg.EventBus != EventBusRedis && cfg.EventBus != EventBusNATS {
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 32 {
			return nil, fmt.Errorf("BACKLINE_JWT_SIGNING_KEY must be at least 32 bytes in production")
		}
		if cfg.S3Bucket != "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
			return nil, fmt.Errorf("BACKLINE_S3_ACCESS_KEY_ID and BACKLINE_S3_SECRET_ACCESS_KEY are required when S3 storage is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// S3Enabled reports whether attachments go to object storage instead of the
// local filesystem.
func (c *Config) S3Enabled() bool {
	return c != nil && c.S3Bucket != ""
}

// SpotifyEnabled reports whether the Spotify proxy endpoints can serve.
func (c *Config) SpotifyEnabled() bool {
	return c != nil && c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use BACKLINE_ENV (or BANDMATE_ENV)",
		"JWT_SIGNING_KEY": "use BACKLINE_JWT_SIGNING_KEY (or BANDMATE_JWT_SIGNING_KEY)",
		"DATABASE_URL":    "use BACKLINE_DB_DSN (or BANDMATE_DB_DSN)",
		"TRACING_ENABLED": "use BACKLINE_TRACING_ENABLED (or BANDMATE_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use BACKLINE_OTLP_ENDPOINT (or BANDMATE_OTLP_ENDPOINT)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
