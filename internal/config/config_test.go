/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BACKLINE_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BACKLINE_DB_BACKEND", "sqlite")
	t.Setenv("BACKLINE_JWT_SIGNING_KEY", "test-signing-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Environment != "development" {
		t.Errorf("expected development environment, got %q", cfg.Environment)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTPPort)
	}
	if cfg.EventBus != EventBusMemory {
		t.Errorf("expected memory event bus default, got %q", cfg.EventBus)
	}
	if cfg.InvitationTTL != 168*time.Hour {
		t.Errorf("expected 168h invitation TTL, got %v", cfg.InvitationTTL)
	}
	if cfg.S3Enabled() {
		t.Error("S3 should be disabled without a bucket")
	}
	if cfg.SpotifyEnabled() {
		t.Error("Spotify should be disabled without credentials")
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("BACKLINE_JWT_SIGNING_KEY", "test-signing-key")
	t.Setenv("BACKLINE_DB_DSN", "")
	t.Setenv("BANDMATE_DB_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DSN is missing")
	}
}

func TestLoadRequiresSigningKey(t *testing.T) {
	t.Setenv("BACKLINE_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BACKLINE_DB_BACKEND", "sqlite")
	t.Setenv("BACKLINE_JWT_SIGNING_KEY", "")
	t.Setenv("BANDMATE_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when signing key is missing")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BACKLINE_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported database backend")
	}
}

func TestLoadRejectsUnknownEventBus(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BACKLINE_EVENT_BUS", "kafka")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported event bus backend")
	}
}

func TestLoadLegacyPrefixFallback(t *testing.T) {
	t.Setenv("BANDMATE_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BANDMATE_DB_BACKEND", "sqlite")
	t.Setenv("BANDMATE_JWT_SIGNING_KEY", "legacy-signing-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.JWTSigningKey != "legacy-signing-key" {
		t.Errorf("expected legacy prefix value, got %q", cfg.JWTSigningKey)
	}
}

func TestLoadProductionValidation(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BACKLINE_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short signing key in production")
	}

	t.Setenv("BACKLINE_JWT_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	if _, err := Load(); err != nil {
		t.Fatalf("expected valid production config, got %v", err)
	}
}

func TestMaxUploadSizeBytes(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BACKLINE_MAX_UPLOAD_SIZE_MB", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.MaxUploadSizeBytes(); got != 25*1024*1024 {
		t.Errorf("expected 25MB in bytes, got %d", got)
	}
}
