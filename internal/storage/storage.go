/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage persists song attachments (charts, tabs, reference
// recordings) on the local filesystem or in S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/backlinehq/backline/internal/config"
)

// Storage abstracts attachment file operations.
type Storage interface {
	Store(ctx context.Context, bandID, attachmentID, filename string, file io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
	CheckAccess(ctx context.Context) error
}

// Service manages attachment storage.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService creates an attachment service using filesystem or S3 storage
// based on config.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	var backend Storage

	if cfg.S3Enabled() {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}

		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, some operations may fail")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		backend = s3Storage
	} else {
		backend = NewFilesystemStorage(cfg.StorageRoot, logger)
	}

	return &Service{
		storage: backend,
		logger:  logger,
	}, nil
}

// NewServiceWithBackend wraps an explicit backend. Used by tests and tools
// that bypass config-driven selection.
func NewServiceWithBackend(backend Storage, logger zerolog.Logger) *Service {
	return &Service{storage: backend, logger: logger}
}

// Store saves an uploaded file and returns its storage key.
func (s *Service) Store(ctx context.Context, bandID, attachmentID, filename string, file io.Reader) (string, error) {
	key, err := s.storage.Store(ctx, bandID, attachmentID, filename, file)
	if err != nil {
		s.logger.Error().Err(err).
			Str("band_id", bandID).
			Str("attachment_id", attachmentID).
			Msg("attachment store failed")
		return "", err
	}
	return key, nil
}

// Open returns a reader for a stored attachment.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.storage.Open(ctx, key)
}

// Delete removes a stored attachment.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

// URL returns the public URL for a stored attachment, if the backend has one.
func (s *Service) URL(key string) string {
	return s.storage.URL(key)
}

// CheckAccess verifies the backend is reachable.
func (s *Service) CheckAccess(ctx context.Context) error {
	return s.storage.CheckAccess(ctx)
}

// attachmentKey builds the storage key for an attachment. The original
// extension is kept so downloads get a sensible content type.
func attachmentKey(bandID, attachmentID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join("bands", bandID, "attachments", attachmentID+ext)
}
