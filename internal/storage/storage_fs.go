/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesystemStorage implements Storage using local filesystem.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir: rootDir,
		logger:  logger,
	}
}

// Store saves a file to the local filesystem.
func (fs *FilesystemStorage) Store(ctx context.Context, bandID, attachmentID, filename string, file io.Reader) (string, error) {
	key := attachmentKey(bandID, attachmentID, filename)
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		os.Remove(fullPath) // Clean up on failure
		return "", fmt.Errorf("write file: %w", err)
	}

	fs.logger.Debug().
		Str("path", fullPath).
		Str("key", key).
		Str("band_id", bandID).
		Str("attachment_id", attachmentID).
		Msg("filesystem storage: file stored")

	return key, nil
}

// Open returns a reader for a stored file.
func (fs *FilesystemStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a file from the filesystem.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Msg("filesystem storage: file deleted")
	return nil
}

// URL returns the storage key; filesystem attachments are served through the
// API, not directly.
func (fs *FilesystemStorage) URL(key string) string {
	return key
}

// CheckAccess verifies the storage directory exists and is accessible.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("storage root directory does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access storage root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", fs.rootDir)
	}
	return nil
}
