/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config contains S3-compatible object storage configuration.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	PublicBaseURL   string // Optional CDN URL
	UsePathStyle    bool   // Required for MinIO
}

// S3Storage implements Storage using S3-compatible object storage.
type S3Storage struct {
	client *s3.Client
	cfg    S3Config
	logger zerolog.Logger
}

// NewS3Storage creates an S3-based storage backend.
func NewS3Storage(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Msg("S3 storage initialized")

	return &S3Storage{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "s3-storage").Logger(),
	}, nil
}

// Store uploads a file to object storage.
func (s *S3Storage) Store(ctx context.Context, bandID, attachmentID, filename string, file io.Reader) (string, error) {
	key := attachmentKey(bandID, attachmentID, filename)

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Str("band_id", bandID).
		Str("attachment_id", attachmentID).
		Msg("s3 storage: object stored")

	return key, nil
}

// Open returns a reader for a stored object.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

// Delete removes an object from storage.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	s.logger.Debug().Str("key", key).Msg("s3 storage: object deleted")
	return nil
}

// URL returns the public URL for an object.
func (s *S3Storage) URL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// CheckAccess verifies the bucket is reachable.
func (s *S3Storage) CheckAccess(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}
