/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/backlinehq/backline/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultBandSongsTTL     = 5 * time.Minute
	DefaultPreferencesTTL   = 1 * time.Hour
	DefaultSpotifySearchTTL = 24 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeyBandSongs     = "backline:cache:band_songs:"     // + band_id
	KeyPreferences   = "backline:cache:preferences:"    // + band_id
	KeySpotifySearch = "backline:cache:spotify_search:" // + query hash
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	BandSongsTTL     time.Duration
	PreferencesTTL   time.Duration
	SpotifySearchTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:        "localhost:6379",
		BandSongsTTL:     DefaultBandSongsTTL,
		PreferencesTTL:   DefaultPreferencesTTL,
		SpotifySearchTTL: DefaultSpotifySearchTTL,
		DisableOnError:   true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")
	telemetry.CacheOperationsTotal.WithLabelValues(operation, "error").Inc()

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		telemetry.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	telemetry.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	telemetry.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Band song caching methods

// CachedSongSummary is a song with its aggregated readiness, as consumed by
// song listings and the planner snapshot.
type CachedSongSummary struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Status          string  `json:"status"`
	DurationSeconds int     `json:"duration_seconds"`
	ReadinessRatio  float64 `json:"readiness_ratio"`
	IsNew           bool    `json:"is_new"`
	VoteCount       int     `json:"vote_count"`
}

// GetBandSongs retrieves the cached song summaries for a band.
func (c *Cache) GetBandSongs(ctx context.Context, bandID string) ([]CachedSongSummary, bool) {
	var songs []CachedSongSummary
	found, err := c.get(ctx, KeyBandSongs+bandID, &songs)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("band_id", bandID).Int("count", len(songs)).Msg("band songs cache hit")
	return songs, true
}

// SetBandSongs caches the song summaries for a band.
func (c *Cache) SetBandSongs(ctx context.Context, bandID string, songs []CachedSongSummary) error {
	c.logger.Debug().Str("band_id", bandID).Int("count", len(songs)).Msg("caching band songs")
	return c.set(ctx, KeyBandSongs+bandID, songs, c.config.BandSongsTTL)
}

// InvalidateBandSongs removes the song summaries for a band from cache.
func (c *Cache) InvalidateBandSongs(ctx context.Context, bandID string) error {
	c.logger.Debug().Str("band_id", bandID).Msg("invalidating band songs cache")
	return c.delete(ctx, KeyBandSongs+bandID)
}

// Preferences caching methods

// CachedPreferences is a band's stored planner tuning.
type CachedPreferences struct {
	BandID                string  `json:"band_id"`
	LearningRatio         float64 `json:"learning_ratio"`
	NewSongBufferPct      float64 `json:"new_song_buffer_pct"`
	LearnedSongBufferPct  float64 `json:"learned_song_buffer_pct"`
	BreakThresholdMinutes float64 `json:"break_threshold_minutes"`
	BreakDurationMinutes  float64 `json:"break_duration_minutes"`
	TimeClusterMinutes    int     `json:"time_cluster_minutes"`
	MinSessionMinutes     int     `json:"min_session_minutes"`
	MaxSessionMinutes     int     `json:"max_session_minutes"`
}

// GetPreferences retrieves cached planner preferences for a band.
func (c *Cache) GetPreferences(ctx context.Context, bandID string) (*CachedPreferences, bool) {
	var prefs CachedPreferences
	found, err := c.get(ctx, KeyPreferences+bandID, &prefs)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("band_id", bandID).Msg("preferences cache hit")
	return &prefs, true
}

// SetPreferences caches planner preferences for a band.
func (c *Cache) SetPreferences(ctx context.Context, prefs *CachedPreferences) error {
	c.logger.Debug().Str("band_id", prefs.BandID).Msg("caching preferences")
	return c.set(ctx, KeyPreferences+prefs.BandID, prefs, c.config.PreferencesTTL)
}

// InvalidatePreferences removes a band's planner preferences from cache.
func (c *Cache) InvalidatePreferences(ctx context.Context, bandID string) error {
	c.logger.Debug().Str("band_id", bandID).Msg("invalidating preferences cache")
	return c.delete(ctx, KeyPreferences+bandID)
}

// Spotify search caching methods

// CachedSpotifyTrack is one search result from the Spotify proxy.
type CachedSpotifyTrack struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	AlbumArtURL     string `json:"album_art_url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// GetSpotifySearch retrieves cached search results by query key.
func (c *Cache) GetSpotifySearch(ctx context.Context, queryKey string) ([]CachedSpotifyTrack, bool) {
	var tracks []CachedSpotifyTrack
	found, err := c.get(ctx, KeySpotifySearch+queryKey, &tracks)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("query", queryKey).Int("count", len(tracks)).Msg("spotify search cache hit")
	return tracks, true
}

// SetSpotifySearch caches search results for a query key.
func (c *Cache) SetSpotifySearch(ctx context.Context, queryKey string, tracks []CachedSpotifyTrack) error {
	c.logger.Debug().Str("query", queryKey).Int("count", len(tracks)).Msg("caching spotify search")
	return c.set(ctx, KeySpotifySearch+queryKey, tracks, c.config.SpotifySearchTTL)
}

// Bulk invalidation methods

// InvalidateBand removes all caches related to a band.
func (c *Cache) InvalidateBand(ctx context.Context, bandID string) error {
	c.logger.Debug().Str("band_id", bandID).Msg("invalidating all band caches")

	if err := c.InvalidateBandSongs(ctx, bandID); err != nil {
		return err
	}

	if err := c.InvalidatePreferences(ctx, bandID); err != nil {
		return err
	}

	return nil
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "backline:cache:*")
}
