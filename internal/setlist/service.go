/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package setlist

import (
	"context"
	"time"

	"github.com/backlinehq/backline/internal/cache"
	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
	"github.com/backlinehq/backline/internal/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Service wraps the planner with band state snapshots, stored preferences,
// caching, and event publication.
type Service struct {
	db     *gorm.DB
	bus    events.Dispatcher
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewService constructs the setlist service.
func NewService(db *gorm.DB, bus events.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "setlist").Logger(),
	}
}

// SetCache sets the cache instance for the service.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// Snapshot returns the band's active songs with aggregated readiness. A song
// counts as learned once a majority of active members mark it ready or
// mastered; until then it stays in the new bucket.
func (s *Service) Snapshot(ctx context.Context, bandID string) ([]cache.CachedSongSummary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetBandSongs(ctx, bandID); ok {
			return cached, nil
		}
	}

	var memberCount int64
	if err := s.db.WithContext(ctx).
		Model(&models.BandMember{}).
		Where("band_id = ?", bandID).
		Count(&memberCount).Error; err != nil {
		return nil, err
	}

	var songs []models.Song
	if err := s.db.WithContext(ctx).
		Where("band_id = ? AND status = ?", bandID, models.SongActive).
		Order("created_at ASC").
		Find(&songs).Error; err != nil {
		return nil, err
	}

	summaries := make([]cache.CachedSongSummary, 0, len(songs))
	for _, song := range songs {
		var progresses []models.SongProgress
		if err := s.db.WithContext(ctx).
			Where("song_id = ?", song.ID).
			Find(&progresses).Error; err != nil {
			return nil, err
		}

		ready := 0
		for _, p := range progresses {
			if p.Stage.Ready() {
				ready++
			}
		}

		var voteCount int64
		if err := s.db.WithContext(ctx).
			Model(&models.Vote{}).
			Where("song_id = ?", song.ID).
			Count(&voteCount).Error; err != nil {
			return nil, err
		}

		readiness := 0.0
		if memberCount > 0 {
			readiness = float64(ready) / float64(memberCount)
		}

		summaries = append(summaries, cache.CachedSongSummary{
			ID:              song.ID,
			Title:           song.Title,
			Artist:          song.Artist,
			Status:          string(song.Status),
			DurationSeconds: song.DurationSeconds,
			ReadinessRatio:  readiness,
			IsNew:           int64(ready*2) <= memberCount,
			VoteCount:       int(voteCount),
		})
	}

	if s.cache != nil {
		if err := s.cache.SetBandSongs(ctx, bandID, summaries); err != nil {
			s.logger.Debug().Err(err).Str("band_id", bandID).Msg("failed to cache band songs")
		}
	}

	return summaries, nil
}

// Preferences loads the band's planner tuning, falling back to defaults for
// any knob the band has not set. A missing row yields the full defaults.
func (s *Service) Preferences(ctx context.Context, bandID string) (Config, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetPreferences(ctx, bandID); ok {
			return mergeCachedPreferences(cached), nil
		}
	}

	var prefs models.SetlistPreferences
	err := s.db.WithContext(ctx).
		Where("band_id = ?", bandID).
		First(&prefs).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}

	if s.cache != nil {
		cached := toCachedPreferences(&prefs)
		if err := s.cache.SetPreferences(ctx, cached); err != nil {
			s.logger.Debug().Err(err).Str("band_id", bandID).Msg("failed to cache preferences")
		}
	}

	return mergePreferences(&prefs), nil
}

// SavePreferences upserts the band's planner tuning and invalidates the
// cached copy.
func (s *Service) SavePreferences(ctx context.Context, prefs *models.SetlistPreferences) error {
	if err := s.db.WithContext(ctx).Save(prefs).Error; err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePreferences(ctx, prefs.BandID); err != nil {
			s.logger.Debug().Err(err).Str("band_id", prefs.BandID).Msg("failed to invalidate preferences cache")
		}
	}

	if s.bus != nil {
		s.bus.Publish(events.EventPreferencesUpdate, events.Payload{
			"band_id": prefs.BandID,
		})
		telemetry.EventsPublishedTotal.WithLabelValues(string(events.EventPreferencesUpdate)).Inc()
	}

	return nil
}

// Generate plans a rehearsal session for the band. targetMinutes overrides
// the default session length when positive.
func (s *Service) Generate(ctx context.Context, bandID string, targetMinutes float64) (*PlanResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "setlist", "Generate")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"band_id": bandID,
	})

	startTime := time.Now()

	cfg, err := s.Preferences(ctx, bandID)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SetlistPlansTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if targetMinutes > 0 {
		cfg.TargetTotalMinutes = targetMinutes
	}

	summaries, err := s.Snapshot(ctx, bandID)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SetlistPlansTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	inputs := make([]SongInput, 0, len(summaries))
	for _, song := range summaries {
		inputs = append(inputs, SongInput{
			ID:              song.ID,
			DurationSeconds: song.DurationSeconds,
			ReadinessRatio:  song.ReadinessRatio,
			IsNew:           song.IsNew,
		})
	}

	result, err := Plan(inputs, cfg)

	telemetry.SetlistPlanDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SetlistPlansTotal.WithLabelValues("invalid_config").Inc()
		return nil, err
	}
	telemetry.SetlistPlansTotal.WithLabelValues("ok").Inc()

	s.logger.Info().
		Str("band_id", bandID).
		Int("songs", len(result.Entries)).
		Int("total_minutes", result.TotalMinutesFinal).
		Msg("setlist generated")

	if s.bus != nil {
		s.bus.Publish(events.EventSetlistGenerated, events.Payload{
			"band_id":       bandID,
			"songs":         len(result.Entries),
			"total_minutes": result.TotalMinutesFinal,
		})
		telemetry.EventsPublishedTotal.WithLabelValues(string(events.EventSetlistGenerated)).Inc()
	}

	return result, nil
}

// InvalidateSongs drops the band's cached song snapshot. Called by write
// paths that change songs, progress, or membership.
func (s *Service) InvalidateSongs(ctx context.Context, bandID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBandSongs(ctx, bandID); err != nil {
		s.logger.Debug().Err(err).Str("band_id", bandID).Msg("failed to invalidate band songs cache")
	}
}

func mergePreferences(prefs *models.SetlistPreferences) Config {
	cfg := DefaultConfig()
	if prefs.LearningRatio > 0 {
		cfg.LearningRatio = prefs.LearningRatio
	}
	if prefs.NewSongBufferPct > 0 {
		cfg.NewSongBufferPct = prefs.NewSongBufferPct
	}
	if prefs.LearnedSongBufferPct > 0 {
		cfg.LearnedSongBufferPct = prefs.LearnedSongBufferPct
	}
	if prefs.BreakThresholdMinutes > 0 {
		cfg.BreakThresholdMinutes = prefs.BreakThresholdMinutes
	}
	if prefs.BreakDurationMinutes > 0 {
		cfg.BreakDurationMinutes = prefs.BreakDurationMinutes
	}
	if prefs.TimeClusterMinutes > 0 {
		cfg.TimeClusterMinutes = prefs.TimeClusterMinutes
	}
	if prefs.MinSessionMinutes > 0 {
		cfg.MinSessionMinutes = prefs.MinSessionMinutes
	}
	if prefs.MaxSessionMinutes > 0 {
		cfg.MaxSessionMinutes = prefs.MaxSessionMinutes
	}
	return cfg
}

func mergeCachedPreferences(cached *cache.CachedPreferences) Config {
	return mergePreferences(&models.SetlistPreferences{
		BandID:                cached.BandID,
		LearningRatio:         cached.LearningRatio,
		NewSongBufferPct:      cached.NewSongBufferPct,
		LearnedSongBufferPct:  cached.LearnedSongBufferPct,
		BreakThresholdMinutes: cached.BreakThresholdMinutes,
		BreakDurationMinutes:  cached.BreakDurationMinutes,
		TimeClusterMinutes:    cached.TimeClusterMinutes,
		MinSessionMinutes:     cached.MinSessionMinutes,
		MaxSessionMinutes:     cached.MaxSessionMinutes,
	})
}

func toCachedPreferences(prefs *models.SetlistPreferences) *cache.CachedPreferences {
	return &cache.CachedPreferences{
		BandID:                prefs.BandID,
		LearningRatio:         prefs.LearningRatio,
		NewSongBufferPct:      prefs.NewSongBufferPct,
		LearnedSongBufferPct:  prefs.LearnedSongBufferPct,
		BreakThresholdMinutes: prefs.BreakThresholdMinutes,
		BreakDurationMinutes:  prefs.BreakDurationMinutes,
		TimeClusterMinutes:    prefs.TimeClusterMinutes,
		MinSessionMinutes:     prefs.MinSessionMinutes,
		MaxSessionMinutes:     prefs.MaxSessionMinutes,
	}
}
