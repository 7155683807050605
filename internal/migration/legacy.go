/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/models"
)

// LegacyImporter copies a legacy Bandmate Postgres database into the target
// schema. Legacy integer primary keys become UUIDs; user IDs were already
// UUID strings and are kept so sessions survive the cutover.
type LegacyImporter struct {
	target *gorm.DB
	logger zerolog.Logger
}

// NewLegacyImporter creates an importer writing into target.
func NewLegacyImporter(target *gorm.DB, logger zerolog.Logger) *LegacyImporter {
	return &LegacyImporter{
		target: target,
		logger: logger.With().Str("component", "migration").Logger(),
	}
}

// Validate checks connection options and reachability of the legacy database.
func (l *LegacyImporter) Validate(ctx context.Context, options Options) error {
	var errs ValidationErrors

	if options.DBHost == "" {
		errs = append(errs, ValidationError{Field: "db_host", Message: "database host is required"})
	}
	if options.DBName == "" {
		errs = append(errs, ValidationError{Field: "db_name", Message: "database name is required"})
	}
	if options.DBUser == "" {
		errs = append(errs, ValidationError{Field: "db_user", Message: "database user is required"})
	}

	if len(errs) == 0 {
		legacy, err := sql.Open("postgres", options.DSN())
		if err == nil {
			err = legacy.PingContext(ctx)
			legacy.Close()
		}
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "db_host",
				Message: fmt.Sprintf("failed to connect to legacy database: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Analyze counts what an import would touch without writing anything.
func (l *LegacyImporter) Analyze(ctx context.Context, options Options) (*Result, error) {
	legacy, err := sql.Open("postgres", options.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to legacy database: %w", err)
	}
	defer legacy.Close()

	result := &Result{Skipped: make(map[string]int)}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM users", &result.UsersImported},
		{"SELECT COUNT(*) FROM bands", &result.BandsImported},
		{"SELECT COUNT(*) FROM band_membership", &result.MembershipsImported},
		{"SELECT COUNT(*) FROM songs", &result.SongsImported},
		{"SELECT COUNT(*) FROM song_progress", &result.ProgressImported},
		{"SELECT COUNT(*) FROM votes", &result.VotesImported},
		{"SELECT COUNT(*) FROM setlist_configs", &result.PreferencesImported},
	}
	for _, c := range counts {
		if err := legacy.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count legacy rows (%s): %w", c.query, err)
		}
	}

	l.logger.Info().
		Int("users", result.UsersImported).
		Int("bands", result.BandsImported).
		Int("songs", result.SongsImported).
		Msg("legacy analysis complete")

	return result, nil
}

// Import performs the migration. Callers should run it against an empty or
// freshly migrated target database.
func (l *LegacyImporter) Import(ctx context.Context, options Options, progress ProgressCallback) (*Result, error) {
	if options.DryRun {
		return l.Analyze(ctx, options)
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	startTime := time.Now()
	legacy, err := sql.Open("postgres", options.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to legacy database: %w", err)
	}
	defer legacy.Close()

	result := &Result{Skipped: make(map[string]int)}
	step := func(n int, phase, msg string) {
		progress(Progress{
			Phase:          phase,
			CurrentStep:    msg,
			TotalSteps:     7,
			CompletedSteps: n,
			StartTime:      startTime,
		})
	}

	step(0, "users", "Importing users")
	userIDs, err := l.importUsers(ctx, legacy, result)
	if err != nil {
		return nil, err
	}

	step(1, "bands", "Importing bands")
	bandIDs, err := l.importBands(ctx, legacy, result)
	if err != nil {
		return nil, err
	}

	step(2, "memberships", "Importing band memberships")
	if err := l.importMemberships(ctx, legacy, userIDs, bandIDs, result); err != nil {
		return nil, err
	}

	songIDs := map[int64]string{}
	if !options.SkipSongs {
		step(3, "songs", "Importing songs")
		songIDs, err = l.importSongs(ctx, legacy, bandIDs, result)
		if err != nil {
			return nil, err
		}
	}

	if !options.SkipProgress {
		step(4, "progress", "Importing song progress")
		if err := l.importProgress(ctx, legacy, userIDs, songIDs, result); err != nil {
			return nil, err
		}
	}

	if !options.SkipVotes {
		step(5, "votes", "Importing votes")
		if err := l.importVotes(ctx, legacy, userIDs, songIDs, result); err != nil {
			return nil, err
		}
	}

	if !options.SkipPreferences {
		step(6, "preferences", "Importing setlist preferences")
		if err := l.importPreferences(ctx, legacy, bandIDs, result); err != nil {
			return nil, err
		}
	}

	step(7, "completed", "Import completed")
	result.DurationSeconds = time.Since(startTime).Seconds()

	l.logger.Info().
		Int("users", result.UsersImported).
		Int("bands", result.BandsImported).
		Int("songs", result.SongsImported).
		Float64("seconds", result.DurationSeconds).
		Msg("legacy import complete")

	return result, nil
}

func (l *LegacyImporter) importUsers(ctx context.Context, legacy *sql.DB, result *Result) (map[string]string, error) {
	rows, err := legacy.QueryContext(ctx, `
		SELECT id, name, email, COALESCE(password_hash, ''), created_at
		FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("read legacy users: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var legacyID, name, email, passwordHash string
		var createdAt time.Time
		if err := rows.Scan(&legacyID, &name, &email, &passwordHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan legacy user: %w", err)
		}

		email = strings.ToLower(strings.TrimSpace(email))

		// Reuse existing accounts on re-run so the importer is idempotent
		// per email address.
		var existing models.User
		err := l.target.WithContext(ctx).Where("email = ?", email).First(&existing).Error
		if err == nil {
			ids[legacyID] = existing.ID
			result.Skipped["users_existing"]++
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("check existing user: %w", err)
		}

		if !strings.HasPrefix(passwordHash, "$2a$") && !strings.HasPrefix(passwordHash, "$2b$") {
			// Legacy werkzeug hashes cannot be verified here. The account is
			// still imported so memberships survive, but the user has to
			// reset their password.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("user %s has a non-bcrypt password hash and will need a password reset", email))
		}

		user := &models.User{
			ID:          legacyID,
			Email:       email,
			Password:    passwordHash,
			DisplayName: name,
			CreatedAt:   createdAt,
		}
		if err := l.target.WithContext(ctx).Create(user).Error; err != nil {
			return nil, fmt.Errorf("create user %s: %w", email, err)
		}
		ids[legacyID] = user.ID
		result.UsersImported++
	}
	return ids, rows.Err()
}

func (l *LegacyImporter) importBands(ctx context.Context, legacy *sql.DB, result *Result) (map[int64]string, error) {
	rows, err := legacy.QueryContext(ctx, `SELECT id, name, created_at FROM bands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read legacy bands: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]string)
	for rows.Next() {
		var legacyID int64
		var name string
		var createdAt time.Time
		if err := rows.Scan(&legacyID, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan legacy band: %w", err)
		}

		band := &models.Band{
			ID:        uuid.New().String(),
			Name:      name,
			CreatedAt: createdAt,
		}
		if err := l.target.WithContext(ctx).Create(band).Error; err != nil {
			return nil, fmt.Errorf("create band %q: %w", name, err)
		}
		ids[legacyID] = band.ID
		result.BandsImported++
	}
	return ids, rows.Err()
}

func (l *LegacyImporter) importMemberships(ctx context.Context, legacy *sql.DB, userIDs map[string]string, bandIDs map[int64]string, result *Result) error {
	rows, err := legacy.QueryContext(ctx, `
		SELECT user_id, band_id, role, joined_at FROM band_membership`)
	if err != nil {
		return fmt.Errorf("read legacy memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var legacyUserID, role string
		var legacyBandID int64
		var joinedAt time.Time
		if err := rows.Scan(&legacyUserID, &legacyBandID, &role, &joinedAt); err != nil {
			return fmt.Errorf("scan legacy membership: %w", err)
		}

		userID, okUser := userIDs[legacyUserID]
		bandID, okBand := bandIDs[legacyBandID]
		if !okUser || !okBand {
			result.Skipped["memberships_orphaned"]++
			continue
		}

		member := &models.BandMember{
			BandID:    bandID,
			UserID:    userID,
			Role:      MapRole(role),
			CreatedAt: joinedAt,
		}
		if err := l.target.WithContext(ctx).Create(member).Error; err != nil {
			return fmt.Errorf("create membership: %w", err)
		}
		result.MembershipsImported++
	}
	return rows.Err()
}

func (l *LegacyImporter) importSongs(ctx context.Context, legacy *sql.DB, bandIDs map[int64]string, result *Result) (map[int64]string, error) {
	rows, err := legacy.QueryContext(ctx, `
		SELECT id, band_id, title, artist, status,
		       COALESCE(duration_seconds, 0), last_rehearsed_on,
		       COALESCE(spotify_track_id, ''), COALESCE(album_art_url, ''),
		       created_at
		FROM songs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read legacy songs: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]string)
	for rows.Next() {
		var legacyID, legacyBandID int64
		var title, artist, status, spotifyTrackID, albumArtURL string
		var durationSeconds int
		var lastRehearsedOn sql.NullTime
		var createdAt time.Time
		if err := rows.Scan(&legacyID, &legacyBandID, &title, &artist, &status,
			&durationSeconds, &lastRehearsedOn, &spotifyTrackID, &albumArtURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan legacy song: %w", err)
		}

		bandID, ok := bandIDs[legacyBandID]
		if !ok {
			result.Skipped["songs_orphaned"]++
			continue
		}

		song := &models.Song{
			ID:              uuid.New().String(),
			BandID:          bandID,
			Title:           title,
			Artist:          artist,
			Status:          MapSongStatus(status),
			DurationSeconds: durationSeconds,
			SpotifyTrackID:  spotifyTrackID,
			SpotifyAlbumArt: albumArtURL,
			CreatedAt:       createdAt,
		}
		if lastRehearsedOn.Valid {
			t := lastRehearsedOn.Time
			song.LastRehearsedOn = &t
		}
		if err := l.target.WithContext(ctx).Create(song).Error; err != nil {
			return nil, fmt.Errorf("create song %q: %w", title, err)
		}
		ids[legacyID] = song.ID
		result.SongsImported++
	}
	return ids, rows.Err()
}

func (l *LegacyImporter) importProgress(ctx context.Context, legacy *sql.DB, userIDs map[string]string, songIDs map[int64]string, result *Result) error {
	rows, err := legacy.QueryContext(ctx, `
		SELECT user_id, song_id, status, updated_at FROM song_progress`)
	if err != nil {
		return fmt.Errorf("read legacy progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var legacyUserID, status string
		var legacySongID int64
		var updatedAt time.Time
		if err := rows.Scan(&legacyUserID, &legacySongID, &status, &updatedAt); err != nil {
			return fmt.Errorf("scan legacy progress: %w", err)
		}

		userID, okUser := userIDs[legacyUserID]
		songID, okSong := songIDs[legacySongID]
		if !okUser || !okSong {
			result.Skipped["progress_orphaned"]++
			continue
		}

		stage, ok := MapStage(status)
		if !ok {
			result.Skipped["progress_unknown_stage"]++
			continue
		}

		record := &models.SongProgress{
			SongID:    songID,
			UserID:    userID,
			Stage:     stage,
			UpdatedAt: updatedAt,
		}
		if err := l.target.WithContext(ctx).Create(record).Error; err != nil {
			return fmt.Errorf("create progress: %w", err)
		}
		result.ProgressImported++
	}
	return rows.Err()
}

func (l *LegacyImporter) importVotes(ctx context.Context, legacy *sql.DB, userIDs map[string]string, songIDs map[int64]string, result *Result) error {
	rows, err := legacy.QueryContext(ctx, `SELECT user_id, song_id, created_at FROM votes`)
	if err != nil {
		return fmt.Errorf("read legacy votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var legacyUserID string
		var legacySongID int64
		var createdAt time.Time
		if err := rows.Scan(&legacyUserID, &legacySongID, &createdAt); err != nil {
			return fmt.Errorf("scan legacy vote: %w", err)
		}

		userID, okUser := userIDs[legacyUserID]
		songID, okSong := songIDs[legacySongID]
		if !okUser || !okSong {
			result.Skipped["votes_orphaned"]++
			continue
		}

		vote := &models.Vote{
			SongID:    songID,
			UserID:    userID,
			CreatedAt: createdAt,
		}
		if err := l.target.WithContext(ctx).Create(vote).Error; err != nil {
			return fmt.Errorf("create vote: %w", err)
		}
		result.VotesImported++
	}
	return rows.Err()
}

func (l *LegacyImporter) importPreferences(ctx context.Context, legacy *sql.DB, bandIDs map[int64]string, result *Result) error {
	rows, err := legacy.QueryContext(ctx, `
		SELECT band_id, new_songs_buffer_percent, learned_songs_buffer_percent,
		       break_time_minutes, break_threshold_minutes,
		       min_session_minutes, max_session_minutes, time_cluster_minutes
		FROM setlist_configs`)
	if err != nil {
		return fmt.Errorf("read legacy setlist configs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var legacyBandID int64
		var row LegacyPreferences
		if err := rows.Scan(&legacyBandID, &row.NewSongsBufferPercent, &row.LearnedSongsBufferPercent,
			&row.BreakTimeMinutes, &row.BreakThresholdMinutes,
			&row.MinSessionMinutes, &row.MaxSessionMinutes, &row.TimeClusterMinutes); err != nil {
			return fmt.Errorf("scan legacy setlist config: %w", err)
		}

		bandID, ok := bandIDs[legacyBandID]
		if !ok {
			result.Skipped["preferences_orphaned"]++
			continue
		}

		prefs := ConvertPreferences(bandID, row)
		if err := l.target.WithContext(ctx).Create(&prefs).Error; err != nil {
			return fmt.Errorf("create setlist preferences: %w", err)
		}
		result.PreferencesImported++
	}
	return rows.Err()
}

// LegacyPreferences mirrors one row of the legacy setlist_configs table.
// Buffer values are whole percentages there, not fractions.
type LegacyPreferences struct {
	NewSongsBufferPercent     float64
	LearnedSongsBufferPercent float64
	BreakTimeMinutes          int
	BreakThresholdMinutes     int
	MinSessionMinutes         int
	MaxSessionMinutes         int
	TimeClusterMinutes        int
}

// ConvertPreferences maps a legacy config row onto the current model.
// The legacy schema had no learning ratio, so that field stays zero and
// falls back to the planner default at read time.
func ConvertPreferences(bandID string, row LegacyPreferences) models.SetlistPreferences {
	return models.SetlistPreferences{
		BandID:                bandID,
		NewSongBufferPct:      row.NewSongsBufferPercent / 100,
		LearnedSongBufferPct:  row.LearnedSongsBufferPercent / 100,
		BreakThresholdMinutes: float64(row.BreakThresholdMinutes),
		BreakDurationMinutes:  float64(row.BreakTimeMinutes),
		TimeClusterMinutes:    row.TimeClusterMinutes,
		MinSessionMinutes:     row.MinSessionMinutes,
		MaxSessionMinutes:     row.MaxSessionMinutes,
	}
}

// MapStage normalizes legacy progress labels. The old application stored
// either the enum name ("READY_FOR_REHEARSAL") or the display label
// ("Ready for Rehearsal") depending on its age.
func MapStage(raw string) (models.ProgressStage, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", " ")
	switch normalized {
	case "to listen":
		return models.StageToListen, true
	case "in practice":
		return models.StageInPractice, true
	case "ready for rehearsal":
		return models.StageReady, true
	case "mastered":
		return models.StageMastered, true
	default:
		return "", false
	}
}

// MapRole normalizes legacy membership roles, defaulting to member.
func MapRole(raw string) models.BandRole {
	if strings.EqualFold(strings.TrimSpace(raw), string(models.RoleLeader)) {
		return models.RoleLeader
	}
	return models.RoleMember
}

// MapSongStatus normalizes legacy song statuses, defaulting to wishlist.
func MapSongStatus(raw string) models.SongStatus {
	if strings.EqualFold(strings.TrimSpace(raw), string(models.SongActive)) {
		return models.SongActive
	}
	return models.SongWishlist
}
