/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/auth"
	"github.com/backlinehq/backline/internal/db"
	"github.com/backlinehq/backline/internal/migration"
	"github.com/backlinehq/backline/internal/models"
)

// Seed fixture types, loaded from YAML.

type seedFixture struct {
	Users []seedUser `yaml:"users"`
	Bands []seedBand `yaml:"bands"`
}

type seedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type seedBand struct {
	Name        string            `yaml:"name"`
	Members     []seedMember      `yaml:"members"`
	Songs       []seedSong        `yaml:"songs"`
	Preferences *seedPreferences  `yaml:"preferences"`
}

type seedMember struct {
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type seedSong struct {
	Title           string            `yaml:"title"`
	Artist          string            `yaml:"artist"`
	Status          string            `yaml:"status"`
	DurationSeconds int               `yaml:"duration_seconds"`
	SpotifyTrackID  string            `yaml:"spotify_track_id"`
	Progress        map[string]string `yaml:"progress"` // email -> stage
	Votes           []string          `yaml:"votes"`    // emails
}

type seedPreferences struct {
	LearningRatio         float64 `yaml:"learning_ratio"`
	NewSongBufferPct      float64 `yaml:"new_song_buffer_pct"`
	LearnedSongBufferPct  float64 `yaml:"learned_song_buffer_pct"`
	BreakThresholdMinutes float64 `yaml:"break_threshold_minutes"`
	BreakDurationMinutes  float64 `yaml:"break_duration_minutes"`
	TimeClusterMinutes    int     `yaml:"time_cluster_minutes"`
	MinSessionMinutes     int     `yaml:"min_session_minutes"`
	MaxSessionMinutes     int     `yaml:"max_session_minutes"`
}

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo fixtures from a YAML file",
	Long: `Loads users, bands, songs, progress, and votes from a YAML fixture file.
Existing users are matched by email and reused, so seeding is safe to re-run.

Example fixture:

  users:
    - {email: ana@example.com, name: Ana, password: correct-horse}
    - {email: ben@example.com, name: Ben, password: correct-horse}
  bands:
    - name: The Soundchecks
      members:
        - {email: ana@example.com, role: leader}
        - {email: ben@example.com, role: member}
      songs:
        - title: Black Dog
          artist: Led Zeppelin
          status: active
          duration_seconds: 296
          progress: {ana@example.com: mastered, ben@example.com: in_practice}`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVar(&seedFile, "file", "", "Path to YAML fixture file (required)")
	seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read fixture file: %w", err)
	}

	var fixture seedFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("parse fixture file: %w", err)
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	userIDs := make(map[string]string)
	for _, u := range fixture.Users {
		id, err := seedEnsureUser(database, u)
		if err != nil {
			return err
		}
		userIDs[strings.ToLower(u.Email)] = id
	}

	for _, b := range fixture.Bands {
		if err := seedCreateBand(database, b, userIDs); err != nil {
			return err
		}
	}

	logger.Info().
		Int("users", len(fixture.Users)).
		Int("bands", len(fixture.Bands)).
		Msg("seed complete")
	return nil
}

func seedEnsureUser(database *gorm.DB, u seedUser) (string, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))

	var existing models.User
	err := database.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("check user %s: %w", email, err)
	}

	hash, err := auth.HashPassword(u.Password)
	if err != nil {
		return "", fmt.Errorf("hash password for %s: %w", email, err)
	}

	user := &models.User{
		ID:          uuid.New().String(),
		Email:       email,
		Password:    hash,
		DisplayName: u.Name,
	}
	if err := database.Create(user).Error; err != nil {
		return "", fmt.Errorf("create user %s: %w", email, err)
	}
	return user.ID, nil
}

func seedCreateBand(database *gorm.DB, b seedBand, userIDs map[string]string) error {
	band := &models.Band{
		ID:   uuid.New().String(),
		Name: b.Name,
	}
	if err := database.Create(band).Error; err != nil {
		return fmt.Errorf("create band %q: %w", b.Name, err)
	}

	for _, m := range b.Members {
		userID, ok := userIDs[strings.ToLower(m.Email)]
		if !ok {
			return fmt.Errorf("band %q references unknown user %s", b.Name, m.Email)
		}
		member := &models.BandMember{
			BandID: band.ID,
			UserID: userID,
			Role:   migration.MapRole(m.Role),
		}
		if err := database.Create(member).Error; err != nil {
			return fmt.Errorf("create membership for %s: %w", m.Email, err)
		}
	}

	for _, s := range b.Songs {
		if err := seedCreateSong(database, band.ID, s, userIDs); err != nil {
			return err
		}
	}

	if b.Preferences != nil {
		p := b.Preferences
		prefs := &models.SetlistPreferences{
			BandID:                band.ID,
			LearningRatio:         p.LearningRatio,
			NewSongBufferPct:      p.NewSongBufferPct,
			LearnedSongBufferPct:  p.LearnedSongBufferPct,
			BreakThresholdMinutes: p.BreakThresholdMinutes,
			BreakDurationMinutes:  p.BreakDurationMinutes,
			TimeClusterMinutes:    p.TimeClusterMinutes,
			MinSessionMinutes:     p.MinSessionMinutes,
			MaxSessionMinutes:     p.MaxSessionMinutes,
		}
		if err := database.Create(prefs).Error; err != nil {
			return fmt.Errorf("create preferences for %q: %w", b.Name, err)
		}
	}

	fmt.Printf("  seeded band %q: %d members, %d songs\n", b.Name, len(b.Members), len(b.Songs))
	return nil
}

func seedCreateSong(database *gorm.DB, bandID string, s seedSong, userIDs map[string]string) error {
	status := migration.MapSongStatus(s.Status)
	suggestedBy := ""
	// First listed member email with progress becomes the suggester, purely
	// so demo data has plausible attribution.
	for email := range s.Progress {
		if id, ok := userIDs[strings.ToLower(email)]; ok {
			suggestedBy = id
			break
		}
	}

	song := &models.Song{
		ID:              uuid.New().String(),
		BandID:          bandID,
		Title:           s.Title,
		Artist:          s.Artist,
		Status:          status,
		DurationSeconds: s.DurationSeconds,
		SpotifyTrackID:  s.SpotifyTrackID,
		SuggestedBy:     suggestedBy,
	}
	if err := database.Create(song).Error; err != nil {
		return fmt.Errorf("create song %q: %w", s.Title, err)
	}

	for email, rawStage := range s.Progress {
		userID, ok := userIDs[strings.ToLower(email)]
		if !ok {
			return fmt.Errorf("song %q references unknown user %s", s.Title, email)
		}
		stage, ok := migration.MapStage(rawStage)
		if !ok {
			return fmt.Errorf("song %q has invalid stage %q for %s", s.Title, rawStage, email)
		}
		progress := &models.SongProgress{
			SongID: song.ID,
			UserID: userID,
			Stage:  stage,
		}
		if err := database.Create(progress).Error; err != nil {
			return fmt.Errorf("create progress for %s: %w", email, err)
		}
	}

	for _, email := range s.Votes {
		userID, ok := userIDs[strings.ToLower(email)]
		if !ok {
			return fmt.Errorf("song %q vote references unknown user %s", s.Title, email)
		}
		vote := &models.Vote{
			SongID: song.ID,
			UserID: userID,
		}
		if err := database.Create(vote).Error; err != nil {
			return fmt.Errorf("create vote for %s: %w", email, err)
		}
	}

	return nil
}
