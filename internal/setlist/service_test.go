/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package setlist

import (
	"context"
	"testing"
	"time"

	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Band{},
		&models.BandMember{},
		&models.Song{},
		&models.SongProgress{},
		&models.Vote{},
		&models.SetlistPreferences{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedBand(t *testing.T, db *gorm.DB, memberIDs ...string) string {
	t.Helper()
	bandID := uuid.NewString()
	if err := db.Create(&models.Band{ID: bandID, Name: "Test Band"}).Error; err != nil {
		t.Fatalf("create band: %v", err)
	}
	for i, userID := range memberIDs {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleLeader
		}
		if err := db.Create(&models.BandMember{BandID: bandID, UserID: userID, Role: role}).Error; err != nil {
			t.Fatalf("create member: %v", err)
		}
	}
	return bandID
}

func seedSong(t *testing.T, db *gorm.DB, bandID, title string, durationSeconds int) string {
	t.Helper()
	songID := uuid.NewString()
	if err := db.Create(&models.Song{
		ID:              songID,
		BandID:          bandID,
		Title:           title,
		Artist:          "Artist",
		Status:          models.SongActive,
		DurationSeconds: durationSeconds,
	}).Error; err != nil {
		t.Fatalf("create song: %v", err)
	}
	return songID
}

func setStage(t *testing.T, db *gorm.DB, songID, userID string, stage models.ProgressStage) {
	t.Helper()
	if err := db.Create(&models.SongProgress{SongID: songID, UserID: userID, Stage: stage}).Error; err != nil {
		t.Fatalf("create progress: %v", err)
	}
}

func TestSnapshotAggregatesReadiness(t *testing.T) {
	db := openTestDB(t)
	u1, u2, u3 := uuid.NewString(), uuid.NewString(), uuid.NewString()
	bandID := seedBand(t, db, u1, u2, u3)

	learned := seedSong(t, db, bandID, "Learned Song", 240)
	setStage(t, db, learned, u1, models.StageMastered)
	setStage(t, db, learned, u2, models.StageReady)
	setStage(t, db, learned, u3, models.StageInPractice)

	fresh := seedSong(t, db, bandID, "Fresh Song", 180)
	setStage(t, db, fresh, u1, models.StageToListen)

	svc := NewService(db, events.NewBus(), zerolog.Nop())
	summaries, err := svc.Snapshot(context.Background(), bandID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}

	byID := make(map[string]int)
	for i, s := range summaries {
		byID[s.ID] = i
	}

	got := summaries[byID[learned]]
	if got.ReadinessRatio != 2.0/3.0 {
		t.Errorf("learned readiness = %v, want 2/3", got.ReadinessRatio)
	}
	if got.IsNew {
		t.Error("song with majority ready should not be new")
	}

	got = summaries[byID[fresh]]
	if got.ReadinessRatio != 0 {
		t.Errorf("fresh readiness = %v, want 0", got.ReadinessRatio)
	}
	if !got.IsNew {
		t.Error("song with no ready members should be new")
	}
}

func TestSnapshotExcludesWishlist(t *testing.T) {
	db := openTestDB(t)
	bandID := seedBand(t, db, uuid.NewString())

	if err := db.Create(&models.Song{
		ID:              uuid.NewString(),
		BandID:          bandID,
		Title:           "Wishlist Only",
		Status:          models.SongWishlist,
		DurationSeconds: 200,
	}).Error; err != nil {
		t.Fatalf("create song: %v", err)
	}
	seedSong(t, db, bandID, "Active", 200)

	svc := NewService(db, events.NewBus(), zerolog.Nop())
	summaries, err := svc.Snapshot(context.Background(), bandID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if summaries[0].Title != "Active" {
		t.Errorf("unexpected song %q in snapshot", summaries[0].Title)
	}
}

func TestSnapshotHalfReadyStaysNew(t *testing.T) {
	db := openTestDB(t)
	u1, u2 := uuid.NewString(), uuid.NewString()
	bandID := seedBand(t, db, u1, u2)

	songID := seedSong(t, db, bandID, "Split Song", 200)
	setStage(t, db, songID, u1, models.StageReady)
	setStage(t, db, songID, u2, models.StageToListen)

	svc := NewService(db, events.NewBus(), zerolog.Nop())
	summaries, err := svc.Snapshot(context.Background(), bandID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !summaries[0].IsNew {
		t.Error("exactly half ready is not a majority, song should stay new")
	}
}

func TestPreferencesDefaultsWhenUnset(t *testing.T) {
	db := openTestDB(t)
	bandID := seedBand(t, db, uuid.NewString())

	svc := NewService(db, events.NewBus(), zerolog.Nop())
	cfg, err := svc.Preferences(context.Background(), bandID)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestPreferencesMergePartialRow(t *testing.T) {
	db := openTestDB(t)
	bandID := seedBand(t, db, uuid.NewString())

	if err := db.Create(&models.SetlistPreferences{
		BandID:             bandID,
		LearningRatio:      0.8,
		TimeClusterMinutes: 15,
	}).Error; err != nil {
		t.Fatalf("create preferences: %v", err)
	}

	svc := NewService(db, events.NewBus(), zerolog.Nop())
	cfg, err := svc.Preferences(context.Background(), bandID)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if cfg.LearningRatio != 0.8 {
		t.Errorf("LearningRatio = %v, want 0.8", cfg.LearningRatio)
	}
	if cfg.TimeClusterMinutes != 15 {
		t.Errorf("TimeClusterMinutes = %v, want 15", cfg.TimeClusterMinutes)
	}
	// Unset knobs keep their defaults.
	if cfg.BreakThresholdMinutes != 90 {
		t.Errorf("BreakThresholdMinutes = %v, want 90", cfg.BreakThresholdMinutes)
	}
	if cfg.MaxSessionMinutes != 240 {
		t.Errorf("MaxSessionMinutes = %v, want 240", cfg.MaxSessionMinutes)
	}
}

func TestSavePreferencesPublishesEvent(t *testing.T) {
	db := openTestDB(t)
	bandID := seedBand(t, db, uuid.NewString())

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventPreferencesUpdate)
	defer bus.Unsubscribe(events.EventPreferencesUpdate, sub)

	svc := NewService(db, bus, zerolog.Nop())
	if err := svc.SavePreferences(context.Background(), &models.SetlistPreferences{
		BandID:        bandID,
		LearningRatio: 0.7,
	}); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	select {
	case payload := <-sub:
		if payload["band_id"] != bandID {
			t.Errorf("event band_id = %v, want %v", payload["band_id"], bandID)
		}
	case <-time.After(time.Second):
		t.Fatal("no preferences event published")
	}

	var stored models.SetlistPreferences
	if err := db.Where("band_id = ?", bandID).First(&stored).Error; err != nil {
		t.Fatalf("load preferences: %v", err)
	}
	if stored.LearningRatio != 0.7 {
		t.Errorf("stored LearningRatio = %v, want 0.7", stored.LearningRatio)
	}
}

func TestGenerateEndToEnd(t *testing.T) {
	db := openTestDB(t)
	u1, u2 := uuid.NewString(), uuid.NewString()
	bandID := seedBand(t, db, u1, u2)

	learned := seedSong(t, db, bandID, "Learned", 198) // 3.3 min
	setStage(t, db, learned, u1, models.StageMastered)
	setStage(t, db, learned, u2, models.StageReady)

	fresh := seedSong(t, db, bandID, "Fresh", 240) // 4.0 min

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventSetlistGenerated)
	defer bus.Unsubscribe(events.EventSetlistGenerated, sub)

	svc := NewService(db, bus, zerolog.Nop())
	result, err := svc.Generate(context.Background(), bandID, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(result.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(result.Entries))
	}
	// New songs lead the schedule.
	if result.Entries[0].SongID != fresh {
		t.Errorf("first entry = %s, want the new song", result.Entries[0].SongID)
	}
	if result.Entries[0].Bucket != BucketNew {
		t.Errorf("first bucket = %s, want new", result.Entries[0].Bucket)
	}
	if result.Entries[1].SongID != learned {
		t.Errorf("second entry = %s, want the learned song", result.Entries[1].SongID)
	}

	select {
	case payload := <-sub:
		if payload["band_id"] != bandID {
			t.Errorf("event band_id = %v, want %v", payload["band_id"], bandID)
		}
	case <-time.After(time.Second):
		t.Fatal("no setlist event published")
	}
}

func TestGenerateTargetOverride(t *testing.T) {
	db := openTestDB(t)
	bandID := seedBand(t, db, uuid.NewString())

	// 6 songs of 10 minutes each; only a 30 minute target's worth fits.
	for i := 0; i < 6; i++ {
		seedSong(t, db, bandID, "Song", 600)
	}

	svc := NewService(db, events.NewBus(), zerolog.Nop())
	short, err := svc.Generate(context.Background(), bandID, 30)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	long, err := svc.Generate(context.Background(), bandID, 240)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(short.Entries) >= len(long.Entries) {
		t.Errorf("short target scheduled %d songs, long target %d; want fewer for short",
			len(short.Entries), len(long.Entries))
	}
}
