/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package setlist

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 60
	cfg.LearningRatio = 0.5
	return cfg
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPlanBasicAllocation(t *testing.T) {
	songs := []SongInput{
		{ID: "a", DurationSeconds: 180, ReadinessRatio: 1.0, IsNew: false},
		{ID: "b", DurationSeconds: 240, ReadinessRatio: 0.2, IsNew: true},
	}

	result, err := Plan(songs, testConfig())
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	// New songs come first.
	if result.Entries[0].SongID != "b" || result.Entries[0].Bucket != BucketNew {
		t.Errorf("expected song b in new bucket first, got %+v", result.Entries[0])
	}
	if result.Entries[1].SongID != "a" || result.Entries[1].Bucket != BucketMaintenance {
		t.Errorf("expected song a in maintenance bucket second, got %+v", result.Entries[1])
	}
	if !almostEqual(result.Entries[0].AllocatedMinutes, 4.8) {
		t.Errorf("expected 4.8 allocated minutes for new song, got %f", result.Entries[0].AllocatedMinutes)
	}
	if !almostEqual(result.Entries[1].AllocatedMinutes, 3.3) {
		t.Errorf("expected 3.3 allocated minutes for maintenance song, got %f", result.Entries[1].AllocatedMinutes)
	}
	if !almostEqual(result.TotalMinutesRaw, 8.1) {
		t.Errorf("expected raw total 8.1, got %f", result.TotalMinutesRaw)
	}
	if result.BreaksInserted != 0 {
		t.Errorf("expected no breaks, got %d", result.BreaksInserted)
	}
	if result.TotalMinutesFinal != 30 {
		t.Errorf("expected final total 30, got %d", result.TotalMinutesFinal)
	}
}

func TestPlanEmptyCatalog(t *testing.T) {
	result, err := Plan(nil, testConfig())
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(result.Entries) != 0 {
		t.Errorf("expected empty plan, got %d entries", len(result.Entries))
	}
	if result.TotalMinutesFinal != 30 {
		t.Errorf("expected final total clamped to minimum 30, got %d", result.TotalMinutesFinal)
	}
	if result.BreaksInserted != 0 || result.BreakMinutes != 0 {
		t.Errorf("expected zero breaks for empty plan, got %d / %f", result.BreaksInserted, result.BreakMinutes)
	}
}

func TestPlanConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero cluster", func(c *Config) { c.TimeClusterMinutes = 0 }, ErrInvalidCluster},
		{"negative cluster", func(c *Config) { c.TimeClusterMinutes = -5 }, ErrInvalidCluster},
		{"inverted bounds", func(c *Config) { c.MinSessionMinutes = 300; c.MaxSessionMinutes = 60 }, ErrInvalidBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			result, err := Plan(nil, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if result != nil {
				t.Errorf("expected nil result on config error, got %+v", result)
			}
		})
	}
}

func TestPlanFiltersUnusableDurations(t *testing.T) {
	songs := []SongInput{
		{ID: "a", DurationSeconds: 0, ReadinessRatio: 1.0, IsNew: true},
		{ID: "b", DurationSeconds: -30, ReadinessRatio: 1.0, IsNew: false},
		{ID: "c", DurationSeconds: 120, ReadinessRatio: 0.5, IsNew: true},
	}

	result, err := Plan(songs, testConfig())
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	if result.Entries[0].SongID != "c" {
		t.Errorf("expected only song c scheduled, got %s", result.Entries[0].SongID)
	}
}

func TestPlanGreedySkipOnOverflow(t *testing.T) {
	// Ten new songs of ten raw minutes each cost 12 buffered minutes. A
	// budget of 40 fits three (36) and skips the rest.
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 40
	cfg.LearningRatio = 1.0

	var songs []SongInput
	for i := 1; i <= 10; i++ {
		songs = append(songs, SongInput{
			ID:              fmt.Sprintf("song-%02d", i),
			DurationSeconds: 600,
			ReadinessRatio:  0.5,
			IsNew:           true,
		})
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(result.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(result.Entries))
	}
	if !almostEqual(result.TotalMinutesRaw, 36) {
		t.Errorf("expected raw total 36, got %f", result.TotalMinutesRaw)
	}
}

func TestPlanShorterLaterSongStillFits(t *testing.T) {
	// The second candidate overflows the budget but the third, shorter one
	// still fits, so the sweep must not stop at the first miss.
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 10
	cfg.LearningRatio = 1.0

	songs := []SongInput{
		{ID: "a", DurationSeconds: 300, ReadinessRatio: 0.9, IsNew: true}, // 6 buffered
		{ID: "b", DurationSeconds: 600, ReadinessRatio: 0.8, IsNew: true}, // 12 buffered, skipped
		{ID: "c", DurationSeconds: 120, ReadinessRatio: 0.7, IsNew: true}, // 2.4 buffered
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	if result.Entries[0].SongID != "a" || result.Entries[1].SongID != "c" {
		t.Errorf("expected songs a and c, got %s and %s", result.Entries[0].SongID, result.Entries[1].SongID)
	}
}

func TestPlanRolloverToMaintenance(t *testing.T) {
	// The new bucket leaves budget unused; maintenance candidates that did
	// not fit their own budget pick it up.
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 40
	cfg.LearningRatio = 0.5

	songs := []SongInput{
		{ID: "a", DurationSeconds: 300, ReadinessRatio: 0.5, IsNew: true},   // 6 buffered, new budget 20
		{ID: "b", DurationSeconds: 600, ReadinessRatio: 0.9, IsNew: false},  // 11 buffered
		{ID: "c", DurationSeconds: 600, ReadinessRatio: 0.8, IsNew: false},  // 11 buffered, overflows maintenance budget 20
		{ID: "d", DurationSeconds: 6000, ReadinessRatio: 0.7, IsNew: false}, // 110 buffered, never fits
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	ids := make(map[string]bool)
	for _, e := range result.Entries {
		ids[e.SongID] = true
	}
	if !ids["a"] || !ids["b"] {
		t.Fatalf("expected songs a and b scheduled, got %v", ids)
	}
	// Song c needs 11 of the 14 minutes rolled over from the new bucket.
	if !ids["c"] {
		t.Errorf("expected song c scheduled via rollover, got %v", ids)
	}
	if ids["d"] {
		t.Errorf("song d should never fit, got %v", ids)
	}
}

func TestPlanRolloverToNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 40
	cfg.LearningRatio = 0.5

	songs := []SongInput{
		{ID: "a", DurationSeconds: 300, ReadinessRatio: 0.9, IsNew: false}, // 5.5 buffered, maintenance budget 20
		{ID: "b", DurationSeconds: 900, ReadinessRatio: 0.6, IsNew: true},  // 18 buffered, new budget 20
		{ID: "c", DurationSeconds: 600, ReadinessRatio: 0.5, IsNew: true},  // 12 buffered, needs rollover
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(result.Entries) != 3 {
		t.Fatalf("expected all 3 songs scheduled, got %d", len(result.Entries))
	}
	// Rolled-over new entries still precede maintenance entries.
	for i, e := range result.Entries {
		if e.Bucket == BucketMaintenance && i != len(result.Entries)-1 {
			t.Errorf("maintenance entry at position %d, expected last", i)
		}
	}
}

func TestPlanBreakInsertion(t *testing.T) {
	// Twenty maintenance songs of nine raw minutes cost 9.9 buffered each,
	// 198 total. That crosses the 90 minute threshold twice.
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 200
	cfg.LearningRatio = 0

	var songs []SongInput
	for i := 1; i <= 20; i++ {
		songs = append(songs, SongInput{
			ID:              fmt.Sprintf("song-%02d", i),
			DurationSeconds: 540,
			ReadinessRatio:  0.5,
			IsNew:           false,
		})
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if !almostEqual(result.TotalMinutesRaw, 198) {
		t.Fatalf("expected raw total 198, got %f", result.TotalMinutesRaw)
	}
	if result.BreaksInserted != 2 {
		t.Errorf("expected 2 breaks, got %d", result.BreaksInserted)
	}
	if !almostEqual(result.BreakMinutes, 30) {
		t.Errorf("expected 30 break minutes, got %f", result.BreakMinutes)
	}
	// 198 + 30 = 228, rounded up to 240, within the 240 cap.
	if result.TotalMinutesFinal != 240 {
		t.Errorf("expected final total 240, got %d", result.TotalMinutesFinal)
	}
}

func TestPlanRoundsUpToCluster(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 80
	cfg.LearningRatio = 0

	songs := []SongInput{
		{ID: "a", DurationSeconds: 2400, ReadinessRatio: 1.0, IsNew: false}, // 44 buffered
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if result.TotalMinutesFinal != 60 {
		t.Errorf("expected 44 raw minutes rounded up to 60, got %d", result.TotalMinutesFinal)
	}
	if result.TotalMinutesFinal%cfg.TimeClusterMinutes != 0 {
		t.Errorf("final total %d not a multiple of cluster %d", result.TotalMinutesFinal, cfg.TimeClusterMinutes)
	}
}

func TestPlanClampsLearningRatio(t *testing.T) {
	songs := []SongInput{
		{ID: "a", DurationSeconds: 300, ReadinessRatio: 0.5, IsNew: true},
		{ID: "b", DurationSeconds: 300, ReadinessRatio: 0.5, IsNew: false},
	}

	tests := []struct {
		name  string
		ratio float64
	}{
		{"above one", 3.5},
		{"negative", -1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.LearningRatio = tt.ratio
			if _, err := Plan(songs, cfg); err != nil {
				t.Fatalf("expected ratio to be clamped, got error: %v", err)
			}
		})
	}
}

func TestPlanSortOrder(t *testing.T) {
	// Readiness descending, then duration ascending, then ID ascending.
	songs := []SongInput{
		{ID: "e", DurationSeconds: 200, ReadinessRatio: 0.5, IsNew: true},
		{ID: "c", DurationSeconds: 100, ReadinessRatio: 0.5, IsNew: true},
		{ID: "a", DurationSeconds: 100, ReadinessRatio: 0.9, IsNew: true},
		{ID: "b", DurationSeconds: 100, ReadinessRatio: 0.5, IsNew: true},
	}

	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 120
	cfg.LearningRatio = 1.0

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	want := []string{"a", "b", "c", "e"}
	if len(result.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(result.Entries))
	}
	for i, id := range want {
		if result.Entries[i].SongID != id {
			t.Errorf("position %d: expected song %s, got %s", i, id, result.Entries[i].SongID)
		}
	}
}

func TestPlanNoDuplicates(t *testing.T) {
	var songs []SongInput
	for i := 1; i <= 50; i++ {
		songs = append(songs, SongInput{
			ID:              fmt.Sprintf("song-%02d", i),
			DurationSeconds: 60 + i*10,
			ReadinessRatio:  float64(i%10) / 10,
			IsNew:           i%2 == 0,
		})
	}

	result, err := Plan(songs, testConfig())
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	seen := make(map[string]bool)
	for _, e := range result.Entries {
		if seen[e.SongID] {
			t.Fatalf("duplicate song %s in plan", e.SongID)
		}
		seen[e.SongID] = true
	}
}

func TestPlanDeterministic(t *testing.T) {
	var songs []SongInput
	for i := 1; i <= 30; i++ {
		songs = append(songs, SongInput{
			ID:              fmt.Sprintf("song-%02d", i),
			DurationSeconds: 120 + i*7,
			ReadinessRatio:  float64((i*3)%11) / 10,
			IsNew:           i%3 == 0,
		})
	}
	cfg := testConfig()

	first, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	second, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(first.Entries) != len(second.Entries) {
		t.Fatalf("entry counts differ: %d vs %d", len(first.Entries), len(second.Entries))
	}
	for i := range first.Entries {
		if first.Entries[i] != second.Entries[i] {
			t.Errorf("entry %d differs: %+v vs %+v", i, first.Entries[i], second.Entries[i])
		}
	}
	if first.TotalMinutesFinal != second.TotalMinutesFinal {
		t.Errorf("final totals differ: %d vs %d", first.TotalMinutesFinal, second.TotalMinutesFinal)
	}
}

func TestPlanDoesNotMutateInput(t *testing.T) {
	songs := []SongInput{
		{ID: "a", DurationSeconds: 300, ReadinessRatio: 0.4, IsNew: true},
		{ID: "b", DurationSeconds: 180, ReadinessRatio: 0.9, IsNew: false},
		{ID: "c", DurationSeconds: 240, ReadinessRatio: 0.7, IsNew: true},
	}
	original := make([]SongInput, len(songs))
	copy(original, songs)

	if _, err := Plan(songs, testConfig()); err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	for i := range songs {
		if songs[i] != original[i] {
			t.Errorf("input song %d mutated: %+v vs %+v", i, songs[i], original[i])
		}
	}
}

func TestPlanBucketBudgetRespected(t *testing.T) {
	// Without rollover material in the other pool, a bucket's allocation
	// never exceeds its own budget.
	cfg := DefaultConfig()
	cfg.TargetTotalMinutes = 100
	cfg.LearningRatio = 0.6

	var songs []SongInput
	for i := 1; i <= 40; i++ {
		songs = append(songs, SongInput{
			ID:              fmt.Sprintf("song-%02d", i),
			DurationSeconds: 200 + i*15,
			ReadinessRatio:  float64(i%7) / 7,
			IsNew:           true,
		})
	}

	result, err := Plan(songs, cfg)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	var used float64
	for _, e := range result.Entries {
		if e.Bucket != BucketNew {
			t.Fatalf("unexpected bucket %q", e.Bucket)
		}
		used += e.AllocatedMinutes
	}
	if used > 60+1e-9 {
		t.Errorf("new bucket allocation %f exceeds budget 60", used)
	}
}
