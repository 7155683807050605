/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package setlist builds rehearsal schedules from a snapshot of a band's
// repertoire. The planner is a pure function: it takes song candidates with
// aggregate readiness data plus tuning knobs and returns an ordered,
// time-allocated plan. It holds no state between invocations and performs
// no I/O, so concurrent calls are independent.
package setlist

import (
	"errors"
	"math"
	"sort"
)

// Bucket labels which scheduling category an entry was drawn from.
type Bucket string

const (
	// BucketNew holds songs the band is still learning.
	BucketNew Bucket = "new"
	// BucketMaintenance holds songs already learned that need upkeep.
	BucketMaintenance Bucket = "maintenance"
)

// SongInput is the read-only view of one candidate song. ReadinessRatio and
// IsNew are aggregated from per-member progress by the caller; the planner
// never looks at individual progress rows.
type SongInput struct {
	ID              string  `json:"id"`
	DurationSeconds int     `json:"duration_seconds"`
	ReadinessRatio  float64 `json:"readiness_ratio"`
	IsNew           bool    `json:"is_new"`
}

// Config carries the tuning knobs for one planning run. Out-of-range ratio
// and buffer values are clamped rather than rejected so loosely validated
// band preferences still produce a usable plan; only values that make
// rounding or clamping ill-defined are hard errors.
type Config struct {
	TargetTotalMinutes    float64 `json:"target_total_minutes"`
	LearningRatio         float64 `json:"learning_ratio"`
	NewSongBufferPct      float64 `json:"new_song_buffer_pct"`
	LearnedSongBufferPct  float64 `json:"learned_song_buffer_pct"`
	BreakThresholdMinutes float64 `json:"break_threshold_minutes"`
	BreakDurationMinutes  float64 `json:"break_duration_minutes"`
	TimeClusterMinutes    int     `json:"time_cluster_minutes"`
	MinSessionMinutes     int     `json:"min_session_minutes"`
	MaxSessionMinutes     int     `json:"max_session_minutes"`
}

// DefaultConfig returns the planner defaults applied when a band has not
// stored preferences of its own.
func DefaultConfig() Config {
	return Config{
		TargetTotalMinutes:    120,
		LearningRatio:         0.6,
		NewSongBufferPct:      0.20,
		LearnedSongBufferPct:  0.10,
		BreakThresholdMinutes: 90,
		BreakDurationMinutes:  15,
		TimeClusterMinutes:    30,
		MinSessionMinutes:     30,
		MaxSessionMinutes:     240,
	}
}

// ScheduleEntry is one scheduled song. AllocatedMinutes already includes the
// bucket's buffer percentage on top of the raw duration.
type ScheduleEntry struct {
	SongID           string  `json:"song_id"`
	AllocatedMinutes float64 `json:"allocated_minutes"`
	Bucket           Bucket  `json:"bucket"`
}

// PlanResult is the full output of one planning run.
type PlanResult struct {
	Entries           []ScheduleEntry `json:"entries"`
	TotalMinutesRaw   float64         `json:"total_minutes_raw"`
	BreaksInserted    int             `json:"breaks_inserted"`
	BreakMinutes      float64         `json:"break_minutes"`
	TotalMinutesFinal int             `json:"total_minutes_final"`
}

var (
	// ErrInvalidCluster is returned when the rounding granularity is zero or
	// negative, which makes the final total undefined.
	ErrInvalidCluster = errors.New("setlist: time_cluster_minutes must be positive")
	// ErrInvalidBounds is returned when the session clamp bounds are inverted.
	ErrInvalidBounds = errors.New("setlist: min_session_minutes exceeds max_session_minutes")
)

// Plan selects and orders songs into a rehearsal schedule. Songs without a
// usable duration are dropped silently. The two failure modes are
// ErrInvalidCluster and ErrInvalidBounds; every other odd input is clamped.
// An empty candidate list is not an error and yields an empty plan at the
// minimum session length.
func Plan(songs []SongInput, cfg Config) (*PlanResult, error) {
	if cfg.TimeClusterMinutes <= 0 {
		return nil, ErrInvalidCluster
	}
	if cfg.MinSessionMinutes > cfg.MaxSessionMinutes {
		return nil, ErrInvalidBounds
	}

	target := math.Max(cfg.TargetTotalMinutes, 0)
	ratio := clamp01(cfg.LearningRatio)
	newBuf := math.Max(cfg.NewSongBufferPct, 0)
	learnedBuf := math.Max(cfg.LearnedSongBufferPct, 0)

	var newPool, maintPool []SongInput
	for _, s := range songs {
		if s.DurationSeconds <= 0 {
			continue
		}
		if s.IsNew {
			newPool = append(newPool, s)
		} else {
			maintPool = append(maintPool, s)
		}
	}
	sortPool(newPool)
	sortPool(maintPool)

	newBudget := target * ratio
	maintBudget := target * (1 - ratio)

	newEntries, newUsed, newRest := fillBucket(newPool, newBudget, newBuf, BucketNew)
	maintEntries, maintUsed, maintRest := fillBucket(maintPool, maintBudget, learnedBuf, BucketMaintenance)

	// Rollover runs once per direction using each bucket's first-pass
	// leftover. Minutes a bucket receives via rollover are never re-donated.
	newSpare := newBudget - newUsed
	maintSpare := maintBudget - maintUsed
	if newSpare > 0 && len(maintRest) > 0 {
		extra, _, _ := fillBucket(maintRest, newSpare, learnedBuf, BucketMaintenance)
		maintEntries = append(maintEntries, extra...)
	}
	if maintSpare > 0 && len(newRest) > 0 {
		extra, _, _ := fillBucket(newRest, maintSpare, newBuf, BucketNew)
		newEntries = append(newEntries, extra...)
	}

	// New songs lead the session so the harder material lands while the
	// band's attention is freshest.
	entries := make([]ScheduleEntry, 0, len(newEntries)+len(maintEntries))
	entries = append(entries, newEntries...)
	entries = append(entries, maintEntries...)

	var raw float64
	for _, e := range entries {
		raw += e.AllocatedMinutes
	}

	breaks := 0
	breakMinutes := 0.0
	if cfg.BreakThresholdMinutes > 0 && raw > cfg.BreakThresholdMinutes {
		breaks = int(math.Floor(raw / cfg.BreakThresholdMinutes))
		breakMinutes = float64(breaks) * math.Max(cfg.BreakDurationMinutes, 0)
	}

	cluster := cfg.TimeClusterMinutes
	rounded := int(math.Ceil((raw+breakMinutes)/float64(cluster))) * cluster
	if rounded < cfg.MinSessionMinutes {
		rounded = cfg.MinSessionMinutes
	}
	if rounded > cfg.MaxSessionMinutes {
		rounded = cfg.MaxSessionMinutes
	}

	return &PlanResult{
		Entries:           entries,
		TotalMinutesRaw:   raw,
		BreaksInserted:    breaks,
		BreakMinutes:      breakMinutes,
		TotalMinutesFinal: rounded,
	}, nil
}

// sortPool orders candidates by descending readiness, then ascending
// duration, then ascending ID. The final ID tiebreak keeps the output stable
// across runs regardless of input order.
func sortPool(pool []SongInput) {
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].ReadinessRatio != pool[j].ReadinessRatio {
			return pool[i].ReadinessRatio > pool[j].ReadinessRatio
		}
		if pool[i].DurationSeconds != pool[j].DurationSeconds {
			return pool[i].DurationSeconds < pool[j].DurationSeconds
		}
		return pool[i].ID < pool[j].ID
	})
}

// fillBucket walks the sorted pool once and takes every song whose buffered
// cost still fits in the remaining budget. A song that does not fit is
// skipped, not forced in, so a shorter later candidate can still be taken.
// This is deliberately a single greedy sweep, not a knapsack solver; it may
// undershoot the budget but never overshoots it. Returns the scheduled
// entries, the minutes consumed, and the candidates left unscheduled.
func fillBucket(pool []SongInput, budget, bufferPct float64, bucket Bucket) ([]ScheduleEntry, float64, []SongInput) {
	var entries []ScheduleEntry
	var rest []SongInput
	used := 0.0
	for _, s := range pool {
		cost := float64(s.DurationSeconds) / 60.0 * (1 + bufferPct)
		if used+cost > budget {
			rest = append(rest, s)
			continue
		}
		entries = append(entries, ScheduleEntry{
			SongID:           s.ID,
			AllocatedMinutes: cost,
			Bucket:           bucket,
		})
		used += cost
	}
	return entries, used, rest
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
