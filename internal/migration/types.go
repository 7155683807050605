/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package migration imports data from a legacy Bandmate deployment into the
// current schema. The legacy application kept integer primary keys and
// display-cased enum labels; the importer remaps both.
package migration

import (
	"fmt"
	"strings"
	"time"
)

// Options configures a legacy import run.
type Options struct {
	// Legacy Postgres connection
	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port"`
	DBName     string `json:"db_name"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBSSLMode  string `json:"db_sslmode"`

	// Section toggles
	SkipSongs       bool `json:"skip_songs"`
	SkipProgress    bool `json:"skip_progress"`
	SkipVotes       bool `json:"skip_votes"`
	SkipPreferences bool `json:"skip_preferences"`
	SkipInvitations bool `json:"skip_invitations"`

	// DryRun analyzes without writing.
	DryRun bool `json:"dry_run"`
}

// DSN renders the lib/pq connection string for the legacy database.
func (o Options) DSN() string {
	port := o.DBPort
	if port == 0 {
		port = 5432
	}
	sslmode := o.DBSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", o.DBHost),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("dbname=%s", o.DBName),
		fmt.Sprintf("user=%s", o.DBUser),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	if o.DBPassword != "" {
		parts = append(parts, fmt.Sprintf("password=%s", o.DBPassword))
	}
	return strings.Join(parts, " ")
}

// ValidationError describes a single invalid option.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates option problems into one error value.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Progress reports importer phase transitions to the caller.
type Progress struct {
	Phase          string    `json:"phase"`
	CurrentStep    string    `json:"current_step"`
	TotalSteps     int       `json:"total_steps"`
	CompletedSteps int       `json:"completed_steps"`
	StartTime      time.Time `json:"start_time"`
}

// ProgressCallback receives progress updates during an import.
type ProgressCallback func(Progress)

// Result summarizes what an import run produced.
type Result struct {
	UsersImported       int            `json:"users_imported"`
	BandsImported       int            `json:"bands_imported"`
	MembershipsImported int            `json:"memberships_imported"`
	SongsImported       int            `json:"songs_imported"`
	ProgressImported    int            `json:"progress_imported"`
	VotesImported       int            `json:"votes_imported"`
	PreferencesImported int            `json:"preferences_imported"`
	Warnings            []string       `json:"warnings,omitempty"`
	Skipped             map[string]int `json:"skipped,omitempty"`
	DurationSeconds     float64        `json:"duration_seconds"`
}
