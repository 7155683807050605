/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backlinehq/backline/internal/db"
	"github.com/backlinehq/backline/internal/migration"
)

// Legacy import flags
var (
	legacyDBHost          string
	legacyDBPort          int
	legacyDBName          string
	legacyDBUser          string
	legacyDBPassword      string
	legacyDBSSLMode       string
	legacySkipSongs       bool
	legacySkipProgress    bool
	legacySkipVotes       bool
	legacySkipPreferences bool
	legacyDryRun          bool
)

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy",
	Short: "Import data from a legacy Bandmate database",
	Long: `Import users, bands, memberships, songs, progress, votes, and setlist
preferences from a legacy Bandmate PostgreSQL database.

Integer primary keys are remapped to UUIDs. User IDs were already UUIDs in the
legacy schema and are preserved. Users imported with non-bcrypt password
hashes need a password reset before they can log in.

Examples:
  backline import-legacy --db-host legacy.internal --db-name bandmate --db-user readonly --dry-run
  backline import-legacy --db-host legacy.internal --db-name bandmate --db-user readonly --db-password secret`,
	RunE: runImportLegacy,
}

func init() {
	rootCmd.AddCommand(importLegacyCmd)

	importLegacyCmd.Flags().StringVar(&legacyDBHost, "db-host", "localhost", "Legacy database host")
	importLegacyCmd.Flags().IntVar(&legacyDBPort, "db-port", 5432, "Legacy database port")
	importLegacyCmd.Flags().StringVar(&legacyDBName, "db-name", "bandmate", "Legacy database name")
	importLegacyCmd.Flags().StringVar(&legacyDBUser, "db-user", "", "Legacy database user (required)")
	importLegacyCmd.Flags().StringVar(&legacyDBPassword, "db-password", "", "Legacy database password")
	importLegacyCmd.Flags().StringVar(&legacyDBSSLMode, "db-sslmode", "disable", "Legacy database SSL mode")
	importLegacyCmd.Flags().BoolVar(&legacySkipSongs, "skip-songs", false, "Skip song import (also skips progress and votes)")
	importLegacyCmd.Flags().BoolVar(&legacySkipProgress, "skip-progress", false, "Skip song progress import")
	importLegacyCmd.Flags().BoolVar(&legacySkipVotes, "skip-votes", false, "Skip vote import")
	importLegacyCmd.Flags().BoolVar(&legacySkipPreferences, "skip-preferences", false, "Skip setlist preferences import")
	importLegacyCmd.Flags().BoolVar(&legacyDryRun, "dry-run", false, "Analyze the legacy database without importing")
	importLegacyCmd.MarkFlagRequired("db-user")
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("db_host", legacyDBHost).
		Str("db_name", legacyDBName).
		Bool("dry_run", legacyDryRun).
		Msg("starting legacy import")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	importer := migration.NewLegacyImporter(database, logger)

	options := migration.Options{
		DBHost:          legacyDBHost,
		DBPort:          legacyDBPort,
		DBName:          legacyDBName,
		DBUser:          legacyDBUser,
		DBPassword:      legacyDBPassword,
		DBSSLMode:       legacyDBSSLMode,
		SkipSongs:       legacySkipSongs,
		SkipProgress:    legacySkipProgress || legacySkipSongs,
		SkipVotes:       legacySkipVotes || legacySkipSongs,
		SkipPreferences: legacySkipPreferences,
		DryRun:          legacyDryRun,
	}

	ctx := context.Background()

	if err := importer.Validate(ctx, options); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if legacyDryRun {
		result, err := importer.Analyze(ctx, options)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		fmt.Printf("\nImport Preview:\n")
		fmt.Printf("  Users:        %d\n", result.UsersImported)
		fmt.Printf("  Bands:        %d\n", result.BandsImported)
		fmt.Printf("  Memberships:  %d\n", result.MembershipsImported)
		fmt.Printf("  Songs:        %d\n", result.SongsImported)
		fmt.Printf("  Progress:     %d\n", result.ProgressImported)
		fmt.Printf("  Votes:        %d\n", result.VotesImported)
		fmt.Printf("  Preferences:  %d\n", result.PreferencesImported)
		fmt.Printf("\nRun without --dry-run to perform the import.\n")
		return nil
	}

	progressCallback := func(progress migration.Progress) {
		fmt.Printf("\r%-60s", fmt.Sprintf("%s [%d/%d] %s",
			progress.Phase, progress.CompletedSteps, progress.TotalSteps, progress.CurrentStep))
		if progress.Phase == "completed" {
			fmt.Println()
		}
	}

	result, err := importer.Import(ctx, options, progressCallback)
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\nImport Complete!\n")
	fmt.Printf("  Users:        %d imported\n", result.UsersImported)
	fmt.Printf("  Bands:        %d imported\n", result.BandsImported)
	fmt.Printf("  Memberships:  %d imported\n", result.MembershipsImported)
	fmt.Printf("  Songs:        %d imported\n", result.SongsImported)
	fmt.Printf("  Progress:     %d imported\n", result.ProgressImported)
	fmt.Printf("  Votes:        %d imported\n", result.VotesImported)
	fmt.Printf("  Preferences:  %d imported\n", result.PreferencesImported)
	fmt.Printf("  Duration:     %.1f seconds\n", result.DurationSeconds)

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}

	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped:\n")
		for key, count := range result.Skipped {
			fmt.Printf("  - %s: %d\n", key, count)
		}
	}

	logger.Info().Msg("legacy import completed successfully")
	return nil
}
