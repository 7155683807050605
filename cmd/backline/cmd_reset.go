/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/backlinehq/backline/internal/db"
	"github.com/backlinehq/backline/internal/models"
)

var (
	resetForce             bool
	resetDeleteAttachments bool
	resetKeepUsers         int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database and optionally delete uploaded attachments",
	Long: `Reset Backline to a fresh state.

This command will:
- Drop all tables from the database (except optionally preserved users)
- Re-create empty tables
- Optionally delete all uploaded attachment files

WARNING: This action is irreversible! All data will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  backline reset

  # Force reset without confirmation
  backline reset --force

  # Reset and delete all attachment files
  backline reset --force --delete-attachments

  # Reset but keep the 3 oldest user accounts
  backline reset --force --keep-users=3
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDeleteAttachments, "delete-attachments", false, "Also delete all uploaded attachment files")
	resetCmd.Flags().IntVar(&resetKeepUsers, "keep-users", 0, "Number of oldest users to preserve (0 = delete all)")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Println("\nWARNING: this will DELETE ALL DATA from Backline:")
		if resetKeepUsers > 0 {
			fmt.Printf("  - All users EXCEPT the %d oldest account(s)\n", resetKeepUsers)
		} else {
			fmt.Println("  - All users and accounts")
		}
		fmt.Println("  - All bands, memberships, and invitations")
		fmt.Println("  - All songs, progress, and votes")
		fmt.Println("  - All setlist preferences")
		if resetDeleteAttachments {
			fmt.Println("  - ALL UPLOADED ATTACHMENT FILES")
		}
		fmt.Println("\nThis action CANNOT be undone!")

		fmt.Print("\nType 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	logger.Info().
		Bool("delete_attachments", resetDeleteAttachments).
		Int("keep_users", resetKeepUsers).
		Msg("Starting database reset")

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	defer sqlDB.Close()

	var preservedUsers []models.User
	if resetKeepUsers > 0 {
		logger.Info().Int("count", resetKeepUsers).Msg("Preserving oldest users")
		database.Order("created_at ASC").Limit(resetKeepUsers).Find(&preservedUsers)
		for _, u := range preservedUsers {
			logger.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("Preserving user")
		}
	}

	// Drop in reverse dependency order.
	tables := []interface{}{
		&models.SongAttachment{},
		&models.Vote{},
		&models.SongProgress{},
		&models.Song{},
		&models.SetlistPreferences{},
		&models.Invitation{},
		&models.BandMember{},
		&models.Band{},
		&models.User{},
	}

	logger.Info().Msg("Dropping all tables")
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			logger.Debug().Err(err).Msgf("drop table (may not exist)")
		}
	}

	if resetDeleteAttachments && cfg.StorageRoot != "" {
		logger.Info().Str("path", cfg.StorageRoot).Msg("Deleting attachment files...")

		err := filepath.Walk(cfg.StorageRoot, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == cfg.StorageRoot {
				return nil
			}
			if !info.IsDir() {
				if err := os.Remove(path); err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("failed to delete file")
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn().Err(err).Msg("error walking attachment directory")
		}

		cleanEmptyDirs(cfg.StorageRoot)
		logger.Info().Msg("Attachment files deleted")
	}

	logger.Info().Msg("Creating fresh database schema")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if len(preservedUsers) > 0 {
		logger.Info().Int("count", len(preservedUsers)).Msg("Restoring preserved users")
		for _, u := range preservedUsers {
			u.UpdatedAt = u.CreatedAt
			if err := database.Create(&u).Error; err != nil {
				logger.Error().Err(err).Str("email", u.Email).Msg("failed to restore user")
			} else {
				logger.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("User restored")
			}
		}
	}

	logger.Info().Msg("Reset complete")
	fmt.Println("\nBackline has been reset to a fresh state.")
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the server: backline serve")
	fmt.Println("  2. Register an account via POST /api/v1/auth/register")
	fmt.Println()

	return nil
}

// cleanEmptyDirs removes empty directories recursively
func cleanEmptyDirs(root string) {
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == root {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil
		}

		if len(entries) == 0 {
			os.Remove(path)
		}
		return nil
	})
}
