/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/backlinehq/backline/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Accounts and membership
		&models.User{},
		&models.Band{},
		&models.BandMember{},
		&models.Invitation{},

		// Repertoire
		&models.Song{},
		&models.SongProgress{},
		&models.Vote{},
		&models.SongAttachment{},

		// Planner tuning
		&models.SetlistPreferences{},
	); err != nil {
		return err
	}

	if err := applyPostgresInvitationExpiryGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyProgressStages(database); err != nil {
		return err
	}
	if err := lowercaseUserEmails(database); err != nil {
		return err
	}

	return nil
}

func applyPostgresInvitationExpiryGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_invalid_invitation_expiry()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.expires_at <= NEW.created_at THEN
    RAISE EXCEPTION 'invitation expiry must be after creation'
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_invalid_invitation_expiry ON invitations;

CREATE TRIGGER trg_prevent_invalid_invitation_expiry
BEFORE INSERT OR UPDATE OF expires_at
ON invitations
FOR EACH ROW
EXECUTE FUNCTION prevent_invalid_invitation_expiry();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres invitation expiry guard: %w", err)
	}

	return nil
}

// normalizeLegacyProgressStages rewrites display-cased stage labels imported
// from the old application into their canonical codes.
func normalizeLegacyProgressStages(database *gorm.DB) error {
	legacy := map[string]models.ProgressStage{
		"to listen":           models.StageToListen,
		"in practice":         models.StageInPractice,
		"ready for rehearsal": models.StageReady,
		"mastered":            models.StageMastered,
	}
	for label, stage := range legacy {
		if string(stage) == label {
			continue
		}
		if err := database.Exec(
			"UPDATE song_progresses SET stage = ? WHERE LOWER(TRIM(stage)) = ?", stage, label,
		).Error; err != nil {
			return fmt.Errorf("normalize legacy progress stage %q: %w", label, err)
		}
	}
	return nil
}

func lowercaseUserEmails(database *gorm.DB) error {
	if err := database.Exec("UPDATE users SET email = LOWER(TRIM(email))").Error; err != nil {
		return fmt.Errorf("lowercase user emails: %w", err)
	}
	return nil
}
