/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/backlinehq/backline/internal/models"
	"github.com/backlinehq/backline/internal/spotify"
)

// Backfill flags
var (
	backfillForce       bool
	backfillDryRun      bool
	backfillBandID      string
	backfillConcurrency int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill-durations",
	Short: "Backfill song durations and album art from Spotify",
	Long: `Looks up every song that has a Spotify track ID and fills in missing
durations and album art from the Spotify API. Only blank fields are updated
unless --force is specified.

Requires BACKLINE_SPOTIFY_CLIENT_ID and BACKLINE_SPOTIFY_CLIENT_SECRET.

Examples:
  backline backfill-durations --dry-run
  backline backfill-durations --band-id <uuid>
  backline backfill-durations --force --concurrency 8`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().BoolVar(&backfillForce, "force", false, "Overwrite existing values (default: only fill blanks)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Report what would change without writing")
	backfillCmd.Flags().StringVar(&backfillBandID, "band-id", "", "Limit to a specific band (optional)")
	backfillCmd.Flags().IntVar(&backfillConcurrency, "concurrency", 4, "Concurrent Spotify lookups")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !cfg.SpotifyEnabled() {
		return fmt.Errorf("spotify credentials not configured")
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	client := spotify.New(spotify.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		APIBase:      cfg.SpotifyAPIBase,
		TokenURL:     cfg.SpotifyTokenURL,
	}, logger)

	q := database.Where("spotify_track_id <> ''")
	if backfillBandID != "" {
		q = q.Where("band_id = ?", backfillBandID)
	}
	if !backfillForce {
		q = q.Where("duration_seconds = 0 OR spotify_album_art = ''")
	}

	var songs []models.Song
	if err := q.Find(&songs).Error; err != nil {
		return fmt.Errorf("query songs: %w", err)
	}

	fmt.Printf("Candidate songs: %d\n\n", len(songs))
	if len(songs) == 0 {
		return nil
	}

	var mu sync.Mutex
	var updated, skipped, failed int

	group, ctx := errgroup.WithContext(context.Background())
	group.SetLimit(backfillConcurrency)

	for _, song := range songs {
		song := song
		group.Go(func() error {
			track, err := client.GetTrack(ctx, song.SpotifyTrackID)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				fmt.Fprintf(os.Stderr, "  error looking up %q: %v\n", song.Title, err)
				// Lookup failures are reported but do not abort the run.
				return nil
			}

			updates := make(map[string]any)
			if (backfillForce || song.DurationSeconds == 0) && track.DurationSeconds > 0 {
				updates["duration_seconds"] = track.DurationSeconds
			}
			if (backfillForce || song.SpotifyAlbumArt == "") && track.AlbumArtURL != "" {
				updates["spotify_album_art"] = track.AlbumArtURL
			}

			if len(updates) == 0 {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			if backfillDryRun {
				fmt.Printf("  [dry-run] %s - %s: would update %d field(s)\n", song.Artist, song.Title, len(updates))
				mu.Lock()
				updated++
				mu.Unlock()
				return nil
			}

			if err := database.Model(&models.Song{}).Where("id = ?", song.ID).Updates(updates).Error; err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				fmt.Fprintf(os.Stderr, "  error updating %q: %v\n", song.Title, err)
				return nil
			}

			mu.Lock()
			updated++
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	mode := "Complete"
	if backfillDryRun {
		mode = "Complete (dry run)"
	}
	fmt.Printf("\nBackfill %s:\n", mode)
	fmt.Printf("  Updated:           %d\n", updated)
	fmt.Printf("  Already populated: %d\n", skipped)
	fmt.Printf("  Failed:            %d\n", failed)

	return nil
}
