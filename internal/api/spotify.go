/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/backlinehq/backline/internal/cache"
	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
	"github.com/backlinehq/backline/internal/spotify"
)

// handleSpotifySearch proxies track search so client credentials never
// leave the server. Results are cached by normalized query.
func (a *API) handleSpotifySearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query_required")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	queryKey := strings.ToLower(query) + ":" + strconv.Itoa(limit)
	if a.cache != nil {
		if cached, ok := a.cache.GetSpotifySearch(r.Context(), queryKey); ok {
			writeJSON(w, http.StatusOK, map[string]any{"tracks": cachedToTracks(cached)})
			return
		}
	}

	tracks, err := a.spotifyClient.Search(r.Context(), query, limit)
	if err != nil {
		if errors.Is(err, spotify.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "spotify_not_configured")
			return
		}
		a.logger.Error().Err(err).Str("query", query).Msg("spotify search failed")
		writeError(w, http.StatusBadGateway, "spotify_error")
		return
	}

	if a.cache != nil {
		if err := a.cache.SetSpotifySearch(r.Context(), queryKey, tracksToCached(tracks)); err != nil {
			a.logger.Debug().Err(err).Msg("failed to cache spotify search")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

// handleSongsSpotifyLink attaches a Spotify track to a song and backfills
// duration and album art from the track metadata.
func (a *API) handleSongsSpotifyLink(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	var req struct {
		TrackID string `json:"track_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.TrackID) == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}

	track, err := a.spotifyClient.GetTrack(r.Context(), strings.TrimSpace(req.TrackID))
	if err != nil {
		if errors.Is(err, spotify.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "spotify_not_configured")
			return
		}
		a.logger.Error().Err(err).Str("track_id", req.TrackID).Msg("spotify track lookup failed")
		writeError(w, http.StatusBadGateway, "spotify_error")
		return
	}

	updates := map[string]any{
		"spotify_track_id":  track.ID,
		"spotify_album_art": track.AlbumArtURL,
	}
	if track.DurationSeconds > 0 {
		updates["duration_seconds"] = track.DurationSeconds
	}
	if err := a.db.WithContext(r.Context()).
		Model(&models.Song{}).
		Where("id = ?", song.ID).
		Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.setlistSvc.InvalidateSongs(r.Context(), member.BandID)
	a.publish(events.EventSongUpdated, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
	})

	var updated models.Song
	a.db.WithContext(r.Context()).First(&updated, "id = ?", song.ID)
	writeJSON(w, http.StatusOK, updated)
}

func tracksToCached(tracks []spotify.Track) []cache.CachedSpotifyTrack {
	out := make([]cache.CachedSpotifyTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, cache.CachedSpotifyTrack{
			ID:              t.ID,
			Title:           t.Title,
			Artist:          t.Artist,
			Album:           t.Album,
			AlbumArtURL:     t.AlbumArtURL,
			DurationSeconds: t.DurationSeconds,
		})
	}
	return out
}

func cachedToTracks(cached []cache.CachedSpotifyTrack) []spotify.Track {
	out := make([]spotify.Track, 0, len(cached))
	for _, t := range cached {
		out = append(out, spotify.Track{
			ID:              t.ID,
			Title:           t.Title,
			Artist:          t.Artist,
			Album:           t.Album,
			AlbumArtURL:     t.AlbumArtURL,
			DurationSeconds: t.DurationSeconds,
		})
	}
	return out
}
