/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
)

type songRequest struct {
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
	SpotifyTrackID  string `json:"spotify_track_id"`
	SpotifyAlbumArt string `json:"spotify_album_art"`
}

type progressRequest struct {
	Stage string `json:"stage"`
}

type songDetail struct {
	models.Song
	ReadinessRatio float64                `json:"readiness_ratio"`
	IsNew          bool                   `json:"is_new"`
	VoteCount      int                    `json:"vote_count"`
	MyStage        string                 `json:"my_stage,omitempty"`
	Progress       []models.SongProgress  `json:"progress,omitempty"`
}

var validStages = map[models.ProgressStage]struct{}{
	models.StageToListen:   {},
	models.StageInPractice: {},
	models.StageReady:      {},
	models.StageMastered:   {},
}

// loadSong fetches a song and verifies it belongs to the band in the URL.
func (a *API) loadSong(w http.ResponseWriter, r *http.Request) (*models.Song, bool) {
	member, _ := memberFromContext(r.Context())
	songID := chi.URLParam(r, "songID")

	var song models.Song
	result := a.db.WithContext(r.Context()).
		Where("id = ? AND band_id = ?", songID, member.BandID).
		First(&song)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("load song failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &song, true
}

func (a *API) handleSongsList(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	statusFilter := r.URL.Query().Get("status")

	// Active songs come from the cached readiness snapshot; the wishlist is
	// read directly since it never feeds the planner.
	if statusFilter == "" || statusFilter == string(models.SongActive) {
		summaries, err := a.setlistSvc.Snapshot(r.Context(), member.BandID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if statusFilter == string(models.SongActive) {
			writeJSON(w, http.StatusOK, map[string]any{"songs": summaries})
			return
		}

		var wishlist []models.Song
		if err := a.db.WithContext(r.Context()).
			Where("band_id = ? AND status = ?", member.BandID, models.SongWishlist).
			Order("created_at ASC").
			Find(&wishlist).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"songs":    summaries,
			"wishlist": a.wishlistWithVotes(r, wishlist),
		})
		return
	}

	var songs []models.Song
	if err := a.db.WithContext(r.Context()).
		Where("band_id = ? AND status = ?", member.BandID, statusFilter).
		Order("created_at ASC").
		Find(&songs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": a.wishlistWithVotes(r, songs)})
}

func (a *API) wishlistWithVotes(r *http.Request, songs []models.Song) []songDetail {
	out := make([]songDetail, 0, len(songs))
	for _, song := range songs {
		var votes int64
		a.db.WithContext(r.Context()).Model(&models.Vote{}).Where("song_id = ?", song.ID).Count(&votes)
		out = append(out, songDetail{Song: song, VoteCount: int(votes)})
	}
	return out
}

func (a *API) handleSongsCreate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var req songRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}

	status := models.SongWishlist
	if req.Status == string(models.SongActive) {
		// Only leaders can add songs straight to the active repertoire.
		if member.Role != models.RoleLeader {
			writeError(w, http.StatusForbidden, "leader_required")
			return
		}
		status = models.SongActive
	}

	song := models.Song{
		ID:              uuid.NewString(),
		BandID:          member.BandID,
		Title:           req.Title,
		Artist:          strings.TrimSpace(req.Artist),
		Status:          status,
		DurationSeconds: req.DurationSeconds,
		SpotifyTrackID:  req.SpotifyTrackID,
		SpotifyAlbumArt: req.SpotifyAlbumArt,
		SuggestedBy:     member.UserID,
	}
	if err := a.db.WithContext(r.Context()).Create(&song).Error; err != nil {
		a.logger.Error().Err(err).Msg("create song failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.setlistSvc.InvalidateSongs(r.Context(), member.BandID)
	a.publish(events.EventSongCreated, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
		"title":   song.Title,
		"status":  string(song.Status),
	})

	writeJSON(w, http.StatusCreated, song)
}

func (a *API) handleSongsGet(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	var progresses []models.SongProgress
	if err := a.db.WithContext(r.Context()).
		Where("song_id = ?", song.ID).
		Find(&progresses).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var memberCount int64
	a.db.WithContext(r.Context()).Model(&models.BandMember{}).Where("band_id = ?", member.BandID).Count(&memberCount)

	ready := 0
	myStage := ""
	for _, p := range progresses {
		if p.Stage.Ready() {
			ready++
		}
		if p.UserID == member.UserID {
			myStage = string(p.Stage)
		}
	}
	readiness := 0.0
	if memberCount > 0 {
		readiness = float64(ready) / float64(memberCount)
	}

	var votes int64
	a.db.WithContext(r.Context()).Model(&models.Vote{}).Where("song_id = ?", song.ID).Count(&votes)

	writeJSON(w, http.StatusOK, songDetail{
		Song:           *song,
		ReadinessRatio: readiness,
		IsNew:          int64(ready*2) <= memberCount,
		VoteCount:      int(votes),
		MyStage:        myStage,
		Progress:       progresses,
	})
}

func (a *API) handleSongsUpdate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	var req songRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := map[string]any{}
	if title := strings.TrimSpace(req.Title); title != "" {
		updates["title"] = title
	}
	if artist := strings.TrimSpace(req.Artist); artist != "" {
		updates["artist"] = artist
	}
	if req.DurationSeconds > 0 {
		updates["duration_seconds"] = req.DurationSeconds
	}
	if req.SpotifyTrackID != "" {
		updates["spotify_track_id"] = req.SpotifyTrackID
	}
	if req.SpotifyAlbumArt != "" {
		updates["spotify_album_art"] = req.SpotifyAlbumArt
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, song)
		return
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

func (a *API) handleSongsDelete(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	// Members may retract their own wishlist suggestions; anything else
	// needs the leader role.
	if member.Role != models.RoleLeader &&
		!(song.Status == models.SongWishlist && song.SuggestedBy == member.UserID) {
		writeError(w, http.StatusForbidden, "leader_required")
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	for _, model := range []any{&models.SongProgress{}, &models.Vote{}, &models.SongAttachment{}} {
		if err := tx.Where("song_id = ?", song.ID).Delete(model).Error; err != nil {
			tx.Rollback()
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	if err := tx.Delete(&models.Song{}, "id = ?", song.ID).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	a.setlistSvc.InvalidateSongs(r.Context(), member.BandID)
	a.publish(events.EventSongDeleted, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSongsApprove(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	if song.Status != models.SongWishlist {
		writeError(w, http.StatusConflict, "not_wishlist")
		return
	}

	var memberships []models.BandMember
	if err := a.db.WithContext(r.Context()).
		Where("band_id = ?", member.BandID).
		Find(&memberships).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Every member starts at to_listen so the song shows up in everyone's
	// progress view immediately, matching how proposals enter the repertoire.
	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Model(&models.Song{}).
		Where("id = ?", song.ID).
		Update("status", models.SongActive).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	for _, m := range memberships {
		progress := models.SongProgress{
			SongID: song.ID,
			UserID: m.UserID,
			Stage:  models.StageToListen,
		}
		if err := tx.Where("song_id = ? AND user_id = ?", song.ID, m.UserID).
			FirstOrCreate(&progress).Error; err != nil {
			tx.Rollback()
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.setlistSvc.InvalidateSongs(r.Context(), member.BandID)
	a.publish(events.EventSongApproved, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
		"title":   song.Title,
	})

	song.Status = models.SongActive
	writeJSON(w, http.StatusOK, song)
}

func (a *API) handleSongsRehearsed(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if err := a.db.WithContext(r.Context()).
		Model(&models.Song{}).
		Where("id = ?", song.ID).
		Update("last_rehearsed_on", now).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publish(events.EventSongRehearsed, events.Payload{
		"band_id":      member.BandID,
		"song_id":      song.ID,
		"rehearsed_at": now,
	})

	song.LastRehearsedOn = &now
	writeJSON(w, http.StatusOK, song)
}

func (a *API) handleProgressUpsert(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	stage := models.ProgressStage(req.Stage)
	if _, valid := validStages[stage]; !valid {
		writeError(w, http.StatusBadRequest, "invalid_stage")
		return
	}

	progress := models.SongProgress{
		SongID: song.ID,
		UserID: member.UserID,
		Stage:  stage,
	}
	if err := a.db.WithContext(r.Context()).Save(&progress).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.setlistSvc.InvalidateSongs(r.Context(), member.BandID)
	a.publish(events.EventProgressUpdated, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
		"user_id": member.UserID,
		"stage":   string(stage),
	})

	writeJSON(w, http.StatusOK, progress)
}

func (a *API) handleVoteCast(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	if song.Status != models.SongWishlist {
		writeError(w, http.StatusConflict, "not_wishlist")
		return
	}

	vote := models.Vote{SongID: song.ID, UserID: member.UserID}
	err := a.db.WithContext(r.Context()).Create(&vote).Error
	if err != nil && !strings.Contains(err.Error(), "UNIQUE") && !strings.Contains(err.Error(), "duplicate") {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var votes int64
	a.db.WithContext(r.Context()).Model(&models.Vote{}).Where("song_id = ?", song.ID).Count(&votes)

	a.publish(events.EventVoteCast, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
		"user_id": member.UserID,
		"votes":   votes,
	})

	writeJSON(w, http.StatusOK, map[string]any{"song_id": song.ID, "votes": votes})
}

func (a *API) handleVoteRemove(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	if err := a.db.WithContext(r.Context()).
		Where("song_id = ? AND user_id = ?", song.ID, member.UserID).
		Delete(&models.Vote{}).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var votes int64
	a.db.WithContext(r.Context()).Model(&models.Vote{}).Where("song_id = ?", song.ID).Count(&votes)

	a.publish(events.EventVoteRemoved, events.Payload{
		"band_id": member.BandID,
		"song_id": song.ID,
		"user_id": member.UserID,
		"votes":   votes,
	})

	writeJSON(w, http.StatusOK, map[string]any{"song_id": song.ID, "votes": votes})
}
