/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/backlinehq/backline/internal/models"
	"github.com/backlinehq/backline/internal/setlist"
)

type setlistGenerateRequest struct {
	TargetMinutes float64 `json:"target_minutes"`
}

type preferencesRequest struct {
	LearningRatio         float64 `json:"learning_ratio"`
	NewSongBufferPct      float64 `json:"new_song_buffer_pct"`
	LearnedSongBufferPct  float64 `json:"learned_song_buffer_pct"`
	BreakThresholdMinutes float64 `json:"break_threshold_minutes"`
	BreakDurationMinutes  float64 `json:"break_duration_minutes"`
	TimeClusterMinutes    int     `json:"time_cluster_minutes"`
	MinSessionMinutes     int     `json:"min_session_minutes"`
	MaxSessionMinutes     int     `json:"max_session_minutes"`
}

func (a *API) handleSetlistGenerate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var req setlistGenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	result, err := a.setlistSvc.Generate(r.Context(), member.BandID, req.TargetMinutes)
	if err != nil {
		if errors.Is(err, setlist.ErrInvalidCluster) || errors.Is(err, setlist.ErrInvalidBounds) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_preferences")
			return
		}
		a.logger.Error().Err(err).Str("band_id", member.BandID).Msg("setlist generation failed")
		writeError(w, http.StatusInternalServerError, "plan_failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	cfg, err := a.setlistSvc.Preferences(r.Context(), member.BandID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handlePreferencesUpdate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	// Catch ill-formed knobs before they are stored so generation never
	// starts failing later because of a bad preferences row.
	if req.TimeClusterMinutes < 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_time_cluster")
		return
	}
	if req.MinSessionMinutes > 0 && req.MaxSessionMinutes > 0 && req.MinSessionMinutes > req.MaxSessionMinutes {
		writeError(w, http.StatusUnprocessableEntity, "invalid_session_bounds")
		return
	}

	prefs := models.SetlistPreferences{
		BandID:                member.BandID,
		LearningRatio:         req.LearningRatio,
		NewSongBufferPct:      req.NewSongBufferPct,
		LearnedSongBufferPct:  req.LearnedSongBufferPct,
		BreakThresholdMinutes: req.BreakThresholdMinutes,
		BreakDurationMinutes:  req.BreakDurationMinutes,
		TimeClusterMinutes:    req.TimeClusterMinutes,
		MinSessionMinutes:     req.MinSessionMinutes,
		MaxSessionMinutes:     req.MaxSessionMinutes,
	}
	if err := a.setlistSvc.SavePreferences(r.Context(), &prefs); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	cfg, err := a.setlistSvc.Preferences(r.Context(), member.BandID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}
