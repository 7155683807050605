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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/auth"
	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
)

type bandRequest struct {
	Name string `json:"name"`
}

type bandInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	MemberCount int64  `json:"member_count"`
}

type memberInfo struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

func (a *API) handleBandsList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var memberships []models.BandMember
	if err := a.db.WithContext(r.Context()).
		Where("user_id = ?", claims.UserID).
		Find(&memberships).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]bandInfo, 0, len(memberships))
	for _, m := range memberships {
		var band models.Band
		if err := a.db.WithContext(r.Context()).First(&band, "id = ?", m.BandID).Error; err != nil {
			continue
		}
		var count int64
		a.db.WithContext(r.Context()).Model(&models.BandMember{}).Where("band_id = ?", m.BandID).Count(&count)
		out = append(out, bandInfo{
			ID:          band.ID,
			Name:        band.Name,
			Role:        string(m.Role),
			MemberCount: count,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"bands": out})
}

func (a *API) handleBandsCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req bandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	band := models.Band{
		ID:   uuid.NewString(),
		Name: req.Name,
	}

	// Band plus founding leader in one transaction.
	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Create(&band).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("create band failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	member := models.BandMember{
		BandID: band.ID,
		UserID: claims.UserID,
		Role:   models.RoleLeader,
	}
	if err := tx.Create(&member).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("create founding member failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	a.logger.Info().Str("band_id", band.ID).Str("user_id", claims.UserID).Msg("band created")
	a.publish(events.EventBandCreated, events.Payload{
		"band_id": band.ID,
		"user_id": claims.UserID,
		"name":    band.Name,
	})

	writeJSON(w, http.StatusCreated, bandInfo{
		ID:          band.ID,
		Name:        band.Name,
		Role:        string(models.RoleLeader),
		MemberCount: 1,
	})
}

func (a *API) handleBandsGet(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var band models.Band
	result := a.db.WithContext(r.Context()).First(&band, "id = ?", member.BandID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var count int64
	a.db.WithContext(r.Context()).Model(&models.BandMember{}).Where("band_id = ?", band.ID).Count(&count)

	writeJSON(w, http.StatusOK, bandInfo{
		ID:          band.ID,
		Name:        band.Name,
		Role:        string(member.Role),
		MemberCount: count,
	})
}

func (a *API) handleBandsUpdate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var req bandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	if err := a.db.WithContext(r.Context()).
		Model(&models.Band{}).
		Where("id = ?", member.BandID).
		Update("name", req.Name).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": member.BandID, "name": req.Name})
}

func (a *API) handleMembersList(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var memberships []models.BandMember
	if err := a.db.WithContext(r.Context()).
		Where("band_id = ?", member.BandID).
		Order("created_at ASC").
		Find(&memberships).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]memberInfo, 0, len(memberships))
	for _, m := range memberships {
		var user models.User
		if err := a.db.WithContext(r.Context()).First(&user, "id = ?", m.UserID).Error; err != nil {
			continue
		}
		out = append(out, memberInfo{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			Email:       user.Email,
			Role:        string(m.Role),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (a *API) handleMemberLeave(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	if member.Role == models.RoleLeader {
		var leaders int64
		a.db.WithContext(r.Context()).
			Model(&models.BandMember{}).
			Where("band_id = ? AND role = ?", member.BandID, models.RoleLeader).
			Count(&leaders)
		if leaders <= 1 {
			writeError(w, http.StatusConflict, "last_leader")
			return
		}
	}

	if err := a.removeMember(r, member.BandID, member.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMemberRoleUpdate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	userID := chi.URLParam(r, "userID")

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	role := models.BandRole(req.Role)
	if role != models.RoleLeader && role != models.RoleMember {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	var target models.BandMember
	result := a.db.WithContext(r.Context()).
		Where("band_id = ? AND user_id = ?", member.BandID, userID).
		First(&target)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if target.Role == models.RoleLeader && role == models.RoleMember {
		var leaders int64
		a.db.WithContext(r.Context()).
			Model(&models.BandMember{}).
			Where("band_id = ? AND role = ?", member.BandID, models.RoleLeader).
			Count(&leaders)
		if leaders <= 1 {
			writeError(w, http.StatusConflict, "last_leader")
			return
		}
	}

	if err := a.db.WithContext(r.Context()).
		Model(&models.BandMember{}).
		Where("band_id = ? AND user_id = ?", member.BandID, userID).
		Update("role", role).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var user models.User
	if err := a.db.WithContext(r.Context()).First(&user, "id = ?", userID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, memberInfo{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        string(role),
	})
}

func (a *API) handleMemberRemove(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	userID := chi.URLParam(r, "userID")

	if userID == member.UserID {
		writeError(w, http.StatusBadRequest, "use_leave_endpoint")
		return
	}

	var target models.BandMember
	result := a.db.WithContext(r.Context()).
		Where("band_id = ? AND user_id = ?", member.BandID, userID).
		First(&target)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.removeMember(r, member.BandID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// removeMember deletes the membership row along with the user's per-song
// state in the band, then invalidates the readiness snapshot since the
// member count changed.
func (a *API) removeMember(r *http.Request, bandID, userID string) error {
	ctx := r.Context()

	tx := a.db.WithContext(ctx).Begin()
	if err := tx.Where("band_id = ? AND user_id = ?", bandID, userID).Delete(&models.BandMember{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Where("user_id = ? AND song_id IN (?)",
		userID,
		tx.Model(&models.Song{}).Select("id").Where("band_id = ?", bandID),
	).Delete(&models.SongProgress{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Where("user_id = ? AND song_id IN (?)",
		userID,
		tx.Model(&models.Song{}).Select("id").Where("band_id = ?", bandID),
	).Delete(&models.Vote{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	a.setlistSvc.InvalidateSongs(ctx, bandID)
	a.publish(events.EventMemberLeft, events.Payload{
		"band_id": bandID,
		"user_id": userID,
	})
	return nil
}
