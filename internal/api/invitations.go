/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/auth"
	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
)

// inviteCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const inviteCodeLength = 8

type invitationInfo struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedBy    string     `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type invitationAcceptRequest struct {
	Code string `json:"code"`
}

func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}

func (a *API) handleInvitationsList(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	var invitations []models.Invitation
	if err := a.db.WithContext(r.Context()).
		Where("band_id = ?", member.BandID).
		Order("created_at DESC").
		Find(&invitations).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]invitationInfo, 0, len(invitations))
	for _, inv := range invitations {
		out = append(out, invitationInfo{
			ID:        inv.ID,
			Code:      inv.Code,
			ExpiresAt: inv.ExpiresAt,
			UsedBy:    inv.UsedBy,
			UsedAt:    inv.UsedAt,
			CreatedAt: inv.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (a *API) handleInvitationsCreate(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())

	code, err := generateInviteCode()
	if err != nil {
		a.logger.Error().Err(err).Msg("invite code generation failed")
		writeError(w, http.StatusInternalServerError, "code_generation_failed")
		return
	}

	invitation := models.Invitation{
		ID:        uuid.NewString(),
		BandID:    member.BandID,
		Code:      code,
		CreatedBy: member.UserID,
		ExpiresAt: time.Now().UTC().Add(a.invitationTTL),
	}
	if err := a.db.WithContext(r.Context()).Create(&invitation).Error; err != nil {
		a.logger.Error().Err(err).Msg("create invitation failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publish(events.EventInvitationCreated, events.Payload{
		"band_id":       member.BandID,
		"invitation_id": invitation.ID,
		"expires_at":    invitation.ExpiresAt,
	})

	writeJSON(w, http.StatusCreated, invitationInfo{
		ID:        invitation.ID,
		Code:      invitation.Code,
		ExpiresAt: invitation.ExpiresAt,
		CreatedAt: invitation.CreatedAt,
	})
}

func (a *API) handleInvitationsRevoke(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	invitationID := chi.URLParam(r, "invitationID")

	result := a.db.WithContext(r.Context()).
		Where("id = ? AND band_id = ? AND used_by = ''", invitationID, member.BandID).
		Delete(&models.Invitation{})
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleInvitationsAccept(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req invitationAcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		writeError(w, http.StatusBadRequest, "code_required")
		return
	}

	var invitation models.Invitation
	result := a.db.WithContext(r.Context()).Where("code = ?", code).First(&invitation)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "invalid_code")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if invitation.UsedBy != "" {
		writeError(w, http.StatusConflict, "code_used")
		return
	}
	if invitation.Expired(time.Now().UTC()) {
		writeError(w, http.StatusGone, "code_expired")
		return
	}

	var existing int64
	a.db.WithContext(r.Context()).
		Model(&models.BandMember{}).
		Where("band_id = ? AND user_id = ?", invitation.BandID, claims.UserID).
		Count(&existing)
	if existing > 0 {
		writeError(w, http.StatusConflict, "already_member")
		return
	}

	now := time.Now().UTC()
	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Create(&models.BandMember{
		BandID: invitation.BandID,
		UserID: claims.UserID,
		Role:   models.RoleMember,
	}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Model(&models.Invitation{}).
		Where("id = ?", invitation.ID).
		Updates(map[string]any{"used_by": claims.UserID, "used_at": now}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	// Readiness ratios shift when the member count changes.
	a.setlistSvc.InvalidateSongs(r.Context(), invitation.BandID)

	a.logger.Info().
		Str("band_id", invitation.BandID).
		Str("user_id", claims.UserID).
		Msg("invitation accepted")
	a.publish(events.EventInvitationAccepted, events.Payload{
		"band_id":       invitation.BandID,
		"invitation_id": invitation.ID,
		"user_id":       claims.UserID,
	})
	a.publish(events.EventMemberJoined, events.Payload{
		"band_id": invitation.BandID,
		"user_id": claims.UserID,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"band_id": invitation.BandID,
		"role":    string(models.RoleMember),
	})
}
