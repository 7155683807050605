/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/models"
)

func (a *API) handleAttachmentsList(w http.ResponseWriter, r *http.Request) {
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	var attachments []models.SongAttachment
	if err := a.db.WithContext(r.Context()).
		Where("song_id = ?", song.ID).
		Order("created_at ASC").
		Find(&attachments).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

func (a *API) handleAttachmentsUpload(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	attachmentID := uuid.NewString()
	key, err := a.storageSvc.Store(r.Context(), member.BandID, attachmentID, header.Filename, file)
	if err != nil {
		a.logger.Error().Err(err).Msg("attachment store failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	attachment := models.SongAttachment{
		ID:         attachmentID,
		SongID:     song.ID,
		UploadedBy: member.UserID,
		Filename:   header.Filename,
		StorageKey: key,
		MimeType:   header.Header.Get("Content-Type"),
		SizeBytes:  header.Size,
	}
	if err := a.db.WithContext(r.Context()).Create(&attachment).Error; err != nil {
		// Don't leave an orphaned object behind.
		if delErr := a.storageSvc.Delete(r.Context(), key); delErr != nil {
			a.logger.Warn().Err(delErr).Str("key", key).Msg("orphan cleanup failed")
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusCreated, attachment)
}

func (a *API) loadAttachment(w http.ResponseWriter, r *http.Request, songID string) (*models.SongAttachment, bool) {
	attachmentID := chi.URLParam(r, "attachmentID")

	var attachment models.SongAttachment
	result := a.db.WithContext(r.Context()).
		Where("id = ? AND song_id = ?", attachmentID, songID).
		First(&attachment)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &attachment, true
}

func (a *API) handleAttachmentsDownload(w http.ResponseWriter, r *http.Request) {
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}
	attachment, ok := a.loadAttachment(w, r, song.ID)
	if !ok {
		return
	}

	rc, err := a.storageSvc.Open(r.Context(), attachment.StorageKey)
	if err != nil {
		a.logger.Error().Err(err).Str("key", attachment.StorageKey).Msg("attachment open failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	defer rc.Close()

	contentType := attachment.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+attachment.Filename+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Debug().Err(err).Msg("attachment stream interrupted")
	}
}

func (a *API) handleAttachmentsDelete(w http.ResponseWriter, r *http.Request) {
	member, _ := memberFromContext(r.Context())
	song, ok := a.loadSong(w, r)
	if !ok {
		return
	}
	attachment, ok := a.loadAttachment(w, r, song.ID)
	if !ok {
		return
	}

	if member.Role != models.RoleLeader && attachment.UploadedBy != member.UserID {
		writeError(w, http.StatusForbidden, "not_uploader")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.SongAttachment{}, "id = ?", attachment.ID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := a.storageSvc.Delete(r.Context(), attachment.StorageKey); err != nil {
		a.logger.Warn().Err(err).Str("key", attachment.StorageKey).Msg("attachment object delete failed")
	}

	w.WriteHeader(http.StatusNoContent)
}
