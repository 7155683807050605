/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/backlinehq/backline/internal/models"
)

func (e *testEnv) uploadAttachment(t *testing.T, token, bandID, songID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/bands/%s/songs/%s/attachments/", bandID, songID), &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestAttachmentUploadDownload(t *testing.T) {
	env := newTestEnv(t)
	leaderToken, _ := env.register(t, "lead@example.com")
	bandID := env.createBand(t, leaderToken, "Chart Keepers")
	song := env.createSong(t, leaderToken, bandID, map[string]any{
		"title": "Charted", "status": "active", "duration_seconds": 180,
	})

	rr := env.uploadAttachment(t, leaderToken, bandID, song.ID, "chart.pdf", "pdf-bytes")
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: %d body=%s", rr.Code, rr.Body.String())
	}
	attachment := decode[models.SongAttachment](t, rr)
	if attachment.Filename != "chart.pdf" {
		t.Errorf("filename = %q", attachment.Filename)
	}
	if attachment.SizeBytes != int64(len("pdf-bytes")) {
		t.Errorf("size = %d, want %d", attachment.SizeBytes, len("pdf-bytes"))
	}

	rr = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/bands/%s/songs/%s/attachments/", bandID, song.ID), leaderToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	list := decode[struct {
		Attachments []models.SongAttachment `json:"attachments"`
	}](t, rr)
	if len(list.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(list.Attachments))
	}

	rr = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/bands/%s/songs/%s/attachments/%s", bandID, song.ID, attachment.ID), leaderToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download: %d", rr.Code)
	}
	if rr.Body.String() != "pdf-bytes" {
		t.Errorf("download body = %q", rr.Body.String())
	}
}

func TestAttachmentDeletePermissions(t *testing.T) {
	env := newTestEnv(t)
	leaderToken, _ := env.register(t, "lead@example.com")
	uploaderToken, _ := env.register(t, "uploader@example.com")
	otherToken, _ := env.register(t, "other@example.com")
	bandID := env.createBand(t, leaderToken, "Chart Keepers")
	joinBand(t, env, bandID, leaderToken, uploaderToken)
	joinBand(t, env, bandID, leaderToken, otherToken)

	song := env.createSong(t, leaderToken, bandID, map[string]any{
		"title": "Shared", "status": "active", "duration_seconds": 180,
	})

	rr := env.uploadAttachment(t, uploaderToken, bandID, song.ID, "tab.txt", "tab-content")
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: %d", rr.Code)
	}
	attachment := decode[models.SongAttachment](t, rr)
	path := fmt.Sprintf("/api/v1/bands/%s/songs/%s/attachments/%s", bandID, song.ID, attachment.ID)

	// Another member cannot delete someone else's upload.
	rr = env.do(t, http.MethodDelete, path, otherToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("other delete: %d, want 403", rr.Code)
	}

	// The uploader can.
	rr = env.do(t, http.MethodDelete, path, uploaderToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("uploader delete: %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, path, leaderToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("deleted attachment get: %d, want 404", rr.Code)
	}
}
