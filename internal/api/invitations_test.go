/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/backlinehq/backline/internal/models"
)

func TestInvitationFlow(t *testing.T) {
	env := newTestEnv(t)
	leaderToken, _ := env.register(t, "lead@example.com")
	joinerToken, joinerID := env.register(t, "joiner@example.com")
	bandID := env.createBand(t, leaderToken, "Open Band")

	// Only leaders can mint invitations.
	rr := env.do(t, http.MethodPost, "/api/v1/bands/"+bandID+"/invitations/", joinerToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("non-member invitation create: %d, want 404", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/bands/"+bandID+"/invitations/", leaderToken, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create invitation: %d body=%s", rr.Code, rr.Body.String())
	}
	inv := decode[invitationInfo](t, rr)
	if len(inv.Code) != inviteCodeLength {
		t.Errorf("code length = %d, want %d", len(inv.Code), inviteCodeLength)
	}

	// Codes are accepted case-insensitively.
	rr = env.do(t, http.MethodPost, "/api/v1/invitations/accept", joinerToken, map[string]string{
		"code": " " + inv.Code + " ",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: %d body=%s", rr.Code, rr.Body.String())
	}

	var member models.BandMember
	if err := env.db.Where("band_id = ? AND user_id = ?", bandID, joinerID).First(&member).Error; err != nil {
		t.Fatalf("membership not created: %v", err)
	}
	if member.Role != models.RoleMember {
		t.Errorf("role = %q, want member", member.Role)
	}

	// A used code cannot be reused.
	thirdToken, _ := env.register(t, "third@example.com")
	rr = env.do(t, http.MethodPost, "/api/v1/invitations/accept", thirdToken, map[string]string{"code": inv.Code})
	if rr.Code != http.StatusConflict {
		t.Errorf("reuse code: %d, want 409", rr.Code)
	}
}

func TestInvitationExpiry(t *testing.T) {
	env := newTestEnv(t)
	leaderToken, leaderID := env.register(t, "lead@example.com")
	joinerToken, _ := env.register(t, "late@example.com")
	bandID := env.createBand(t, leaderToken, "Closed Band")

	expired := models.Invitation{
		ID:        "inv-expired",
		BandID:    bandID,
		Code:      "EXPIRED1",
		CreatedBy: leaderID,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := env.db.Create(&expired).Error; err != nil {
		t.Fatalf("seed invitation: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/invitations/accept", joinerToken, map[string]string{"code": "EXPIRED1"})
	if rr.Code != http.StatusGone {
		t.Errorf("expired accept: %d, want 410", rr.Code)
	}
}

func TestInvitationRevoke(t *testing.T) {
	env := newTestEnv(t)
	leaderToken, _ := env.register(t, "lead@example.com")
	bandID := env.createBand(t, leaderToken, "Band")

	rr := env.do(t, http.MethodPost, "/api/v1/bands/"+bandID+"/invitations/", leaderToken, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create invitation: %d", rr.Code)
	}
	inv := decode[invitationInfo](t, rr)

	rr = env.do(t, http.MethodDelete, "/api/v1/bands/"+bandID+"/invitations/"+inv.ID, leaderToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d body=%s", rr.Code, rr.Body.String())
	}

	joinerToken, _ := env.register(t, "joiner@example.com")
	rr = env.do(t, http.MethodPost, "/api/v1/invitations/accept", joinerToken, map[string]string{"code": inv.Code})
	if rr.Code != http.StatusNotFound {
		t.Errorf("accept revoked code: %d, want 404", rr.Code)
	}
}

func TestUnknownInvitationCode(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "nobody@example.com")

	rr := env.do(t, http.MethodPost, "/api/v1/invitations/accept", token, map[string]string{"code": "NOPENOPE"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown code: %d, want 404", rr.Code)
	}
}
