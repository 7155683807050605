/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	secret := []byte("test-secret")

	token, err := Issue(secret, Claims{UserID: "user-1", Email: "a@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", claims.UserID)
	}
	if claims.Email != "a@example.com" {
		t.Errorf("expected email preserved, got %q", claims.Email)
	}
	if claims.Subject != "user-1" {
		t.Errorf("expected subject user-1, got %q", claims.Subject)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Issue([]byte("secret-a"), Claims{UserID: "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if _, err := Parse([]byte("secret-b"), token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{UserID: "user-1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("test-secret"), "not.a.token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
