/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func protectedHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("expected claims in context")
		}
		_, _ = w.Write([]byte(claims.UserID))
	})
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{UserID: "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	handler := Middleware(secret)(protectedHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bands", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "user-1" {
		t.Errorf("expected user-1 body, got %q", rec.Body.String())
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	handler := Middleware([]byte("test-secret"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bands", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	handler := Middleware([]byte("test-secret"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bands", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareQueryTokenOnlyForEventsUpgrade(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{UserID: "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		upgrade  bool
		wantCode int
	}{
		{"events upgrade", "/api/v1/events", true, http.StatusOK},
		{"events without upgrade", "/api/v1/events", false, http.StatusUnauthorized},
		{"other path with upgrade", "/api/v1/bands", true, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path+"?token="+token, nil)
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
