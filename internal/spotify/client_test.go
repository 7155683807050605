/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, tokenCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(tokenCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-abc",
			"expires_in":   3600,
		})
	})

	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query().Get("q"); got != "karma police" {
			t.Errorf("unexpected query %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tracks": map[string]any{
				"items": []map[string]any{
					{
						"id":   "track-1",
						"name": "Karma Police",
						"artists": []map[string]any{
							{"name": "Radiohead"},
						},
						"album": map[string]any{
							"name": "OK Computer",
							"images": []map[string]any{
								{"url": "https://img.example/640.jpg", "width": 640, "height": 640},
								{"url": "https://img.example/300.jpg", "width": 300, "height": 300},
							},
						},
						"duration_ms": 261000,
					},
				},
			},
		})
	})

	mux.HandleFunc("/v1/tracks/track-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":   "track-1",
			"name": "Karma Police",
			"artists": []map[string]any{
				{"name": "Radiohead"},
			},
			"album": map[string]any{
				"name":   "OK Computer",
				"images": []map[string]any{},
			},
			"duration_ms": 261000,
		})
	})

	return httptest.NewServer(mux)
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		APIBase:      srv.URL + "/v1",
		TokenURL:     srv.URL + "/api/token",
	}, zerolog.Nop())
}

func TestSearchNormalizesTracks(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()

	client := newTestClient(srv)

	tracks, err := client.Search(context.Background(), "karma police", 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}

	track := tracks[0]
	if track.ID != "track-1" {
		t.Errorf("expected track-1, got %q", track.ID)
	}
	if track.Artist != "Radiohead" {
		t.Errorf("expected Radiohead, got %q", track.Artist)
	}
	if track.DurationSeconds != 261 {
		t.Errorf("expected 261 seconds, got %d", track.DurationSeconds)
	}
	if track.AlbumArtURL != "https://img.example/640.jpg" {
		t.Errorf("expected largest album art, got %q", track.AlbumArtURL)
	}
}

func TestTokenIsReusedAcrossRequests(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()

	client := newTestClient(srv)
	ctx := context.Background()

	if _, err := client.Search(ctx, "karma police", 10); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := client.GetTrack(ctx, "track-1"); err != nil {
		t.Fatalf("get track: %v", err)
	}

	if got := atomic.LoadInt32(&tokenCalls); got != 1 {
		t.Errorf("expected 1 token request, got %d", got)
	}
}

func TestSearchRequiresCredentials(t *testing.T) {
	client := New(Config{}, zerolog.Nop())

	if _, err := client.Search(context.Background(), "anything", 10); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGetTrackNotFound(t *testing.T) {
	var tokenCalls int32
	srv := newTestServer(t, &tokenCalls)
	defer srv.Close()

	client := newTestClient(srv)

	if _, err := client.GetTrack(context.Background(), "missing-track"); err == nil {
		t.Fatal("expected error for unknown track")
	}
}
