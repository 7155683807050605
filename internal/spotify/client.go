/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package spotify is a minimal client for the Spotify Web API using the
// client credentials flow. Backline only needs track search and lookup; no
// user-scoped OAuth is involved.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/backlinehq/backline/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotConfigured is returned when credentials are missing.
var ErrNotConfigured = errors.New("spotify: client credentials not configured")

// Track is a normalized Spotify track.
type Track struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	AlbumArtURL     string `json:"album_art_url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Config contains Spotify API configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	APIBase      string // e.g., "https://api.spotify.com/v1"
	TokenURL     string // e.g., "https://accounts.spotify.com/api/token"
}

// Client calls the Spotify Web API. Access tokens are cached until shortly
// before expiry and refreshed on demand; concurrent callers share one token.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a Spotify client.
func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "spotify").Logger(),
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// Search looks up tracks by free-text query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SpotifyRequestsTotal.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("spotify search: %w", err)
	}
	defer resp.Body.Close()

	telemetry.SpotifyRequestsTotal.WithLabelValues("search", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("spotify search: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Tracks struct {
			Items []apiTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("spotify search: decode response: %w", err)
	}

	tracks := make([]Track, 0, len(payload.Tracks.Items))
	for _, item := range payload.Tracks.Items {
		tracks = append(tracks, item.normalize())
	}
	return tracks, nil
}

// GetTrack fetches one track by Spotify ID.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/tracks/"+url.PathEscape(trackID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SpotifyRequestsTotal.WithLabelValues("get_track", "error").Inc()
		return nil, fmt.Errorf("spotify get track: %w", err)
	}
	defer resp.Body.Close()

	telemetry.SpotifyRequestsTotal.WithLabelValues("get_track", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("spotify get track: track %s not found", trackID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify get track: unexpected status %d", resp.StatusCode)
	}

	var item apiTrack
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("spotify get track: decode response: %w", err)
	}

	track := item.normalize()
	return &track, nil
}

// token returns a valid access token, refreshing it when missing or about to
// expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SpotifyRequestsTotal.WithLabelValues("token", "error").Inc()
		return "", fmt.Errorf("spotify token: %w", err)
	}
	defer resp.Body.Close()

	telemetry.SpotifyRequestsTotal.WithLabelValues("token", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("spotify token: decode response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("spotify token: empty access token in response")
	}

	c.accessToken = payload.AccessToken
	// Refresh a minute ahead of the advertised expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)

	c.logger.Debug().Msg("refreshed spotify access token")
	return c.accessToken, nil
}

// apiTrack mirrors the wire shape of a Spotify track object.
type apiTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"images"`
	} `json:"album"`
	DurationMS int `json:"duration_ms"`
}

func (t apiTrack) normalize() Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	art := ""
	if len(t.Album.Images) > 0 {
		// Spotify orders images largest first.
		art = t.Album.Images[0].URL
	}

	return Track{
		ID:              t.ID,
		Title:           t.Name,
		Artist:          strings.Join(artists, ", "),
		Album:           t.Album.Name,
		AlbumArtURL:     art,
		DurationSeconds: t.DurationMS / 1000,
	}
}
