/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/auth"
	"github.com/backlinehq/backline/internal/cache"
	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
	"github.com/backlinehq/backline/internal/setlist"
	"github.com/backlinehq/backline/internal/spotify"
	"github.com/backlinehq/backline/internal/storage"
	"github.com/backlinehq/backline/internal/telemetry"
	ws "nhooyr.io/websocket"
)

// API exposes HTTP handlers.
type API struct {
	db             *gorm.DB
	jwtSecret      []byte
	setlistSvc     *setlist.Service
	spotifyClient  *spotify.Client
	storageSvc     *storage.Service
	cache          *cache.Cache
	bus            events.Dispatcher
	maxUploadBytes int64
	jwtTTL         time.Duration
	invitationTTL  time.Duration
	logger         zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, setlistSvc *setlist.Service, spotifyClient *spotify.Client, storageSvc *storage.Service, bus events.Dispatcher, maxUploadBytes int64, invitationTTL time.Duration, logger zerolog.Logger) *API {
	return &API{
		db:             db,
		jwtSecret:      jwtSecret,
		setlistSvc:     setlistSvc,
		spotifyClient:  spotifyClient,
		storageSvc:     storageSvc,
		bus:            bus,
		maxUploadBytes: maxUploadBytes,
		jwtTTL:         7 * 24 * time.Hour,
		invitationTTL:  invitationTTL,
		logger:         logger,
	}
}

// SetCache sets the cache instance used by read-heavy handlers.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/me", a.handleMe)

			pr.Route("/bands", func(r chi.Router) {
				r.Get("/", a.handleBandsList)
				r.Post("/", a.handleBandsCreate)

				r.Route("/{bandID}", func(r chi.Router) {
					r.Use(a.requireMember)

					r.Get("/", a.handleBandsGet)
					r.With(a.requireLeader).Patch("/", a.handleBandsUpdate)
					r.Get("/members", a.handleMembersList)
					r.Delete("/members/me", a.handleMemberLeave)
					r.With(a.requireLeader).Patch("/members/{userID}", a.handleMemberRoleUpdate)
					r.With(a.requireLeader).Delete("/members/{userID}", a.handleMemberRemove)

					r.Route("/invitations", func(r chi.Router) {
						r.Use(a.requireLeader)
						r.Get("/", a.handleInvitationsList)
						r.Post("/", a.handleInvitationsCreate)
						r.Delete("/{invitationID}", a.handleInvitationsRevoke)
					})

					r.Route("/songs", func(r chi.Router) {
						r.Get("/", a.handleSongsList)
						r.Post("/", a.handleSongsCreate)

						r.Route("/{songID}", func(r chi.Router) {
							r.Get("/", a.handleSongsGet)
							r.Patch("/", a.handleSongsUpdate)
							r.Delete("/", a.handleSongsDelete)
							r.With(a.requireLeader).Post("/approve", a.handleSongsApprove)
							r.Post("/rehearsed", a.handleSongsRehearsed)
							r.Post("/spotify", a.handleSongsSpotifyLink)
							r.Put("/progress", a.handleProgressUpsert)
							r.Put("/vote", a.handleVoteCast)
							r.Delete("/vote", a.handleVoteRemove)

							r.Route("/attachments", func(r chi.Router) {
								r.Get("/", a.handleAttachmentsList)
								r.Post("/", a.handleAttachmentsUpload)
								r.Get("/{attachmentID}", a.handleAttachmentsDownload)
								r.Delete("/{attachmentID}", a.handleAttachmentsDelete)
							})
						})
					})

					r.Post("/setlist", a.handleSetlistGenerate)
					r.Route("/preferences", func(r chi.Router) {
						r.Get("/", a.handlePreferencesGet)
						r.With(a.requireLeader).Put("/", a.handlePreferencesUpdate)
					})
				})
			})

			pr.Post("/invitations/accept", a.handleInvitationsAccept)

			pr.Route("/spotify", func(r chi.Router) {
				r.Get("/search", a.handleSpotifySearch)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

type bandMemberKey struct{}

// requireMember loads the caller's membership for the band in the URL and
// stores it on the request context. Non-members get a 404 rather than a 403
// so band IDs are not probeable.
func (a *API) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		bandID := chi.URLParam(r, "bandID")
		if bandID == "" {
			writeError(w, http.StatusBadRequest, "band_id_required")
			return
		}

		var member models.BandMember
		result := a.db.WithContext(r.Context()).
			Where("band_id = ? AND user_id = ?", bandID, claims.UserID).
			First(&member)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if result.Error != nil {
			a.logger.Error().Err(result.Error).Msg("membership lookup failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		ctx := context.WithValue(r.Context(), bandMemberKey{}, &member)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requireLeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		member, ok := memberFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if member.Role != models.RoleLeader {
			writeError(w, http.StatusForbidden, "leader_required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func memberFromContext(ctx context.Context) (*models.BandMember, bool) {
	member, ok := ctx.Value(bandMemberKey{}).(*models.BandMember)
	return member, ok
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{
			events.EventSongCreated,
			events.EventSongUpdated,
			events.EventProgressUpdated,
			events.EventVoteCast,
			events.EventSetlistGenerated,
		}
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Error().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func (a *API) publish(eventType events.EventType, payload events.Payload) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(eventType, payload)
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
