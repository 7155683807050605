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

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/auth"
	"github.com/backlinehq/backline/internal/models"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userInfo `json:"user"`
}

type userInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid_email")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Email[:strings.Index(req.Email, "@")]
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("password hash failed")
		writeError(w, http.StatusInternalServerError, "hash_error")
		return
	}

	user := models.User{
		ID:          uuid.NewString(),
		Email:       req.Email,
		Password:    hash,
		DisplayName: req.DisplayName,
	}
	if err := a.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate") {
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		a.logger.Error().Err(err).Msg("create user failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("user_id", user.ID).Msg("user registered")
	a.issueToken(w, &user, http.StatusCreated)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	result := a.db.WithContext(r.Context()).Where("email = ?", email).First(&user)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) || (result.Error == nil && !auth.CheckPassword(user.Password, req.Password)) {
		// Same error for unknown email and wrong password.
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("login lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.issueToken(w, &user, http.StatusOK)
}

func (a *API) issueToken(w http.ResponseWriter, user *models.User, status int) {
	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
	}, a.jwtTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, status, authResponse{
		Token: token,
		User: userInfo{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
		},
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var user models.User
	result := a.db.WithContext(r.Context()).First(&user, "id = ?", claims.UserID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, userInfo{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
}
