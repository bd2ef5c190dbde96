// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"html/template"
	"net/http"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/models"
)

// RemoteAuthURL starts the consent flow.
// GET /api/v1/remote/auth-url
func (h *Handler) RemoteAuthURL(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	u, err := h.backups.AuthorizationURL(a.ID, a.Role)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, &models.AuthURLResponse{URL: u})
}

// RemoteAuthorize completes the consent flow when the shell captured the
// redirect itself.
// POST /api/v1/remote/authorize
func (h *Handler) RemoteAuthorize(w http.ResponseWriter, r *http.Request) {
	var req models.AuthorizeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	actorID, err := h.backups.CompleteAuthorization(r.Context(), req.State, req.Code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, &models.AuthorizeResponse{Connected: true, ActorID: actorID})
}

// RemoteDisconnect forgets the stored credential.
// DELETE /api/v1/remote
func (h *Handler) RemoteDisconnect(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if err := h.backups.DisconnectRemote(r.Context(), a.ID, a.Role); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Shelfguard</title></head>
<body><p>{{.}}</p><p>You can close this window.</p></body></html>
`))

// OAuthCallback is the provider's redirect target. The state parameter
// identifies the operator who started the flow, so no identity headers
// are needed.
// GET /oauth/callback
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		logging.Warn().Str("error", sanitizeLogValue(e)).Msg("Remote authorization declined")
		renderCallback(w, http.StatusBadRequest, "Authorization was declined.")
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		renderCallback(w, http.StatusBadRequest, "The authorization response is incomplete.")
		return
	}
	actorID, err := h.backups.CompleteAuthorization(r.Context(), state, code)
	if err != nil {
		logging.Warn().Err(err).Msg("Remote authorization failed")
		renderCallback(w, http.StatusBadRequest, "Authorization failed. Start again from the till.")
		return
	}
	logging.Info().Str("actor_id", sanitizeLogValue(actorID)).Msg("Remote storage connected")
	renderCallback(w, http.StatusOK, "Cloud backup is connected.")
}

func renderCallback(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, msg); err != nil {
		logging.Error().Err(err).Msg("Failed to render callback page")
	}
}
