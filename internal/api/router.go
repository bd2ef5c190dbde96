// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/shelfguard/internal/middleware"
)

// Router wires handlers and middleware.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil mw uses DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// Setup builds the chi route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Applied to all routes, in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
	})

	// The provider redirects the operator's browser here; the one-time
	// state stands in for identity headers.
	r.With(router.chiMiddleware.RateLimit()).Get("/oauth/callback", router.handler.OAuthCallback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.RequireActor(respondMissingIdentity))

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", router.handler.ListBackups)

			r.Group(func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimitWrite())
				r.Post("/", router.handler.CreateBackup)
				r.Post("/sync", router.handler.SyncBackups)
				r.Delete("/local", router.handler.DeleteAllLocalBackups)
				r.Delete("/local/{name}", router.handler.DeleteLocalBackup)
				r.Delete("/cloud", router.handler.DeleteAllCloudBackups)
				r.Delete("/cloud/{id}", router.handler.DeleteCloudBackup)
			})
		})

		r.Get("/settings/backup-location", router.handler.GetBackupLocation)
		r.Put("/settings/backup-location", router.handler.SetBackupLocation)

		r.Route("/remote", func(r chi.Router) {
			r.Get("/auth-url", router.handler.RemoteAuthURL)
			r.Post("/authorize", router.handler.RemoteAuthorize)
			r.Delete("/", router.handler.RemoteDisconnect)
		})
	})

	return r
}
