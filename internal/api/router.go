// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/guildsync/internal/middleware"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil config uses DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, config *ChiMiddlewareConfig) *Router {
	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(config),
	}
}

// SetupChi builds the HTTP handler.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/v1/providers
//	GET    /api/v1/providers/{documentID}
//	POST   /api/v1/providers/{documentID}/connect
//	POST   /api/v1/providers/{documentID}/disconnect
//	POST   /api/v1/providers/{documentID}/release
//	PUT    /api/v1/providers/{documentID}/cursor
//	DELETE /api/v1/providers/{documentID}/cursor
//	GET    /api/v1/updates
//	GET    /api/v1/cache
//	POST   /api/v1/session/logout
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Get("/providers", router.handler.ListProviders)
		r.Get("/updates", router.handler.Updates)
		r.Get("/cache", router.handler.Cache)

		r.Route("/providers/{documentID}", func(r chi.Router) {
			r.Get("/", router.handler.GetProvider)

			r.Group(func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimit())
				r.Post("/connect", router.handler.Connect)
				r.Post("/disconnect", router.handler.Disconnect)
				r.Post("/release", router.handler.Release)
				r.Put("/cursor", router.handler.SetCursor)
				r.Delete("/cursor", router.handler.ClearCursor)
			})
		})

		r.With(router.chiMiddleware.RateLimit()).Post("/session/logout", router.handler.Logout)
	})

	return r
}
