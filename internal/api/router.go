// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP handler tree.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router around the endpoint handlers.
func NewRouter(handler *Handler, middleware *Middleware) *Router {
	return &Router{handler: handler, middleware: middleware}
}

// Setup builds the chi route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.middleware.CORS())

	// The WebSocket endpoint sits outside the rate-limited API group;
	// one long-lived request per client.
	r.Get("/ws/connect", rt.handler.WSConnect)

	r.Route("/api/v1/ws", func(r chi.Router) {
		r.Use(rt.middleware.RateLimit())
		r.Use(Authenticate(rt.handler.verifier))

		r.Get("/stats", rt.handler.Stats)
		r.Post("/broadcast/{tenantID}", rt.handler.Broadcast)
		r.Get("/notifications/offline", rt.handler.Offline)
	})

	r.Get("/healthz", rt.handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
