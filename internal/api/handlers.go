// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cadencecrm/realtime/internal/auth"
	"github.com/cadencecrm/realtime/internal/config"
	"github.com/cadencecrm/realtime/internal/logging"
	"github.com/cadencecrm/realtime/internal/notify"
	"github.com/cadencecrm/realtime/internal/realtime"
)

const (
	handshakeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second

	// closeAuthFailure is the application close code clients receive
	// when the handshake token does not verify.
	closeAuthFailure = 4001
)

// Handler implements every HTTP endpoint.
type Handler struct {
	cfg      *config.Config
	manager  *realtime.Manager
	notifier *notify.Service
	verifier *auth.Verifier
}

// NewHandler wires the endpoint handlers.
func NewHandler(cfg *config.Config, manager *realtime.Manager, notifier *notify.Service, verifier *auth.Verifier) *Handler {
	return &Handler{
		cfg:      cfg,
		manager:  manager,
		notifier: notifier,
		verifier: verifier,
	}
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: handshakeTimeout,
	}
}

// checkOrigin validates the Origin header against the configured
// allowlist. Browser WebSockets always send Origin; an empty header
// means a non-browser client and bypasses CORS, so it is rejected.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}

	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// WSConnect upgrades the connection, verifies the handshake token and
// hands the session to the connection manager. Token failures close
// the socket with application code 4001 so clients can distinguish
// auth problems from transport problems.
func (h *Handler) WSConnect(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	identity, err := h.verifier.Verify(wsToken(r))
	if err != nil {
		logging.Warn().Err(err).Msg("websocket handshake token rejected")
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeAuthFailure, "authentication failed"), deadline)
		_ = conn.Close()
		return
	}

	transport := realtime.NewWSTransport(conn, h.cfg.WebSocket.SendBuffer)
	connectionID, err := h.manager.Connect(transport, identity.UserID, identity.TenantID)
	if err != nil {
		_ = transport.Close()
		return
	}

	h.replayOffline(r, connectionID, identity)
	h.readLoop(conn, connectionID)
}

// wsToken extracts the handshake token from the query string, falling
// back to the Authorization header for non-browser clients.
func wsToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found {
		return token
	}
	return ""
}

// replayOffline drains the user's offline queue onto the fresh
// connection. Best-effort: a store failure loses nothing permanently,
// the queue entries simply stay for the next connect.
func (h *Handler) replayOffline(r *http.Request, connectionID string, identity auth.Identity) {
	queued, err := h.notifier.DrainOffline(r.Context(), identity.UserID, identity.TenantID)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", identity.UserID).Msg("offline queue drain failed")
		return
	}
	for _, n := range queued {
		if err := h.manager.SendDirect(connectionID, n); err != nil {
			return
		}
	}
	if len(queued) > 0 {
		logging.Info().Int("count", len(queued)).Int64("user_id", identity.UserID).
			Msg("replayed offline notifications")
	}
}

// readLoop pumps inbound frames into the manager until the client goes
// away. Frames beyond the per-connection rate limit are dropped, not
// fatal; the loop exiting for any reason tears the connection down.
func (h *Handler) readLoop(conn *websocket.Conn, connectionID string) {
	defer h.manager.Disconnect(connectionID)

	conn.SetReadLimit(h.cfg.WebSocket.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.WebSocket.InboundRateLimit), h.cfg.WebSocket.InboundRateBurst)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug().Err(err).Str("connection_id", connectionID).Msg("websocket read failed")
			}
			return
		}

		if !limiter.Allow() {
			logging.Debug().Str("connection_id", connectionID).Msg("inbound frame rate limited")
			continue
		}

		// Reads also refresh the deadline: a client sending heartbeat
		// frames without pong support stays alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		h.manager.HandleInbound(connectionID, raw)
	}
}

// Stats returns the connection manager's occupancy snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Stats())
}

// broadcastRequest is the body of POST /api/v1/ws/broadcast/{tenantID}.
type broadcastRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Broadcast publishes an announcement to every connection in a tenant.
// Callers can only broadcast into their own tenant.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing identity", nil)
		return
	}

	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TENANT", "Tenant id is not a UUID", err)
		return
	}
	if tenantID != identity.TenantID {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "Cannot broadcast into another tenant", nil)
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err)
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Field 'type' is required", nil)
		return
	}

	if err := h.notifier.BroadcastTenant(r.Context(), tenantID, req.Type, req.Data); err != nil {
		respondError(w, http.StatusInternalServerError, "BROADCAST_FAILED", "Failed to publish broadcast", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"tenant_id": tenantID.String(),
		"type":      req.Type,
		"status":    "published",
	})
}

// Offline drains and returns the caller's queued offline notifications.
func (h *Handler) Offline(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing identity", nil)
		return
	}

	queued, err := h.notifier.DrainOffline(r.Context(), identity.UserID, identity.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DRAIN_FAILED", "Failed to drain offline queue", err)
		return
	}
	if queued == nil {
		queued = []realtime.Notification{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": queued,
		"count":         len(queued),
	})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
