// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/cadencecrm/realtime/internal/bus"
	"github.com/cadencecrm/realtime/internal/logging"
	"github.com/cadencecrm/realtime/internal/metrics"
)

// TenantBroadcastChannel is the channel every connection is
// auto-subscribed to for tenant-wide announcements.
const TenantBroadcastChannel = "tenant:broadcast"

const (
	connectionKeyPrefix  = "ws_connection:"
	connectionPersistTTL = time.Hour
	persistTimeout       = 2 * time.Second
)

// UserNotificationChannel returns the per-user default channel name.
func UserNotificationChannel(userID int64) string {
	return fmt.Sprintf("user:%d:notifications", userID)
}

// Manager orchestrates the connection lifecycle: it accepts verified
// connections, registers them, routes inbound client frames, bridges
// bus traffic to local subscribers and exposes the delivery API used by
// notification producers.
//
// Construct one Manager at startup and pass it by reference; every
// method is safe for concurrent use.
type Manager struct {
	registry *Registry
	bridge   *Bridge
	store    bus.Store
	breaker  *gobreaker.CircuitBreaker[any]
}

// NewManager wires a manager to the bus. store may be nil; connection
// metadata persistence and the offline queue then degrade gracefully.
func NewManager(b bus.Bus, store bus.Store) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		store:    store,
	}
	m.bridge = NewBridge(b, m.deliverFromBus)

	// Persistence is best-effort; the breaker keeps a dead store from
	// adding a timeout to every connect.
	m.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:     "connection-store",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return m
}

// Registry exposes the registry for the heartbeat monitor and tests.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Bridge exposes the channel bridge for tests and shutdown.
func (m *Manager) Bridge() *Bridge {
	return m.bridge
}

// Connect registers a verified client session. The transport handshake
// and credential verification have already happened; Connect generates
// the connection id, indexes the connection, auto-subscribes it to its
// user channel and the tenant broadcast channel, persists metadata
// best-effort, and sends the connect acknowledgement.
func (m *Manager) Connect(t Transport, userID int64, tenantID uuid.UUID) (string, error) {
	conn := newConnection(newConnectionID(userID), userID, tenantID, t)

	if err := m.registry.Add(conn); err != nil {
		logging.Error().Err(err).Str("connection_id", conn.ID).Msg("rejecting duplicate connection id")
		return "", err
	}

	for _, channel := range []string{UserNotificationChannel(userID), TenantBroadcastChannel} {
		m.registry.AddSubscription(conn.ID, channel)
		if err := m.bridge.EnsureSubscribed(channel); err != nil {
			// The local subscription stays; the next subscribe retries
			// the bus listener.
			logging.Error().Err(err).Str("channel", channel).Msg("bus subscription failed")
		}
	}

	conn.markConnected()
	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsTotal.Inc()

	m.persistConnection(conn)

	ack := NewMessage(MessageTypeConnect, map[string]any{
		"connection_id": conn.ID,
		"user_id":       userID,
		"tenant_id":     tenantID.String(),
		"status":        "connected",
	})
	_ = m.sendToConnection(conn.ID, ack)

	logging.Info().
		Str("connection_id", conn.ID).
		Int64("user_id", userID).
		Str("tenant_id", tenantID.String()).
		Msg("websocket connected")

	return conn.ID, nil
}

// Disconnect tears a connection down: it unwinds every registry index,
// stops bus listeners for channels left without subscribers, closes
// the transport and deletes persisted metadata. Idempotent; unknown
// ids and repeated calls are no-ops. This is the single teardown path —
// heartbeat eviction and transport failure both land here.
func (m *Manager) Disconnect(connectionID string) {
	conn, ok := m.registry.Get(connectionID)
	if !ok {
		return
	}
	if !conn.beginClose() {
		return
	}

	_, emptied := m.registry.Remove(connectionID)
	for _, channel := range emptied {
		m.bridge.StopSubscribed(channel)
	}

	_ = conn.transport.Close()
	m.removePersisted(connectionID)
	conn.markClosed()

	metrics.ConnectionsActive.Dec()
	logging.Info().Str("connection_id", connectionID).Msg("websocket disconnected")
}

// Subscribe adds a connection to a channel, ensures the bus listener
// exists and acknowledges to the client. Unknown ids are no-ops: the
// caller already lost the connection.
func (m *Manager) Subscribe(connectionID, channel string) {
	if !m.registry.AddSubscription(connectionID, channel) {
		return
	}

	if err := m.bridge.EnsureSubscribed(channel); err != nil {
		logging.Error().Err(err).Str("channel", channel).Msg("bus subscription failed")
	}

	_ = m.sendToConnection(connectionID, NewMessage(MessageTypeAck, map[string]any{
		"action":  "subscribe",
		"channel": channel,
		"status":  "success",
	}))

	logging.Info().Str("connection_id", connectionID).Str("channel", channel).Msg("subscribed to channel")
}

// Unsubscribe removes a connection from a channel, stops the bus
// listener when the last subscriber leaves and acknowledges to the
// client. Unknown ids are no-ops.
func (m *Manager) Unsubscribe(connectionID, channel string) {
	known, emptied := m.registry.RemoveSubscription(connectionID, channel)
	if !known {
		return
	}
	if emptied {
		m.bridge.StopSubscribed(channel)
	}

	_ = m.sendToConnection(connectionID, NewMessage(MessageTypeAck, map[string]any{
		"action":  "unsubscribe",
		"channel": channel,
		"status":  "success",
	}))

	logging.Info().Str("connection_id", connectionID).Str("channel", channel).Msg("unsubscribed from channel")
}

// HandleInbound processes one raw client frame. Malformed JSON earns an
// error frame and the connection stays open. Valid frames with a
// missing required field are dropped silently (observed legacy client
// behavior relies on this). Recognized frames dispatch to subscribe,
// unsubscribe or heartbeat handling.
func (m *Manager) HandleInbound(connectionID string, raw []byte) {
	if _, ok := m.registry.Get(connectionID); !ok {
		return
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		logging.Warn().Str("connection_id", connectionID).Msg("received malformed frame")
		m.sendError(connectionID, ErrorCodeInvalidJSON, "Invalid JSON format")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		channel, ok := msg.Channel()
		if !ok {
			logging.Debug().Str("connection_id", connectionID).Msg("subscribe frame without channel ignored")
			return
		}
		m.Subscribe(connectionID, channel)

	case MessageTypeUnsubscribe:
		channel, ok := msg.Channel()
		if !ok {
			logging.Debug().Str("connection_id", connectionID).Msg("unsubscribe frame without channel ignored")
			return
		}
		m.Unsubscribe(connectionID, channel)

	case MessageTypeHeartbeat:
		m.handleHeartbeat(connectionID)

	default:
		logging.Debug().Str("connection_id", connectionID).Str("type", string(msg.Type)).
			Msg("ignoring unexpected frame type")
	}
}

func (m *Manager) handleHeartbeat(connectionID string) {
	if !m.registry.Touch(connectionID, time.Now().UTC()) {
		return
	}
	_ = m.sendToConnection(connectionID, NewMessage(MessageTypeHeartbeat, map[string]any{
		"status": "alive",
	}))
}

// SendToUser delivers a notification to every connection of a user.
// Fan-out is best-effort: a transport failure tears down the failing
// connection and delivery continues to the rest.
func (m *Manager) SendToUser(userID int64, n Notification) {
	m.fanOut(m.registry.ConnectionsForUser(userID), n)
}

// SendToTenant delivers a notification to every connection in a tenant.
func (m *Manager) SendToTenant(tenantID uuid.UUID, n Notification) {
	m.fanOut(m.registry.ConnectionsForTenant(tenantID), n)
}

// SendToChannel delivers a notification to every subscriber of a channel.
func (m *Manager) SendToChannel(channel string, n Notification) {
	m.fanOut(m.registry.ConnectionsForChannel(channel), n)
}

func (m *Manager) fanOut(connectionIDs []string, n Notification) {
	if len(connectionIDs) == 0 {
		return
	}
	msg := n.envelope()
	for _, id := range connectionIDs {
		_ = m.sendToConnection(id, msg)
	}
}

// deliverFromBus is the bridge's fan-out hook. Delivery targets the
// channel the message arrived on, not the channel named inside the
// payload, so a mislabeled producer cannot cross channels. Scoping
// fields narrow delivery further: a tenant-scoped notification on a
// shared channel reaches only that tenant's subscribers, and likewise
// for user scoping.
func (m *Manager) deliverFromBus(channel string, n Notification) {
	ids := m.registry.ConnectionsForChannel(channel)
	if n.TenantID == nil && n.UserID == nil {
		m.fanOut(ids, n)
		return
	}

	scoped := ids[:0]
	for _, id := range ids {
		conn, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		if n.TenantID != nil && conn.TenantID != *n.TenantID {
			continue
		}
		if n.UserID != nil && conn.UserID != *n.UserID {
			continue
		}
		scoped = append(scoped, id)
	}
	m.fanOut(scoped, n)
}

// ConnectionsForUser exposes presence so producers can decide whether
// to queue a notification offline instead of publishing it.
func (m *Manager) ConnectionsForUser(userID int64) []string {
	return m.registry.ConnectionsForUser(userID)
}

// ManagerStats extends registry occupancy with the bridge's listener count.
type ManagerStats struct {
	Stats
	BusSubscriptions int `json:"bus_subscriptions"`
}

// Stats returns a read-only snapshot for the monitoring endpoint.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Stats:            m.registry.Stats(),
		BusSubscriptions: m.bridge.ActiveChannels(),
	}
}

// SendDirect delivers a notification to one connection, bypassing the
// bus. Used for replaying drained offline notifications on reconnect.
func (m *Manager) SendDirect(connectionID string, n Notification) error {
	return m.sendToConnection(connectionID, n.envelope())
}

// Close tears down every connection and stops all bus listeners. Used
// during graceful shutdown.
func (m *Manager) Close() {
	for _, id := range m.registry.AllIDs() {
		m.Disconnect(id)
	}
	m.bridge.Close()
}

// sendToConnection delivers one frame. Any transport failure is fatal
// to that connection: teardown is triggered immediately and the send
// is never retried.
func (m *Manager) sendToConnection(connectionID string, msg Message) error {
	conn, ok := m.registry.Get(connectionID)
	if !ok {
		return nil
	}

	if err := conn.transport.Send(msg); err != nil {
		metrics.SendFailures.Inc()
		logging.Error().Err(err).Str("connection_id", connectionID).Msg("transport send failed")
		m.Disconnect(connectionID)
		return err
	}

	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (m *Manager) sendError(connectionID, code, message string) {
	_ = m.sendToConnection(connectionID, NewMessage(MessageTypeError, map[string]any{
		"error_code": code,
		"message":    message,
	}))
}

// connectionRecord is the metadata persisted to the store on connect.
type connectionRecord struct {
	ConnectionID string    `json:"connection_id"`
	UserID       int64     `json:"user_id"`
	TenantID     string    `json:"tenant_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// persistConnection stores connection metadata for ops visibility.
// Best-effort: failure is logged and connect proceeds.
func (m *Manager) persistConnection(conn *Connection) {
	if m.store == nil {
		return
	}

	record, err := json.Marshal(connectionRecord{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		TenantID:     conn.TenantID.String(),
		ConnectedAt:  conn.ConnectedAt,
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode connection record")
		return
	}

	_, err = m.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		return nil, m.store.Set(ctx, connectionKeyPrefix+conn.ID, string(record), connectionPersistTTL)
	})
	if err != nil {
		logging.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to persist connection record")
	}
}

func (m *Manager) removePersisted(connectionID string) {
	if m.store == nil {
		return
	}

	_, err := m.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		return nil, m.store.Delete(ctx, connectionKeyPrefix+connectionID)
	})
	if err != nil {
		logging.Warn().Err(err).Str("connection_id", connectionID).Msg("failed to remove connection record")
	}
}
