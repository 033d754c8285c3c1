// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package notify is the producer side of the notification pipeline. It
// publishes domain events onto the pub/sub bus and maintains the
// offline queue for users with no live connection.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencecrm/realtime/internal/bus"
	"github.com/cadencecrm/realtime/internal/logging"
	"github.com/cadencecrm/realtime/internal/metrics"
	"github.com/cadencecrm/realtime/internal/realtime"
)

// OfflineQueueTTL bounds how long undelivered notifications wait for a
// user to reconnect.
const OfflineQueueTTL = 24 * time.Hour

const offlineKeyPrefix = "offline_notifications:"

// Event types produced by the CRM.
const (
	EventActivityCreated = "activity_created"
	EventCallStarted     = "call_started"
	EventCallEnded       = "call_ended"
	EventContactUpdated  = "contact_updated"
	EventDealUpdated     = "deal_updated"
	EventAnnouncement    = "announcement"
)

// Presence answers whether a user currently has live connections on
// this node. Satisfied by *realtime.Manager.
type Presence interface {
	ConnectionsForUser(userID int64) []string
}

// Service publishes notifications. Producers never talk to connections
// directly; everything goes through the bus so every node's subscribers
// see the event.
type Service struct {
	bus      bus.Bus
	store    bus.Store
	presence Presence
}

// NewService wires a producer. store may be nil, which disables the
// offline queue. presence may be nil, which disables the online check
// and always publishes.
func NewService(b bus.Bus, store bus.Store, presence Presence) *Service {
	return &Service{bus: b, store: store, presence: presence}
}

// Publish sends a notification to its channel on the bus.
func (s *Service) Publish(ctx context.Context, n realtime.Notification) error {
	payload, err := n.Encode()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.bus.Publish(ctx, n.Channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", n.Channel, err)
	}
	return nil
}

// NotifyUser delivers an event to one user. Online users get it through
// their notification channel; users with no live connection get it
// queued for replay on their next connect.
func (s *Service) NotifyUser(ctx context.Context, userID int64, tenantID uuid.UUID, eventType string, data map[string]any) error {
	n := realtime.NewNotification(eventType, realtime.UserNotificationChannel(userID), data)
	n.UserID = &userID
	n.TenantID = &tenantID

	if s.presence != nil && s.store != nil && len(s.presence.ConnectionsForUser(userID)) == 0 {
		return s.queueOffline(ctx, userID, n)
	}
	return s.Publish(ctx, n)
}

// BroadcastTenant delivers an event to every connected member of a
// tenant. The notification rides the shared broadcast channel with a
// tenant scope, so only that tenant's connections receive it.
func (s *Service) BroadcastTenant(ctx context.Context, tenantID uuid.UUID, eventType string, data map[string]any) error {
	n := realtime.NewNotification(eventType, realtime.TenantBroadcastChannel, data)
	n.TenantID = &tenantID
	return s.Publish(ctx, n)
}

// queueOffline appends the notification to the user's offline queue.
func (s *Service) queueOffline(ctx context.Context, userID int64, n realtime.Notification) error {
	payload, err := n.Encode()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.store.Enqueue(ctx, offlineKey(userID), string(payload), OfflineQueueTTL); err != nil {
		return fmt.Errorf("queue offline for user %d: %w", userID, err)
	}

	metrics.OfflineNotificationsQueued.Inc()
	logging.Debug().Int64("user_id", userID).Str("type", n.Type).Msg("notification queued offline")
	return nil
}

// DrainOffline removes and returns the user's queued notifications,
// oldest first. Notifications scoped to a different tenant are dropped
// rather than returned; the queue key is per-user, and a user moved
// between tenants must not replay the old tenant's events.
func (s *Service) DrainOffline(ctx context.Context, userID int64, tenantID uuid.UUID) ([]realtime.Notification, error) {
	if s.store == nil {
		return nil, nil
	}

	values, err := s.store.Drain(ctx, offlineKey(userID))
	if err != nil {
		return nil, fmt.Errorf("drain offline for user %d: %w", userID, err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	// Drain returns newest-first; replay oldest-first.
	out := make([]realtime.Notification, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		n, err := realtime.DecodeNotification([]byte(values[i]))
		if err != nil {
			logging.Warn().Err(err).Int64("user_id", userID).Msg("dropping undecodable offline notification")
			continue
		}
		if n.TenantID != nil && *n.TenantID != tenantID {
			logging.Warn().Int64("user_id", userID).Msg("dropping offline notification from another tenant")
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func offlineKey(userID int64) string {
	return fmt.Sprintf("%s%d", offlineKeyPrefix, userID)
}
