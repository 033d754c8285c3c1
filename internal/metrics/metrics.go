// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package metrics provides Prometheus instrumentation for the realtime
// service: connection lifecycle, frame delivery, heartbeat eviction and
// bus fan-out. Channel names are deliberately not used as label values;
// per-contact channels would blow up cardinality.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection lifecycle

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Current number of live WebSocket connections",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
	)

	HeartbeatEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_heartbeat_evictions_total",
			Help: "Connections evicted by the heartbeat monitor",
		},
	)

	// Frame delivery

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Frames delivered to clients, by frame type",
		},
		[]string{"type"},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Transport send failures (each one tears down its connection)",
		},
	)

	// Bus bridge

	BusSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_bus_subscriptions_active",
			Help: "Channels with an active bus listener",
		},
	)

	BusMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_bus_messages_received_total",
			Help: "Messages received from the pub/sub bus",
		},
	)

	BusDecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_bus_decode_failures_total",
			Help: "Bus messages dropped because they failed to decode",
		},
	)

	// Offline queue

	OfflineNotificationsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_offline_notifications_queued_total",
			Help: "Notifications queued for users with no live connection",
		},
	)
)
