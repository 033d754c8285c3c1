// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"context"
	"time"

	"github.com/cadencecrm/realtime/internal/logging"
	"github.com/cadencecrm/realtime/internal/metrics"
)

// Default heartbeat parameters, matching the client contract: clients
// are expected to send an application-level heartbeat frame well
// within the timeout window.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 2 * time.Minute
)

// Evictor is the teardown path the monitor invokes for a timed-out
// connection. Satisfied by *Manager; eviction always goes through the
// same teardown used for explicit disconnect so bus subscriptions are
// released correctly.
type Evictor interface {
	Disconnect(connectionID string)
}

// Monitor periodically scans the registry for connections whose last
// heartbeat is older than the timeout and evicts them. It runs as one
// supervised service per process; the supervisor restarts it if it
// ever fails.
type Monitor struct {
	registry *Registry
	evictor  Evictor
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor creates a heartbeat monitor. Zero durations fall back to
// the defaults (30s interval, 2m timeout).
func NewMonitor(registry *Registry, evictor Evictor, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Monitor{
		registry: registry,
		evictor:  evictor,
		interval: interval,
		timeout:  timeout,
	}
}

// Serve implements suture.Service. Blocks until ctx is canceled.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.scan()
		}
	}
}

// scan evicts every connection whose heartbeat predates the threshold.
// A failure evicting one connection never aborts the rest of the scan.
func (m *Monitor) scan() {
	threshold := time.Now().UTC().Add(-m.timeout)

	for _, id := range m.registry.Stale(threshold) {
		logging.Warn().Str("connection_id", id).Msg("connection heartbeat timed out")
		m.evict(id)
	}
}

func (m *Monitor) evict(connectionID string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("connection_id", connectionID).
				Msg("eviction panicked; continuing scan")
		}
	}()

	m.evictor.Disconnect(connectionID)
	metrics.HeartbeatEvictions.Inc()
}

// String implements fmt.Stringer for supervisor logging.
func (m *Monitor) String() string {
	return "heartbeat-monitor"
}
