// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package realtime implements the WebSocket connection manager and its
// pub/sub fan-out bridge.
//
// The package is organized around four components:
//
//   - Registry: in-memory bookkeeping of live connections and the
//     derived user/tenant/channel indices. Pure data structure, no I/O.
//   - Monitor: background loop that evicts connections whose last
//     heartbeat is older than the configured timeout.
//   - Bridge: one bus listener per actively-watched channel, decoding
//     inbound bus messages and fanning them out to local subscribers.
//   - Manager: the orchestrator. Accepts connections, routes inbound
//     client frames, and exposes the SendToUser / SendToTenant /
//     SendToChannel delivery API used by notification producers.
//
// A Manager is an explicit value constructed once at startup and passed
// to handlers and background services; there is no package-level
// singleton.
package realtime
