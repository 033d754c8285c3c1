// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of a connection. Transitions only move
// forward; Closed is terminal.
type State int32

const (
	StateHandshaking State = iota
	StateConnected
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one authenticated client's live session. It is owned
// by the Manager for its lifetime and referenced (never owned) by the
// Registry indices. A connection belongs to exactly one user and one
// tenant from handshake to teardown.
//
// lastHeartbeat and subscriptions are guarded by the Registry mutex;
// everything else is immutable after construction except state.
type Connection struct {
	ID          string
	UserID      int64
	TenantID    uuid.UUID
	ConnectedAt time.Time

	transport Transport
	state     atomic.Int32

	lastHeartbeat time.Time
	subscriptions map[string]struct{}
}

func newConnection(id string, userID int64, tenantID uuid.UUID, t Transport) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:            id,
		UserID:        userID,
		TenantID:      tenantID,
		ConnectedAt:   now,
		transport:     t,
		lastHeartbeat: now,
		subscriptions: make(map[string]struct{}),
	}
}

// State returns the current lifecycle phase.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// markConnected completes the handshake.
func (c *Connection) markConnected() {
	c.state.CompareAndSwap(int32(StateHandshaking), int32(StateConnected))
}

// beginClose moves the connection into Closing. Returns false when the
// connection is already closing or closed, making teardown idempotent.
func (c *Connection) beginClose() bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosing || State(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosing)) {
			return true
		}
	}
}

// markClosed finishes teardown. No transition leaves Closed.
func (c *Connection) markClosed() {
	c.state.Store(int32(StateClosed))
}

// newConnectionID combines the user id with a random suffix so that
// ids never collide across a user's concurrent sessions and are never
// reused after teardown.
func newConnectionID(userID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%s", userID, suffix)
}
