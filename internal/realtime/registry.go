// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConnectionExists reports a duplicate connection id on Add. Ids are
// generated to avoid collision, so this indicates a bug upstream; the
// registry rejects the insert and keeps the existing entry intact.
var ErrConnectionExists = errors.New("realtime: connection id already registered")

// Registry is the in-memory bookkeeping of live connections. Besides
// the connection set it maintains three derived indices — by user, by
// tenant and by channel — that are kept consistent with the set as a
// side effect of every mutation. Empty index entries are always pruned.
//
// All methods are safe for concurrent use; a single mutex guards every
// map. Query methods return snapshots so callers may iterate while the
// registry mutates.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*Connection
	byUser    map[int64]map[string]struct{}
	byTenant  map[uuid.UUID]map[string]struct{}
	byChannel map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		byUser:    make(map[int64]map[string]struct{}),
		byTenant:  make(map[uuid.UUID]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
	}
}

// Add inserts a connection and indexes it by user and tenant.
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return ErrConnectionExists
	}

	r.conns[conn.ID] = conn

	if r.byUser[conn.UserID] == nil {
		r.byUser[conn.UserID] = make(map[string]struct{})
	}
	r.byUser[conn.UserID][conn.ID] = struct{}{}

	if r.byTenant[conn.TenantID] == nil {
		r.byTenant[conn.TenantID] = make(map[string]struct{})
	}
	r.byTenant[conn.TenantID][conn.ID] = struct{}{}

	return nil
}

// Remove deletes a connection and every index entry referencing it.
// Returns the removed connection plus the channels whose index entry
// became empty (the caller releases their bus subscriptions). Removing
// an unknown id is a no-op returning nil.
func (r *Registry) Remove(connectionID string) (*Connection, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return nil, nil
	}

	delete(r.conns, connectionID)

	if set, ok := r.byUser[conn.UserID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	if set, ok := r.byTenant[conn.TenantID]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.byTenant, conn.TenantID)
		}
	}

	var emptied []string
	for channel := range conn.subscriptions {
		if set, ok := r.byChannel[channel]; ok {
			delete(set, connectionID)
			if len(set) == 0 {
				delete(r.byChannel, channel)
				emptied = append(emptied, channel)
			}
		}
	}

	return conn, emptied
}

// AddSubscription records a channel subscription on both the
// connection and the channel index. Returns false for an unknown
// connection id; subscribing twice is a no-op returning true.
func (r *Registry) AddSubscription(connectionID, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return false
	}

	conn.subscriptions[channel] = struct{}{}
	if r.byChannel[channel] == nil {
		r.byChannel[channel] = make(map[string]struct{})
	}
	r.byChannel[channel][connectionID] = struct{}{}
	return true
}

// RemoveSubscription drops a channel subscription. known is false for
// an unknown connection id; emptied is true when the channel index
// entry was removed because this was its last subscriber.
func (r *Registry) RemoveSubscription(connectionID, channel string) (known, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return false, false
	}

	delete(conn.subscriptions, channel)
	if set, ok := r.byChannel[channel]; ok {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.byChannel, channel)
			emptied = true
		}
	}
	return true, emptied
}

// Get returns the connection for an id.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// Touch updates a connection's last-heartbeat timestamp.
func (r *Registry) Touch(connectionID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	conn.lastHeartbeat = at
	return true
}

// Stale returns the ids of every connection whose last heartbeat is
// older than threshold.
func (r *Registry) Stale(threshold time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, conn := range r.conns {
		if conn.lastHeartbeat.Before(threshold) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ConnectionsForUser returns a snapshot of the user's connection ids.
func (r *Registry) ConnectionsForUser(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotSet(r.byUser[userID])
}

// ConnectionsForTenant returns a snapshot of the tenant's connection ids.
func (r *Registry) ConnectionsForTenant(tenantID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotSet(r.byTenant[tenantID])
}

// ConnectionsForChannel returns a snapshot of the channel's subscriber ids.
func (r *Registry) ConnectionsForChannel(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotSet(r.byChannel[channel])
}

// Subscriptions returns a snapshot of a connection's subscribed
// channels, or nil for an unknown id.
func (r *Registry) Subscriptions(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return nil
	}
	return snapshotSet(conn.subscriptions)
}

// Stats is a read-only snapshot of registry occupancy.
type Stats struct {
	TotalConnections int `json:"total_connections"`
	UsersConnected   int `json:"users_connected"`
	TenantsActive    int `json:"tenants_active"`
	ActiveChannels   int `json:"active_channels"`
}

// Stats returns current occupancy counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		TotalConnections: len(r.conns),
		UsersConnected:   len(r.byUser),
		TenantsActive:    len(r.byTenant),
		ActiveChannels:   len(r.byChannel),
	}
}

// AllIDs returns a snapshot of every live connection id.
func (r *Registry) AllIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

func snapshotSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
