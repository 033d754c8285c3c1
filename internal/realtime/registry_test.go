// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestConnection(t *testing.T, userID int64, tenantID uuid.UUID) *Connection {
	t.Helper()
	return newConnection(newConnectionID(userID), userID, tenantID, newFakeTransport())
}

func TestRegistryAddIndexesUserAndTenant(t *testing.T) {
	r := NewRegistry()
	tenant := uuid.New()

	conn := newTestConnection(t, 42, tenant)
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := r.ConnectionsForUser(42); len(got) != 1 || got[0] != conn.ID {
		t.Errorf("ConnectionsForUser(42) = %v, want [%s]", got, conn.ID)
	}
	if got := r.ConnectionsForTenant(tenant); len(got) != 1 || got[0] != conn.ID {
		t.Errorf("ConnectionsForTenant() = %v, want [%s]", got, conn.ID)
	}
}

func TestRegistryAddDuplicateID(t *testing.T) {
	r := NewRegistry()
	tenant := uuid.New()

	conn := newTestConnection(t, 1, tenant)
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	dup := newConnection(conn.ID, 1, tenant, newFakeTransport())
	if err := r.Add(dup); err != ErrConnectionExists {
		t.Errorf("Add(duplicate) error = %v, want ErrConnectionExists", err)
	}

	if got := r.Stats().TotalConnections; got != 1 {
		t.Errorf("TotalConnections = %d, want 1", got)
	}
}

func TestRegistryRemovePrunesAllIndices(t *testing.T) {
	r := NewRegistry()
	tenant := uuid.New()

	a := newTestConnection(t, 7, tenant)
	b := newTestConnection(t, 7, tenant)
	for _, conn := range []*Connection{a, b} {
		if err := r.Add(conn); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	r.AddSubscription(a.ID, "deals:updates")
	r.AddSubscription(b.ID, "deals:updates")
	r.AddSubscription(a.ID, "calls:live")

	removed, emptied := r.Remove(a.ID)
	if removed == nil || removed.ID != a.ID {
		t.Fatalf("Remove() returned %v, want connection %s", removed, a.ID)
	}
	// calls:live had only one subscriber; deals:updates still has b.
	if len(emptied) != 1 || emptied[0] != "calls:live" {
		t.Errorf("Remove() emptied = %v, want [calls:live]", emptied)
	}

	if got := r.ConnectionsForUser(7); len(got) != 1 || got[0] != b.ID {
		t.Errorf("ConnectionsForUser(7) = %v, want [%s]", got, b.ID)
	}
	if got := r.ConnectionsForChannel("deals:updates"); len(got) != 1 || got[0] != b.ID {
		t.Errorf("ConnectionsForChannel(deals:updates) = %v, want [%s]", got, b.ID)
	}
	if got := r.ConnectionsForChannel("calls:live"); got != nil {
		t.Errorf("ConnectionsForChannel(calls:live) = %v, want nil", got)
	}

	// Last connection for the user and tenant clears those indices too.
	r.Remove(b.ID)
	stats := r.Stats()
	if stats.TotalConnections != 0 || stats.UsersConnected != 0 || stats.TenantsActive != 0 || stats.ActiveChannels != 0 {
		t.Errorf("Stats() after full removal = %+v, want all zero", stats)
	}
}

func TestRegistryRemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	conn, emptied := r.Remove("nope")
	if conn != nil || emptied != nil {
		t.Errorf("Remove(unknown) = (%v, %v), want (nil, nil)", conn, emptied)
	}
}

func TestRegistrySubscriptionLifecycle(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnection(t, 3, uuid.New())
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if !r.AddSubscription(conn.ID, "deals:updates") {
		t.Fatal("AddSubscription() = false, want true")
	}
	// Subscribing twice is a no-op.
	if !r.AddSubscription(conn.ID, "deals:updates") {
		t.Fatal("AddSubscription(repeat) = false, want true")
	}
	if got := r.Subscriptions(conn.ID); len(got) != 1 {
		t.Errorf("Subscriptions() = %v, want one channel", got)
	}

	known, emptied := r.RemoveSubscription(conn.ID, "deals:updates")
	if !known || !emptied {
		t.Errorf("RemoveSubscription() = (%v, %v), want (true, true)", known, emptied)
	}

	// Removing a never-subscribed channel: known, not emptied.
	known, emptied = r.RemoveSubscription(conn.ID, "absent")
	if !known || emptied {
		t.Errorf("RemoveSubscription(absent) = (%v, %v), want (true, false)", known, emptied)
	}

	if r.AddSubscription("ghost", "deals:updates") {
		t.Error("AddSubscription(unknown conn) = true, want false")
	}
}

func TestRegistryStaleAndTouch(t *testing.T) {
	r := NewRegistry()
	conn := newTestConnection(t, 9, uuid.New())
	if err := r.Add(conn); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Fresh connection is not stale against a past threshold.
	past := time.Now().UTC().Add(-time.Minute)
	if got := r.Stale(past); got != nil {
		t.Errorf("Stale(past) = %v, want nil", got)
	}

	// Against a future threshold it is.
	future := time.Now().UTC().Add(time.Minute)
	if got := r.Stale(future); len(got) != 1 || got[0] != conn.ID {
		t.Errorf("Stale(future) = %v, want [%s]", got, conn.ID)
	}

	// Touch moves it past the threshold again.
	if !r.Touch(conn.ID, time.Now().UTC().Add(2*time.Minute)) {
		t.Fatal("Touch() = false, want true")
	}
	if got := r.Stale(future); got != nil {
		t.Errorf("Stale after Touch = %v, want nil", got)
	}

	if r.Touch("ghost", time.Now()) {
		t.Error("Touch(unknown) = true, want false")
	}
}

func TestConnectionStateTransitions(t *testing.T) {
	conn := newTestConnection(t, 1, uuid.New())

	if got := conn.State(); got != StateHandshaking {
		t.Fatalf("initial state = %v, want handshaking", got)
	}

	conn.markConnected()
	if got := conn.State(); got != StateConnected {
		t.Fatalf("state after markConnected = %v, want connected", got)
	}

	if !conn.beginClose() {
		t.Fatal("beginClose() = false, want true")
	}
	if conn.beginClose() {
		t.Fatal("beginClose() second call = true, want false")
	}

	conn.markClosed()
	if got := conn.State(); got != StateClosed {
		t.Fatalf("state after markClosed = %v, want closed", got)
	}
	if conn.beginClose() {
		t.Fatal("beginClose() after close = true, want false")
	}
}
