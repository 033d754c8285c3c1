// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package bus abstracts the external publish/subscribe broker and the
// key/value store that the realtime service depends on.
//
// The service treats both as opaque collaborators: the Bus carries
// notifications between server processes, the Store holds best-effort
// connection metadata and the offline notification queue. Three
// backends are provided:
//
//   - Redis (production default, Bus + Store)
//   - NATS (Bus only, for sites already running NATS)
//   - Memory (Bus + Store, single-node deployments and tests)
package bus

import (
	"context"
	"errors"
	"time"
)

// SubscribeBuffer is the capacity of channels returned by Subscribe.
// A subscriber that falls this far behind starts losing messages;
// delivery is best-effort, not durable.
const SubscribeBuffer = 64

var (
	// ErrNotFound is returned by Store.Get when the key does not exist
	// or has expired.
	ErrNotFound = errors.New("bus: key not found")

	// ErrClosed is returned by operations on a closed Bus or Store.
	ErrClosed = errors.New("bus: closed")
)

// Bus is the publish/subscribe surface of the external broker.
type Bus interface {
	// Publish sends a payload to every subscriber of the channel.
	// Delivery is fire-and-forget; there is no per-subscriber ack.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a receive-only channel of payloads published
	// to the named channel after the call returns. The channel is
	// closed when ctx is canceled or the Bus is closed. Payloads that
	// arrive while the subscriber's buffer is full are dropped.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close releases broker resources and closes all subscriptions.
	Close() error
}

// Store is the narrow key/value surface used for connection metadata
// and the offline notification queue.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A non-zero ttl expires the key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Enqueue pushes value onto the list stored at key and refreshes
	// the list's ttl. Used for per-user offline notification queues.
	Enqueue(ctx context.Context, key, value string, ttl time.Duration) error

	// Drain returns every value in the list stored at key and deletes
	// the list. Returns an empty slice when the key is absent.
	Drain(ctx context.Context, key string) ([]string, error)
}
