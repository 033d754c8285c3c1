// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/cadencecrm/realtime/internal/logging"
)

// Memory implements Bus and Store in process memory. It backs
// single-node deployments that run without Redis or NATS, and it is
// the default collaborator in tests.
//
// Expired keys are reaped lazily on access; there is no janitor
// goroutine.
type Memory struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]map[*memorySub]struct{}
	kv     map[string]memoryEntry
	queues map[string]memoryQueue
}

type memorySub struct {
	out chan []byte
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryQueue struct {
	values    []string
	expiresAt time.Time
}

// NewMemory creates an empty in-process bus and store.
func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		kv:     make(map[string]memoryEntry),
		queues: make(map[string]memoryQueue),
	}
}

// Publish implements Bus. Delivery happens under the mutex so that a
// send can never race the close in removeSub or Close; sends are
// non-blocking, so the lock is never held waiting on a full buffer.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[channel] {
		select {
		case sub.out <- payload:
		default:
			logging.Warn().Str("channel", channel).Msg("subscriber buffer full, dropping bus message")
		}
	}
	return nil
}

// Subscribe implements Bus.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &memorySub{out: make(chan []byte, SubscribeBuffer)}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySub]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.removeSub(channel, sub)
	}()

	return sub.out, nil
}

func (m *Memory) removeSub(channel string, sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.subs[channel]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			close(sub.out)
		}
		if len(set) == 0 {
			delete(m.subs, channel)
		}
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.kv, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.kv[key] = entry
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

// Enqueue implements Store.
func (m *Memory) Enqueue(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[key]
	if !q.expiresAt.IsZero() && time.Now().After(q.expiresAt) {
		q = memoryQueue{}
	}
	q.values = append(q.values, value)
	if ttl > 0 {
		q.expiresAt = time.Now().Add(ttl)
	}
	m.queues[key] = q
	return nil
}

// Drain implements Store. Values are returned newest-first to match
// the LPUSH/LRANGE ordering of the Redis backend.
func (m *Memory) Drain(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[key]
	delete(m.queues, key)
	if !ok || (!q.expiresAt.IsZero() && time.Now().After(q.expiresAt)) {
		return nil, nil
	}

	out := make([]string, len(q.values))
	for i, v := range q.values {
		out[len(q.values)-1-i] = v
	}
	return out, nil
}

// Close implements Bus.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for channel, set := range m.subs {
		for sub := range set {
			close(sub.out)
		}
		delete(m.subs, channel)
	}
	return nil
}
