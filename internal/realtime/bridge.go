// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/cadencecrm/realtime/internal/bus"
	"github.com/cadencecrm/realtime/internal/logging"
	"github.com/cadencecrm/realtime/internal/metrics"
)

// DeliverFunc hands a decoded bus notification to the local fan-out
// path for a channel.
type DeliverFunc func(channel string, n Notification)

// Bridge multiplexes one bus subscription per actively-watched channel,
// regardless of how many local connections subscribe to it. Listener
// goroutines are owned and tracked here, keyed by channel name, with
// atomic test-and-set semantics so racing first subscribers cannot
// start two listeners.
type Bridge struct {
	bus     bus.Bus
	deliver DeliverFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[string]*busListener
	wg        sync.WaitGroup
}

type busListener struct {
	cancel context.CancelFunc
}

// NewBridge creates a bridge that fans bus messages out through
// deliver. Close stops every listener.
func NewBridge(b bus.Bus, deliver DeliverFunc) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		bus:       b,
		deliver:   deliver,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]*busListener),
	}
}

// EnsureSubscribed starts a bus listener for the channel if none is
// running. Idempotent: multiple connections racing to be the first
// subscriber resolve to a single listener.
func (b *Bridge) EnsureSubscribed(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, running := b.listeners[channel]; running {
		return nil
	}

	listenerCtx, cancel := context.WithCancel(b.ctx)
	msgs, err := b.bus.Subscribe(listenerCtx, channel)
	if err != nil {
		cancel()
		return fmt.Errorf("ensure subscribed to %s: %w", channel, err)
	}

	l := &busListener{cancel: cancel}
	b.listeners[channel] = l
	metrics.BusSubscriptionsActive.Set(float64(len(b.listeners)))

	b.wg.Add(1)
	go b.run(channel, l, msgs)

	logging.Info().Str("channel", channel).Msg("bus listener started")
	return nil
}

// StopSubscribed cancels the channel's listener. The manager calls
// this exactly when the channel index becomes empty, not on every
// unsubscribe. Stopping an unknown channel is a no-op.
func (b *Bridge) StopSubscribed(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.listeners[channel]
	if !ok {
		return
	}
	l.cancel()
	delete(b.listeners, channel)
	metrics.BusSubscriptionsActive.Set(float64(len(b.listeners)))

	logging.Info().Str("channel", channel).Msg("bus listener stopped")
}

// run drains one channel's bus subscription until it is stopped or the
// bus closes the message channel. Decode failures are logged and
// skipped; they never terminate the loop. When the loop exits for any
// other reason than StopSubscribed, the listener entry is reaped so
// the next subscribe restarts it.
func (b *Bridge) run(channel string, l *busListener, msgs <-chan []byte) {
	defer b.wg.Done()
	defer b.reap(channel, l)

	for payload := range msgs {
		metrics.BusMessagesReceived.Inc()

		n, err := DecodeNotification(payload)
		if err != nil {
			metrics.BusDecodeFailures.Inc()
			logging.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable bus message")
			continue
		}

		b.deliver(channel, n)
	}
}

// reap removes the listener entry after its loop ends, unless a newer
// listener has already replaced it.
func (b *Bridge) reap(channel string, l *busListener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.listeners[channel]; ok && current == l {
		delete(b.listeners, channel)
		metrics.BusSubscriptionsActive.Set(float64(len(b.listeners)))
		logging.Warn().Str("channel", channel).Msg("bus listener exited; will restart on next subscribe")
	}
}

// Watching reports whether the channel currently has a listener.
func (b *Bridge) Watching(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.listeners[channel]
	return ok
}

// ActiveChannels returns the number of channels with a running listener.
func (b *Bridge) ActiveChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Close cancels every listener and waits for their loops to drain.
func (b *Bridge) Close() {
	b.cancel()

	b.mu.Lock()
	for channel, l := range b.listeners {
		l.cancel()
		delete(b.listeners, channel)
	}
	metrics.BusSubscriptionsActive.Set(0)
	b.mu.Unlock()

	b.wg.Wait()
}
