// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cadencecrm/realtime/internal/logging"
)

// NATSConfig holds connection settings for the NATS backend.
type NATSConfig struct {
	URL string

	// Name identifies this client in NATS monitoring output.
	Name string

	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait time.Duration
}

// NATS implements Bus on a NATS connection. It does not implement
// Store; deployments that pick NATS run without connection-metadata
// persistence and without the offline queue.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Name == "" {
		cfg.Name = "cadence-realtime"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logging.Info().Str("url", conn.ConnectedUrl()).Msg("nats bus connected")
	return &NATS{conn: conn}, nil
}

// Publish implements Bus.
func (n *NATS) Publish(_ context.Context, channel string, payload []byte) error {
	if n.conn.IsClosed() {
		return ErrClosed
	}
	if err := n.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus. The returned channel closes when ctx is
// canceled or the connection is closed.
//
// The NATS handler runs on the library's dispatch goroutine and may
// still be in flight when Unsubscribe returns, so it never touches the
// returned channel directly: it writes into an inbox that is never
// closed, and a forwarding goroutine is the sole owner and closer of
// the output channel.
func (n *NATS) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if n.conn.IsClosed() {
		return nil, ErrClosed
	}

	inbox := make(chan []byte, SubscribeBuffer)

	sub, err := n.conn.Subscribe(channel, func(msg *nats.Msg) {
		select {
		case inbox <- msg.Data:
		default:
			logging.Warn().Str("channel", channel).Msg("subscriber buffer full, dropping bus message")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, SubscribeBuffer)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				if err := sub.Unsubscribe(); err != nil && !n.conn.IsClosed() {
					logging.Warn().Err(err).Str("channel", channel).Msg("nats unsubscribe failed")
				}
				return
			case data := <-inbox:
				select {
				case out <- data:
				default:
					logging.Warn().Str("channel", channel).Msg("subscriber buffer full, dropping bus message")
				}
			}
		}
	}()

	return out, nil
}

// Close implements Bus. Drain flushes buffered outbound messages
// before closing the connection.
func (n *NATS) Close() error {
	if n.conn.IsClosed() {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
