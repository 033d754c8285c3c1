// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cadencecrm/realtime/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	// ErrSendBufferFull reports a client that cannot keep up with its
	// outbound queue. The manager treats it as a transport failure.
	ErrSendBufferFull = errors.New("realtime: send buffer full")

	// ErrTransportClosed reports a send on a transport that has
	// already shut down.
	ErrTransportClosed = errors.New("realtime: transport closed")
)

// Transport is the outbound side of one client session. Send must
// never block the caller indefinitely: a slow client fails fast so a
// fan-out is never stalled by one recipient.
type Transport interface {
	Send(msg Message) error
	Close() error
}

// WSTransport implements Transport over a gorilla WebSocket
// connection. Frames are queued on a bounded channel and written by a
// single pump goroutine with a write deadline; protocol-level pings
// keep intermediaries from idling out the TCP connection.
type WSTransport struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

// NewWSTransport wraps an upgraded WebSocket connection and starts its
// write pump. buffer is the outbound queue depth per connection.
func NewWSTransport(conn *websocket.Conn, buffer int) *WSTransport {
	if buffer <= 0 {
		buffer = 256
	}
	t := &WSTransport{
		conn: conn,
		send: make(chan Message, buffer),
		done: make(chan struct{}),
	}
	go t.writePump()
	return t
}

// Send queues a frame for delivery. Returns ErrSendBufferFull when the
// client has fallen behind and ErrTransportClosed after Close.
func (t *WSTransport) Send(msg Message) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the transport down. Safe to call multiple times; the
// write pump sends a close frame and closes the underlying connection.
func (t *WSTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// writePump drains the send queue onto the wire. A write error stops
// the pump; the manager observes the dead transport on the next Send
// or when the read loop fails.
func (t *WSTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case <-t.done:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-t.send:
			payload, err := msg.Encode()
			if err != nil {
				logging.Error().Err(err).Msg("failed to encode outbound frame")
				continue
			}
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.fail(err)
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				t.fail(err)
				return
			}

		case <-ticker.C:
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.fail(err)
				return
			}
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.fail(err)
				return
			}
		}
	}
}

func (t *WSTransport) fail(err error) {
	logging.Debug().Err(err).Msg("websocket write failed")
	t.once.Do(func() { close(t.done) })
}
