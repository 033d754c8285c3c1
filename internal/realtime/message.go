// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package realtime

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MessageType identifies the kind of frame on the wire.
type MessageType string

// Frame types. Clients send subscribe, unsubscribe and heartbeat; the
// server emits the rest.
const (
	MessageTypeConnect      MessageType = "connect"
	MessageTypeDisconnect   MessageType = "disconnect"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypeNotification MessageType = "notification"
	MessageTypeHeartbeat    MessageType = "heartbeat"
	MessageTypeError        MessageType = "error"
	MessageTypeAck          MessageType = "ack"
)

// Error codes carried in error frames.
const (
	ErrorCodeInvalidJSON = "invalid_json"
)

// Message is the JSON envelope for every frame in both directions.
// The payload is schema-agnostic; the service routes it without
// interpreting its contents.
type Message struct {
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	MessageID string         `json:"message_id,omitempty"`
}

// NewMessage builds a frame stamped with the current time.
func NewMessage(t MessageType, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes the frame to JSON.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a raw client frame. Malformed JSON is the only
// decode error; missing fields are left to the caller (the manager
// ignores semantically invalid frames).
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m, nil
}

// Channel extracts the required channel field from a subscribe or
// unsubscribe frame. Returns false when the field is absent or not a
// non-empty string.
func (m Message) Channel() (string, bool) {
	ch, ok := m.Data["channel"].(string)
	if !ok || ch == "" {
		return "", false
	}
	return ch, true
}

// Notification is the payload produced by notification producers and
// carried on the bus. It is addressed to a channel and optionally
// scoped to a user and/or tenant.
type Notification struct {
	Type      string         `json:"type"`
	Channel   string         `json:"channel"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    *int64         `json:"user_id,omitempty"`
	TenantID  *uuid.UUID     `json:"tenant_id,omitempty"`
}

// NewNotification builds a notification stamped with the current time.
func NewNotification(typ, channel string, data map[string]any) Notification {
	if data == nil {
		data = map[string]any{}
	}
	return Notification{
		Type:      typ,
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes the notification to JSON for publishing.
func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotification parses a bus payload.
func DecodeNotification(raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	return n, nil
}

// envelope wraps a notification into the frame delivered to clients.
func (n Notification) envelope() Message {
	data := map[string]any{
		"type":      n.Type,
		"channel":   n.Channel,
		"data":      n.Data,
		"timestamp": n.Timestamp,
	}
	if n.UserID != nil {
		data["user_id"] = *n.UserID
	}
	if n.TenantID != nil {
		data["tenant_id"] = n.TenantID.String()
	}
	return NewMessage(MessageTypeNotification, data)
}
