// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()

	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisStoreRoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "ws_connection:42_abc", `{"user_id":42}`, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := r.Get(ctx, "ws_connection:42_abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `{"user_id":42}` {
		t.Errorf("Get = %q, want stored value", got)
	}

	if err := r.Delete(ctx, "ws_connection:42_abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(ctx, "ws_connection:42_abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestRedisGetMissingKey(t *testing.T) {
	r := newTestRedis(t)

	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing key = %v, want ErrNotFound", err)
	}
}

func TestRedisEnqueueDrain(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	key := "offline_notifications:7"

	for _, v := range []string{"first", "second", "third"} {
		if err := r.Enqueue(ctx, key, v, time.Hour); err != nil {
			t.Fatalf("Enqueue(%q): %v", v, err)
		}
	}

	got, err := r.Drain(ctx, key)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	// LPUSH prepends, so LRANGE returns newest-first.
	want := []string{"third", "second", "first"}
	if len(got) != len(want) {
		t.Fatalf("Drain returned %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Queue is gone after drain.
	again, err := r.Drain(ctx, key)
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Drain returned %d values, want 0", len(again))
	}
}

func TestRedisPublishSubscribe(t *testing.T) {
	r := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := r.Subscribe(ctx, "tenant:broadcast")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := r.Publish(ctx, "tenant:broadcast", []byte(`{"type":"deal_won"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-msgs:
		if string(got) != `{"type":"deal_won"}` {
			t.Errorf("received %q, want published payload", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
	}
}

func TestRedisSubscribeClosesOnCancel(t *testing.T) {
	r := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := r.Subscribe(ctx, "calls")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-msgs:
		if ok {
			t.Error("expected closed channel after cancel, got message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after context cancel")
	}
}

func TestRedisClosedRejectsOperations(t *testing.T) {
	r := newTestRedis(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := r.Publish(context.Background(), "c", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if _, err := r.Subscribe(context.Background(), "c"); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}
