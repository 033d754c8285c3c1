// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := m.Subscribe(ctx, "tenant:broadcast")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := m.Subscribe(ctx, "tenant:broadcast")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := m.Publish(ctx, "tenant:broadcast", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, ch := range map[string]<-chan []byte{"a": a, "b": b} {
		select {
		case got := <-ch:
			if string(got) != "hello" {
				t.Errorf("subscriber %s received %q", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive message", name)
		}
	}
}

func TestMemoryPublishNoSubscribers(t *testing.T) {
	m := NewMemory()
	if err := m.Publish(context.Background(), "empty", []byte("x")); err != nil {
		t.Errorf("Publish with no subscribers = %v, want nil", err)
	}
}

func TestMemorySubscribeClosesOnCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := m.Subscribe(ctx, "calls")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-msgs:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got, err := m.Get(ctx, "k"); err != nil || got != "v" {
		t.Fatalf("Get before expiry = (%q, %v)", got, err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryEnqueueDrainOrdering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"first", "second", "third"} {
		if err := m.Enqueue(ctx, "q", v, time.Hour); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	got, err := m.Drain(ctx, "q")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(got) != len(want) {
		t.Fatalf("Drain returned %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if again, _ := m.Drain(ctx, "q"); len(again) != 0 {
		t.Errorf("second Drain returned %d values, want 0", len(again))
	}
}

// Publishes must never land on a channel a concurrent cancellation is
// closing. Run with -race.
func TestMemoryPublishDuringUnsubscribe(t *testing.T) {
	m := NewMemory()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.Publish(context.Background(), "contested", []byte("x"))
			}
		}
	}()

	for range 200 {
		ctx, cancel := context.WithCancel(context.Background())
		msgs, err := m.Subscribe(ctx, "contested")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		cancel()
		for range msgs {
		}
	}

	close(stop)
	wg.Wait()
}

func TestMemoryCloseClosesSubscribers(t *testing.T) {
	m := NewMemory()
	msgs, err := m.Subscribe(context.Background(), "x")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-msgs; ok {
		t.Error("expected closed channel after bus Close")
	}
	if err := m.Publish(context.Background(), "x", []byte("y")); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
}
