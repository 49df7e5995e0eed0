package stream

import (
	"context"
	"testing"
	"time"

	"bapnode.org/internal/protocol"
)

func TestHubRoutesByKey(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keyA := CorrelationKey("u1", "b1", "d1")
	keyB := CorrelationKey("u2", "b1", "d1")
	chA := hub.Subscribe(ctx, keyA)
	chB := hub.Subscribe(ctx, keyB)

	hub.Push(keyA, protocol.ActionOnSelect, map[string]any{"quote": 100})

	select {
	case n := <-chA:
		if n.Action != protocol.ActionOnSelect || n.Key != keyA {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber A did not receive the push")
	}

	select {
	case n := <-chB:
		t.Fatalf("subscriber B must not receive A's push: %+v", n)
	default:
	}
}

func TestHubDropsWhenSlow(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := CorrelationKey("u1", "b1", "d1")
	_ = hub.Subscribe(ctx, key)

	// Fill well past the channel buffer; Push must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Push(key, protocol.ActionOnStatus, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked on a slow subscriber")
	}
}

func TestHubUnsubscribeOnContextEnd(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	key := CorrelationKey("u1", "b1", "d1")
	ch := hub.Subscribe(ctx, key)

	cancel()
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected channel closed after context end")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context end")
	}
}

func TestCorrelationKey(t *testing.T) {
	if got := CorrelationKey("u", "b", "d"); got != "u#b#d" {
		t.Fatalf("unexpected key %q", got)
	}
}
