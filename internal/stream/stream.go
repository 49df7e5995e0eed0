package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bapnode.org/internal/protocol"
)

// Notification is one push to a buyer session.
type Notification struct {
	Key       string          `json:"key"`
	Action    protocol.Action `json:"action"`
	Payload   any             `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sink is the push contract the callback dispatcher depends on. Delivery is
// best-effort and fire-and-forget: a lost push is not a protocol error.
type Sink interface {
	Push(key string, action protocol.Action, payload any)
}

// CorrelationKey builds the composite session key callbacks are routed by.
func CorrelationKey(userID, businessID, deviceID string) string {
	return fmt.Sprintf("%s#%s#%s", userID, businessID, deviceID)
}

// Hub fans notifications out to the per-session subscribers the event
// stream transport drains.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Notification
	next int
}

var _ Sink = (*Hub)(nil)

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Notification)}
}

// Subscribe registers a session channel for the given correlation key.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, key string) <-chan Notification {
	ch := make(chan Notification, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]chan Notification)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[key], id)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Push fan-outs a notification to every subscriber of the key.
func (h *Hub) Push(key string, action protocol.Action, payload any) {
	n := Notification{
		Key:       key,
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[key] {
		select {
		case ch <- n:
		default:
			// Drop when subscriber is slow to avoid blocking the dispatcher.
		}
	}
}
