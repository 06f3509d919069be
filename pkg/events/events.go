// Package events is the hub the core publishes UI-facing state changes on.
// Subscribers get buffered channels; a slow subscriber drops intermediate
// events rather than blocking the publisher, but terminal events published
// via PublishFinal are always delivered.
package events

import (
	"sync"
	"time"
)

// Event types published on the hub.
const (
	TypeServerStatus         = "server_status"
	TypeDownloadCountChanged = "download_count_changed"
	TypeConversionProgress   = "conversion_progress"
	TypePeerAdded            = "peer_added"
	TypePeerRemoved          = "peer_removed"
	TypeDeliveryCompleted    = "delivery_completed"
)

type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// ServerStatus describes the transfer server's externally visible state.
type ServerStatus struct {
	Running   bool   `json:"running"`
	ServerURL string `json:"server_url"`
	Port      int    `json:"port"`
}

// Hub fans events out to subscribers. The zero value is not usable; call
// NewHub.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	bufSize int
}

func NewHub() *Hub {
	return &Hub{
		subs:    map[int]chan Event{},
		bufSize: 16,
	}
}

// Subscribe registers a new subscriber and returns its channel along with an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.bufSize)
	h.subs[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber whose buffer has room.
// Subscribers with full buffers miss this event.
func (h *Hub) Publish(eventType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishFinal delivers a terminal event to every subscriber. When a
// subscriber's buffer is full, the oldest buffered event is evicted to make
// room: intermediates are droppable, terminal values are not.
func (h *Hub) PublishFinal(eventType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}
	for _, ch := range h.subs {
		select {
		case ch <- event:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		// The lock keeps other publishers out, so the freed slot is ours.
		ch <- event
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
