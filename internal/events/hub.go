package events

import (
	"context"
	"log"
	"sync"
)

const subscriberBuffer = 64

// Hub fans events out to per-project subscribers in this process.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a listener for project. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(project string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[project] == nil {
		h.subs[project] = make(map[*subscriber]struct{})
	}
	h.subs[project][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[project], s)
			if len(h.subs[project]) == 0 {
				delete(h.subs, project)
			}
			close(s.ch)
			h.mu.Unlock()
		})
	}
}

// Deliver hands evt to local subscribers without blocking; a subscriber whose
// buffer is full misses the event.
func (h *Hub) Deliver(project string, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[project] {
		select {
		case s.ch <- evt:
		default:
			log.Printf("events: subscriber buffer full, dropping project=%s event=%s", project, evt.Type)
		}
	}
}

func (h *Hub) Broadcast(_ context.Context, project string, evt Event) error {
	h.Deliver(project, evt)
	return nil
}

// Subscribers reports how many listeners a project has.
func (h *Hub) Subscribers(project string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[project])
}
