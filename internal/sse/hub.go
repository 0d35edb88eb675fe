// Package sse fans captured-log notifications out to the admin streams
// watching a site.
package sse

import "sync"

type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan []byte]struct{})}
}

// Subscribe registers a stream for siteID. The returned func unregisters
// it and closes the channel.
func (h *Hub) Subscribe(siteID int64) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[siteID]; !ok {
		h.subs[siteID] = make(map[chan []byte]struct{})
	}
	h.subs[siteID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[siteID]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, siteID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers payload to every stream of siteID. Slow subscribers
// miss the message rather than block the sender.
func (h *Hub) Publish(siteID int64, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[siteID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribers returns the number of open streams for siteID.
func (h *Hub) Subscribers(siteID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[siteID])
}
