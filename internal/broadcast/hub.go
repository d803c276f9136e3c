// Package broadcast fans events out to clients connected to this instance.
// Nothing here crosses the bus.
package broadcast

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/metrics"
	"github.com/petervdpas/goopforum/internal/util"
)

// ForumScope is the scope that receives post events.
const ForumScope = "forum"

const (
	KindChat   = "chat"
	KindPost   = "post"
	KindSystem = "system"
)

const subscriberBuffer = 64

// Event is what local clients receive. For chat, Message is plaintext.
type Event struct {
	Kind      string `json:"kind"`
	RoomID    string `json:"room_id,omitempty"`
	User      string `json:"user"`
	Title     string `json:"title,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Hub delivers events to subscribers of a scope (a room id or ForumScope)
// and keeps the most recent events per scope for late joiners.
type Hub struct {
	mu          sync.RWMutex
	subs        map[string]map[chan Event]struct{}
	history     map[string]*util.RingBuffer[Event]
	historySize int
	log         zerolog.Logger
}

func NewHub(historySize int, log zerolog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 50
	}
	return &Hub{
		subs:        make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*util.RingBuffer[Event]),
		historySize: historySize,
		log:         log.With().Str("component", "hub").Logger(),
	}
}

// Subscribe returns a channel receiving the scope's events. cancel
// unsubscribes and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(scope string) (ch chan Event, cancel func()) {
	ch = make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[scope]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[scope] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		if set, ok := h.subs[scope]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(h.subs, scope)
				}
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast records ev in the scope's history and delivers it to every
// subscriber without blocking. It returns the number of subscribers reached.
func (h *Hub) Broadcast(scope string, ev Event) int {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format("2006-01-02 15:04:05")
	}

	h.mu.Lock()
	hist, ok := h.history[scope]
	if !ok {
		hist = util.NewRingBuffer[Event](h.historySize)
		h.history[scope] = hist
	}
	h.mu.Unlock()
	hist.Push(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for ch := range h.subs[scope] {
		select {
		case ch <- ev:
			delivered++
		default:
			metrics.BroadcastDropped.Inc()
			h.log.Debug().Str("scope", scope).Msg("slow subscriber, event dropped")
		}
	}
	return delivered
}

// Joined announces a user entering a scope.
func (h *Hub) Joined(scope, username string) {
	h.Broadcast(scope, Event{
		Kind:    KindSystem,
		RoomID:  roomOf(scope),
		User:    username,
		Message: username + " joined",
	})
}

// Recent returns up to n of the scope's latest events, oldest first.
func (h *Hub) Recent(scope string, n int) []Event {
	h.mu.RLock()
	hist, ok := h.history[scope]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return hist.Last(n)
}

// Drop forgets a scope: history is cleared and subscribers are closed.
func (h *Hub) Drop(scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.history, scope)
	for ch := range h.subs[scope] {
		close(ch)
	}
	delete(h.subs, scope)
}

// Subscribers returns the number of subscribers of a scope.
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}

func roomOf(scope string) string {
	if scope == ForumScope {
		return ""
	}
	return scope
}
