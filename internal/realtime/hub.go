package realtime

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mkowalczyk/sheethub/internal/observability"
)

// sendQueueSize bounds each connection's outgoing buffer. A subscriber
// that cannot drain this many events is dropped rather than allowed to
// stall the dispatch loop.
const sendQueueSize = 32

type client struct {
	conn   *websocket.Conn
	userID string

	// character ids this connection cares about; empty means all
	topics map[string]struct{}

	send chan Event
	once sync.Once
}

func (c *client) wants(characterID string) bool {
	if len(c.topics) == 0 {
		return true
	}

	_, ok := c.topics[characterID]

	return ok
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans committed character updates out to connected sockets. All
// deliveries pass through one dispatch goroutine, so every subscriber
// observes events in the same order the writes committed.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	events chan Event
	done   chan struct{}

	log  *slog.Logger
	prom *observability.Prom
}

func NewHub(log *slog.Logger, prom *observability.Prom) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		log:     log,
		prom:    prom,
	}
}

// Run drains the dispatch channel until Shutdown. Call in its own
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)
		case <-h.done:
			return
		}
	}
}

func (h *Hub) Shutdown() {
	close(h.done)

	h.mu.Lock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// Broadcast enqueues an event for delivery. Best effort: if the
// dispatch buffer is full the event is dropped, clients resync via the
// read API.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Warn("realtime dispatch buffer full, dropping event", "character_id", ev.CharacterID)
	}
}

func (h *Hub) dispatch(ev Event) {
	h.mu.Lock()

	var stale []*client
	delivered := 0

	for c := range h.clients {
		if !c.wants(ev.CharacterID) {
			continue
		}

		select {
		case c.send <- ev:
			delivered++
		default:
			// overflowing subscriber: drop the connection, not the loop
			stale = append(stale, c)
		}
	}

	for _, c := range stale {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range stale {
		c.close()

		if h.prom != nil {
			h.prom.RealtimeDropped.Inc()
		}
		h.log.Warn("dropping slow realtime subscriber", "user_id", c.userID)
	}

	if h.prom != nil {
		result := "delivered"
		if delivered == 0 {
			result = "no_subscribers"
		}
		h.prom.RealtimeBroadcasts.WithLabelValues(result).Inc()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.RealtimeClients.Set(float64(n))
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
	}

	if h.prom != nil {
		h.prom.RealtimeClients.Set(float64(n))
	}
}

// writePump is the only goroutine writing to a connection.
func (c *client) writePump() {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

// readPump exists to observe close frames; inbound payloads are not
// part of the protocol and are discarded.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
