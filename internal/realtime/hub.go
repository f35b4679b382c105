package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// sendBuffer bounds the per-client queue. Delivery is at-most-once: a
// client that cannot drain its buffer loses events and reconciles via
// its next snapshot fetch.
const sendBuffer = 64

// Hub fans events out to every connected dashboard client. There is no
// per-subscriber filtering at this layer; ownership visibility is the
// projection's concern on receipt.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	log *zap.Logger

	// onDrop is invoked once per event dropped for a slow client;
	// onPublish once per published event; onClients on every client
	// count change. All are accounting hooks.
	onDrop    func()
	onPublish func(event string)
	onClients func(n int)
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		log:       log,
		onDrop:    func() {},
		onPublish: func(string) {},
		onClients: func(int) {},
	}
}

// OnDrop installs a hook for dropped-event accounting. Must be called
// before the hub starts accepting clients.
func (h *Hub) OnDrop(fn func()) {
	if fn != nil {
		h.onDrop = fn
	}
}

// OnPublish installs a hook called once per broadcast event.
func (h *Hub) OnPublish(fn func(event string)) {
	if fn != nil {
		h.onPublish = fn
	}
}

// OnClientsChanged installs a hook called with the new client count on
// every connect and disconnect.
func (h *Hub) OnClientsChanged(fn func(n int)) {
	if fn != nil {
		h.onClients = fn
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.onClients(n)
	h.log.Info("dashboard client connected", zap.Int("clients", n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.onClients(n)
	h.log.Info("dashboard client disconnected", zap.Int("clients", n))
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishQueueDelta broadcasts a queue change to all clients. Fire and
// forget: it never blocks the caller.
func (h *Hub) PublishQueueDelta(delta QueueDelta) {
	h.publish(Envelope{Event: EventQueueUpdate, Data: delta})
}

// PublishOutbreakAlert broadcasts a cluster alert to all clients.
func (h *Hub) PublishOutbreakAlert(alert OutbreakAlert) {
	h.publish(Envelope{Event: EventOutbreakAlert, Data: alert})
}

func (h *Hub) publish(env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error("failed to encode broadcast frame", zap.Error(err))
		return
	}
	h.onPublish(env.Event)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.onDrop()
			h.log.Warn("dropping event for slow client", zap.String("event", env.Event))
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
