package pubsub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync/roomsync/internal/model"
)

// subscriberBuffer is the per-subscriber event buffer size
const subscriberBuffer = 32

// Subscriber receives events published to a room topic
type Subscriber struct {
	UserID      model.UserID
	events      chan model.Event
	connectedAt time.Time
}

// NewSubscriber creates a subscriber for the given user
func NewSubscriber(userID model.UserID) *Subscriber {
	return &Subscriber{
		UserID:      userID,
		events:      make(chan model.Event, subscriberBuffer),
		connectedAt: time.Now(),
	}
}

// Events returns the channel of events delivered to this subscriber.
// The channel is closed when the subscriber is unregistered.
func (s *Subscriber) Events() <-chan model.Event {
	return s.events
}

// Hub fans events out to the subscribers of a single room topic
type Hub struct {
	roomCode model.RoomCode
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[*Subscriber]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan model.Event
	done       chan struct{}
}

// NewHub creates a new Hub for a room topic
func NewHub(roomCode model.RoomCode, logger *slog.Logger) *Hub {
	return &Hub{
		roomCode:    roomCode,
		logger:      logger.With(slog.String("room", string(roomCode))),
		subscribers: make(map[*Subscriber]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan model.Event, 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	h.logger.Debug("hub started")
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Info("subscriber registered",
				slog.String("user_id", string(sub.UserID)),
				slog.Int("total_subscribers", count))

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.events)
				count := len(h.subscribers)
				h.mu.Unlock()
				h.logger.Info("subscriber unregistered",
					slog.String("user_id", string(sub.UserID)),
					slog.Duration("subscription_duration", time.Since(sub.connectedAt)),
					slog.Int("total_subscribers", count))
			} else {
				h.mu.Unlock()
			}

		case event := <-h.broadcast:
			h.mu.RLock()
			dropped := 0
			for sub := range h.subscribers {
				select {
				case sub.events <- event:
				default:
					dropped++
					h.logger.Warn("event dropped - subscriber buffer full",
						slog.String("user_id", string(sub.UserID)),
						slog.String("event", string(event.Type)))
				}
			}
			h.mu.RUnlock()
			if dropped > 0 {
				h.logger.Warn("broadcast partial failure", slog.Int("dropped", dropped))
			}

		case <-h.done:
			h.mu.Lock()
			for sub := range h.subscribers {
				close(sub.events)
				delete(h.subscribers, sub)
			}
			h.mu.Unlock()
			h.logger.Debug("hub stopped")
			return
		}
	}
}

// Register adds a subscriber to the hub
func (h *Hub) Register(sub *Subscriber) {
	h.register <- sub
}

// Unregister removes a subscriber from the hub
func (h *Hub) Unregister(sub *Subscriber) {
	h.unregister <- sub
}

// Broadcast delivers an event to all subscribers
func (h *Hub) Broadcast(event model.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast dropped - hub buffer full", slog.String("event", string(event.Type)))
	}
}

// Close shuts down the hub
func (h *Hub) Close() {
	close(h.done)
}

// SubscriberCount returns the number of current subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubManager manages hubs for all room topics
type HubManager struct {
	mu     sync.RWMutex
	hubs   map[model.RoomCode]*Hub
	logger *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(logger *slog.Logger) *HubManager {
	return &HubManager{
		hubs:   make(map[model.RoomCode]*Hub),
		logger: logger.With(slog.String("component", "pubsub")),
	}
}

// GetOrCreateHub returns the hub for a room, creating one if it doesn't exist
func (m *HubManager) GetOrCreateHub(roomCode model.RoomCode) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[roomCode]; ok {
		return hub
	}

	hub := NewHub(roomCode, m.logger)
	m.hubs[roomCode] = hub
	go hub.Run()
	return hub
}

// GetHub returns the hub for a room, or nil if it doesn't exist
func (m *HubManager) GetHub(roomCode model.RoomCode) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[roomCode]
}

// RemoveHub removes and closes a hub
func (m *HubManager) RemoveHub(roomCode model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[roomCode]; ok {
		hub.Close()
		delete(m.hubs, roomCode)
		m.logger.Info("hub removed", slog.String("room", string(roomCode)))
	}
}

// CleanupEmptyHubs removes hubs with no subscribers
func (m *HubManager) CleanupEmptyHubs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for code, hub := range m.hubs {
		if hub.SubscriberCount() == 0 {
			hub.Close()
			delete(m.hubs, code)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("empty hubs cleaned up", slog.Int("removed", removed))
	}
}

// Publish delivers an event to the room's topic if it has a hub
func (m *HubManager) Publish(roomCode model.RoomCode, event model.Event) {
	hub := m.GetHub(roomCode)
	if hub == nil {
		return
	}
	hub.Broadcast(event)
}

// Publisher delivers an event to every current subscriber of a room topic
type Publisher interface {
	Publish(roomCode model.RoomCode, event model.Event)
}

var _ Publisher = (*HubManager)(nil)
