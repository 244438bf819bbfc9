// Package websocket pushes queue updates to doctor and admin dashboards.
// Clients subscribe to topics ("queue" for every department, or
// "queue/<department>") and receive events broadcast to those topics. The hub
// remembers the last event per topic so a dashboard that connects mid-day
// gets the current board immediately.
package websocket

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Topics and event types used by the kiosk.
const (
	TopicQueue = "queue"

	EventQueueSnapshot       = "queue.snapshot"
	EventRegistrationCreated = "registration.created"
	EventVisitCreated        = "visit.created"
)

// DepartmentTopic is the topic of one department's queue.
func DepartmentTopic(department string) string {
	return TopicQueue + "/" + department
}

// Event is a real-time notification sent to dashboard clients.
type Event struct {
	Type        string          `json:"type"`
	Topic       string          `json:"topic"`
	Department  string          `json:"department,omitempty"`
	QueueNumber string          `json:"queueNumber,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a dashboard.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client is a single dashboard connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	conn   *gorillawebsocket.Conn
}

// Hub tracks clients and their topic subscriptions. All operations are
// thread-safe.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	retain  map[string][]byte // topic -> last snapshot event
	logger  zerolog.Logger
}

// NewHub creates a Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		retain:  make(map[string][]byte),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	h.subscribeLocked(client, client.Topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		if data, ok := h.retain[topic]; ok {
			select {
			case client.Send <- data:
			default:
			}
		}
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.removeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) removeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribeLocked(client, topics)
	client.Topics = append(client.Topics, topics...)
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client, topics)
	client.Topics = slices.DeleteFunc(client.Topics, func(t string) bool {
		return slices.Contains(topics, t)
	})
}

// ProcessMessage dispatches a ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to all clients subscribed to topic. Snapshot
// events are retained for clients that subscribe later.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	if event.Type == EventQueueSnapshot {
		h.mu.Lock()
		h.retain[topic] = data
		h.mu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			// slow client, drop rather than block the broadcaster
		}
	}
}

// Publish implements EventPublisher. Events that name a department also go
// to that department's topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Topic == "" {
		event.Topic = TopicQueue
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	if event.Department != "" && event.Topic == TopicQueue {
		dept := event
		dept.Topic = DepartmentTopic(event.Department)
		h.Broadcast(dept.Topic, dept)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
