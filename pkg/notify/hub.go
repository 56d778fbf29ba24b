// Package notify persists notification records and delivers them to live
// per-user push channels.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const channelBuffer = 16

// Channel is one open push stream for a user. Payloads are discrete JSON
// events; the channel is closed by the hub on deregistration.
type Channel struct {
	userID string
	ch     chan []byte
}

// Events returns the stream of JSON-encoded push events.
func (c *Channel) Events() <-chan []byte {
	return c.ch
}

// UserID returns the user the channel belongs to.
func (c *Channel) UserID() string {
	return c.userID
}

// Hub is the registry mapping user ids to their open push channels. One
// notification is multiplexed to every open channel for its recipient.
// Delivery is best effort: a slow or dead consumer never blocks the
// sender, and a missed event is not redelivered (the persisted
// notification row remains the durable record).
type Hub struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	channels map[string]map[*Channel]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger.With("module", "notify_hub"),
		channels: make(map[string]map[*Channel]struct{}),
	}
}

// Register opens a new push channel for the user.
func (h *Hub) Register(userID string) *Channel {
	channel := &Channel{userID: userID, ch: make(chan []byte, channelBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[userID] == nil {
		h.channels[userID] = make(map[*Channel]struct{})
	}

	h.channels[userID][channel] = struct{}{}

	return channel
}

// Unregister removes the channel from the registry and closes it. Safe to
// call more than once.
func (h *Hub) Unregister(channel *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	open, ok := h.channels[channel.userID]
	if !ok {
		return
	}

	if _, ok := open[channel]; !ok {
		return
	}

	delete(open, channel)

	if len(open) == 0 {
		delete(h.channels, channel.userID)
	}

	close(channel.ch)
}

// SendToUser writes the event to every channel open for the user.
func (h *Hub) SendToUser(userID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal push event", "error", err)

		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for channel := range h.channels[userID] {
		h.send(channel, payload)
	}
}

// Broadcast writes the event to every open channel for every user.
func (h *Hub) Broadcast(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal push event", "error", err)

		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, open := range h.channels {
		for channel := range open {
			h.send(channel, payload)
		}
	}
}

// ChannelCount returns the number of open channels for the user.
func (h *Hub) ChannelCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.channels[userID])
}

// send delivers without blocking: a consumer with a full buffer misses the
// event rather than stalling everyone else.
func (h *Hub) send(channel *Channel, payload []byte) {
	select {
	case channel.ch <- payload:
	default:
		h.logger.Warn("Dropping push event for slow consumer", "user_id", channel.userID)
	}
}
