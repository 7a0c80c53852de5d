// Package core implements the chat engine: the connection registry, the
// broadcast hub and the frame dispatcher. The transport layer feeds inbound
// frames in and drains per-client outbound queues; everything in between
// happens here.
package core

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/proto"
)

// Hub fans frames out to every registered connection. A mutex serializes
// snapshot and fan-out so frames reach the per-client queues in the same
// order for all recipients.
type Hub struct {
	mu       sync.Mutex
	registry *Registry
	log      *zerolog.Logger
}

// NewHub creates a hub over the given registry.
func NewHub(registry *Registry, logger *zerolog.Logger) *Hub {
	return &Hub{registry: registry, log: logger}
}

// Broadcast marshals v once and enqueues it to every registered connection,
// authenticated or not. Clients with full queues are dropped.
func (h *Hub) Broadcast(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast frame")
		return
	}

	h.mu.Lock()
	dead := h.enqueueAll(frame)
	h.mu.Unlock()

	h.dropAll(dead)
}

// BroadcastPresence snapshots the online list and broadcasts it. Snapshot
// and fan-out happen under one lock so concurrent registry changes cannot
// deliver presence frames out of order.
func (h *Hub) BroadcastPresence() {
	h.mu.Lock()
	frame, err := json.Marshal(proto.NewPresence(h.registry.OnlineUsernames()))
	if err != nil {
		h.mu.Unlock()
		h.log.Error().Err(err).Msg("marshal presence frame")
		return
	}
	dead := h.enqueueAll(frame)
	h.mu.Unlock()

	h.dropAll(dead)
}

// Send marshals v and enqueues it to a single connection, dropping the
// client if its queue is full.
func (h *Hub) Send(c *Client, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal frame")
		return
	}
	if !c.Enqueue(frame) {
		h.Drop(c)
	}
}

// Drop removes the connection from the registry and closes it. If the
// session was authenticated, the remaining connections learn about the
// departure through a presence update. Dropping twice is a no-op.
func (h *Hub) Drop(c *Client) {
	wasAuthed := h.registry.Unregister(c)
	c.Close()
	if wasAuthed {
		h.BroadcastPresence()
	}
}

// enqueueAll must be called with h.mu held. It returns the clients whose
// queues rejected the frame.
func (h *Hub) enqueueAll(frame []byte) []*Client {
	var dead []*Client
	for _, c := range h.registry.Connections() {
		if !c.Enqueue(frame) {
			dead = append(dead, c)
		}
	}
	return dead
}

func (h *Hub) dropAll(clients []*Client) {
	for _, c := range clients {
		h.Drop(c)
	}
}
