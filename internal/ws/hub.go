package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/bus"
	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
	"github.com/manpreetbhatti/whiteboard/backend/internal/session"
)

const publishTimeout = 2 * time.Second

// Bus carries broadcasts to and from other server instances
type Bus interface {
	Publish(ctx context.Context, env bus.Envelope) error
	Subscribe(ctx context.Context, fn func(bus.Envelope))
}

// Hub is the set of connected members per room. It is the session
// registry: every broadcast goes to all local members of the room and,
// when a bus is configured, to the other instances.
type Hub struct {
	// Registered members by room
	rooms map[string]map[session.Member]struct{}

	bus        Bus
	instanceID string
	log        zerolog.Logger

	mu sync.RWMutex
}

// NewHub creates a hub. b may be nil for a single-instance deployment.
func NewHub(logger zerolog.Logger, b Bus) *Hub {
	return &Hub{
		rooms:      make(map[string]map[session.Member]struct{}),
		bus:        b,
		instanceID: uuid.NewString(),
		log:        logger.With().Str("module", "hub").Logger(),
	}
}

// Run relays broadcasts from other instances to local members until ctx ends
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		<-ctx.Done()
		return
	}
	h.log.Info().Str("instance", h.instanceID).Msg("relaying broadcasts over bus")
	h.bus.Subscribe(ctx, h.relay)
}

func (h *Hub) relay(env bus.Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	h.deliver(env.RoomID, env.Payload)
}

func (h *Hub) Join(roomID string, m session.Member) {
	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[session.Member]struct{})
	}
	h.rooms[roomID][m] = struct{}{}
	memberCount := len(h.rooms[roomID])
	h.mu.Unlock()

	h.log.Info().Str("room", roomID).Str("member", m.ID()).Int("total", memberCount).Msg("member joined room")
}

func (h *Hub) Leave(roomID string, m session.Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := members[m]; !ok {
		return
	}
	delete(members, m)

	if len(members) == 0 {
		delete(h.rooms, roomID)
		h.log.Info().Str("room", roomID).Msg("room closed (empty)")
	} else {
		h.log.Info().Str("room", roomID).Str("member", m.ID()).Int("remaining", len(members)).Msg("member left room")
	}
}

// Broadcast queues payload to every local member of the room and publishes
// it to other instances. Returns the number of local members that accepted it.
func (h *Hub) Broadcast(roomID string, payload []byte) int {
	delivered := h.deliver(roomID, payload)

	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := h.bus.Publish(ctx, bus.Envelope{Origin: h.instanceID, RoomID: roomID, Payload: payload})
		if err != nil {
			h.log.Warn().Err(err).Str("room", roomID).Msg("bus publish failed")
		}
	}

	return delivered
}

// deliver sends to local members only. A member that cannot take the
// payload is evicted without affecting delivery to the others.
func (h *Hub) deliver(roomID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return 0
	}

	delivered := 0
	var dropped int
	for m := range members {
		if err := m.Send(payload); err != nil {
			h.log.Warn().Err(err).Str("room", roomID).Str("member", m.ID()).Msg("evicting member")
			delete(members, m)
			dropped++
			continue
		}
		delivered++
	}
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}

	metrics.Delivered(delivered)
	if dropped > 0 {
		metrics.Dropped(dropped)
	}
	return delivered
}

// Returns the number of rooms with at least one member
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Returns the number of connected members across all rooms
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, members := range h.rooms {
		count += len(members)
	}
	return count
}

// Returns member counts by room
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for id, members := range h.rooms {
		out[id] = len(members)
	}
	return out
}

// InstanceID identifies this server on the bus
func (h *Hub) InstanceID() string {
	return h.instanceID
}
