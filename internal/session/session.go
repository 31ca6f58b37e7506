package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/db"
	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
	"github.com/manpreetbhatti/whiteboard/backend/internal/protocol"
	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
)

// HistoryStore is the durable room history the manager reads and writes.
// Backend failures must satisfy errors.Is(err, db.ErrStorageUnavailable).
type HistoryStore interface {
	CreateIfAbsent(ctx context.Context, roomID string) (room.History, bool, error)
	Get(ctx context.Context, roomID string) (room.History, error)
	Put(ctx context.Context, roomID string, h room.History) error
}

// Member is a live connection in one room
type Member interface {
	ID() string
	// Send queues payload without blocking. An error means the member is gone.
	Send(payload []byte) error
}

// Registry tracks which members are in which room
type Registry interface {
	Join(roomID string, m Member)
	Leave(roomID string, m Member)
	// Broadcast queues payload to every member and returns how many accepted it
	Broadcast(roomID string, payload []byte) int
}

// Manager runs the room state machine. Join and Apply for the same room
// are serialized, so every member observes updates in commit order and
// concurrent actions never overwrite each other.
type Manager struct {
	store    HistoryStore
	registry Registry
	locks    *keyedMutex
	log      zerolog.Logger
}

func New(store HistoryStore, registry Registry, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		locks:    newKeyedMutex(),
		log:      logger.With().Str("module", "session").Logger(),
	}
}

// Join loads or creates the room's history, sends it to m alone, then
// registers m for broadcasts. m sees every later update exactly once.
func (s *Manager) Join(ctx context.Context, roomID string, m Member) (room.History, bool, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	h, created, err := s.store.CreateIfAbsent(ctx, roomID)
	if err != nil {
		return room.History{}, false, fmt.Errorf("join room %s: %w", roomID, err)
	}

	payload, err := protocol.Initial(h).Encode()
	if err != nil {
		return room.History{}, false, fmt.Errorf("encode initial history: %w", err)
	}
	if err := m.Send(payload); err != nil {
		return room.History{}, false, fmt.Errorf("send initial history: %w", err)
	}

	s.registry.Join(roomID, m)

	s.log.Debug().
		Str("room", roomID).
		Str("member", m.ID()).
		Bool("created", created).
		Int("undo", len(h.Undo)).
		Int("redo", len(h.Redo)).
		Msg("member joined")

	return h, created, nil
}

// Apply re-reads the stored history, applies a, persists the result and
// broadcasts it to every member of the room, the sender included.
// No-op undo and redo still persist and broadcast the unchanged history.
func (s *Manager) Apply(ctx context.Context, roomID string, a room.Action) (protocol.Update, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	current, err := s.store.Get(ctx, roomID)
	if errors.Is(err, db.ErrNotFound) {
		// Record removed behind our back; start over and let Put recreate it
		current = room.NewHistory()
	} else if err != nil {
		return protocol.Update{}, fmt.Errorf("apply %s to room %s: %w", a.Kind(), roomID, err)
	}

	next := current.Apply(a)

	if err := s.store.Put(ctx, roomID, next); err != nil {
		return protocol.Update{}, fmt.Errorf("apply %s to room %s: %w", a.Kind(), roomID, err)
	}

	update := protocol.NewUpdate(a.Kind(), next)
	payload, err := update.Encode()
	if err != nil {
		return protocol.Update{}, fmt.Errorf("encode update: %w", err)
	}

	delivered := s.registry.Broadcast(roomID, payload)
	metrics.ActionApplied(a.Kind(), room.Mutates(a))

	s.log.Debug().
		Str("room", roomID).
		Str("action", a.Kind()).
		Int("undo", len(next.Undo)).
		Int("redo", len(next.Redo)).
		Int("delivered", delivered).
		Msg("action applied")

	return update, nil
}

// Leave unregisters m. History is already durable so the store is not touched.
func (s *Manager) Leave(roomID string, m Member) {
	s.registry.Leave(roomID, m)
	s.log.Debug().Str("room", roomID).Str("member", m.ID()).Msg("member left")
}
