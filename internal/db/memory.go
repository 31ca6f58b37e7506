package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
)

// Memory keeps histories in process memory. Nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*RoomRecord
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]*RoomRecord),
		now:   time.Now,
	}
}

func (m *Memory) CreateIfAbsent(_ context.Context, roomID string) (room.History, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.rooms[roomID]; ok {
		return rec.History.Clone(), false, nil
	}

	now := m.now()
	m.rooms[roomID] = &RoomRecord{
		ID:        roomID,
		History:   room.NewHistory(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return room.NewHistory(), true, nil
}

func (m *Memory) Get(_ context.Context, roomID string) (room.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.rooms[roomID]
	if !ok {
		return room.History{}, ErrNotFound
	}
	return rec.History.Clone(), nil
}

func (m *Memory) Put(_ context.Context, roomID string, h room.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.rooms[roomID]
	if !ok {
		rec = &RoomRecord{ID: roomID, CreatedAt: now}
		m.rooms[roomID] = rec
	}
	rec.History = h.Clone()
	rec.UpdatedAt = now
	return nil
}

func (m *Memory) ListRooms(_ context.Context, limit, offset int) ([]RoomRecord, error) {
	m.mu.Lock()
	all := make([]RoomRecord, 0, len(m.rooms))
	for _, rec := range m.rooms {
		c := *rec
		c.History = rec.History.Clone()
		all = append(all, c)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{RoomCount: len(m.rooms)}
	for _, rec := range m.rooms {
		s.SnapshotCount += len(rec.History.Undo) + len(rec.History.Redo)
	}
	return s, nil
}

func (m *Memory) Close() error { return nil }
