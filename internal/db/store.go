package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
)

var (
	// ErrNotFound means the room has no history record
	ErrNotFound = errors.New("room history not found")

	// ErrStorageUnavailable wraps every backend failure
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RoomRecord is one persisted room with its history
type RoomRecord struct {
	ID        string
	History   room.History
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats summarizes persisted state across all rooms
type Stats struct {
	RoomCount     int
	SnapshotCount int
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
