package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
	"github.com/manpreetbhatti/whiteboard/backend/internal/room"

	_ "modernc.org/sqlite"
)

const backendSQLite = "sqlite"

// Database is the sqlite-backed history store
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers and keeps the pragmas below in effect
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_histories (
		room_id TEXT PRIMARY KEY,
		undo_arr TEXT NOT NULL DEFAULT '[]',
		redo_arr TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_room_histories_updated_at ON room_histories(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// CreateIfAbsent inserts an empty history unless the room already has one,
// and returns the stored history. created is true only for the insert.
func (d *Database) CreateIfAbsent(ctx context.Context, roomID string) (h room.History, created bool, err error) {
	done := metrics.ObserveStore(backendSQLite, "create_if_absent")
	defer func() { done(err) }()

	res, err := d.db.ExecContext(ctx,
		"INSERT INTO room_histories (room_id) VALUES (?) ON CONFLICT(room_id) DO NOTHING",
		roomID,
	)
	if err != nil {
		return room.History{}, false, unavailable("create room history", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return room.History{}, false, unavailable("create room history", err)
	}

	h, err = d.load(ctx, roomID)
	if err != nil {
		return room.History{}, false, err
	}
	return h, n == 1, nil
}

func (d *Database) Get(ctx context.Context, roomID string) (h room.History, err error) {
	done := metrics.ObserveStore(backendSQLite, "get")
	defer func() {
		if errors.Is(err, ErrNotFound) {
			done(nil)
			return
		}
		done(err)
	}()

	return d.load(ctx, roomID)
}

func (d *Database) load(ctx context.Context, roomID string) (room.History, error) {
	var undoRaw, redoRaw string
	err := d.db.QueryRowContext(ctx,
		"SELECT undo_arr, redo_arr FROM room_histories WHERE room_id = ?",
		roomID,
	).Scan(&undoRaw, &redoRaw)
	if err == sql.ErrNoRows {
		return room.History{}, ErrNotFound
	}
	if err != nil {
		return room.History{}, unavailable("get room history", err)
	}

	return decodeHistory(undoRaw, redoRaw)
}

// Put replaces the stored history. Last writer wins.
func (d *Database) Put(ctx context.Context, roomID string, h room.History) (err error) {
	done := metrics.ObserveStore(backendSQLite, "put")
	defer func() { done(err) }()

	undoRaw, redoRaw, err := encodeHistory(h)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO room_histories (room_id, undo_arr, redo_arr, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			undo_arr = excluded.undo_arr,
			redo_arr = excluded.redo_arr,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, undoRaw, redoRaw)
	if err != nil {
		return unavailable("put room history", err)
	}
	return nil
}

// ListRooms returns persisted rooms, most recently updated first
func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]RoomRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT room_id, undo_arr, redo_arr, created_at, updated_at
		FROM room_histories
		ORDER BY updated_at DESC, room_id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	defer rows.Close()

	var rooms []RoomRecord
	for rows.Next() {
		var rec RoomRecord
		var undoRaw, redoRaw string
		if err := rows.Scan(&rec.ID, &undoRaw, &redoRaw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, unavailable("list rooms", err)
		}
		if rec.History, err = decodeHistory(undoRaw, redoRaw); err != nil {
			return nil, err
		}
		rooms = append(rooms, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list rooms", err)
	}
	return rooms, nil
}

func (d *Database) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(json_array_length(undo_arr) + json_array_length(redo_arr)), 0)
		FROM room_histories
	`).Scan(&s.RoomCount, &s.SnapshotCount)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return s, nil
}

func encodeHistory(h room.History) (string, string, error) {
	h = h.Normalize()
	undoRaw, err := json.Marshal(h.Undo)
	if err != nil {
		return "", "", unavailable("encode undo stack", err)
	}
	redoRaw, err := json.Marshal(h.Redo)
	if err != nil {
		return "", "", unavailable("encode redo stack", err)
	}
	return string(undoRaw), string(redoRaw), nil
}

func decodeHistory(undoRaw, redoRaw string) (room.History, error) {
	var h room.History
	if err := json.Unmarshal([]byte(undoRaw), &h.Undo); err != nil {
		return room.History{}, unavailable("decode undo stack", err)
	}
	if err := json.Unmarshal([]byte(redoRaw), &h.Redo); err != nil {
		return room.History{}, unavailable("decode redo stack", err)
	}
	return h.Normalize(), nil
}
