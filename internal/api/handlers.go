package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/db"
	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
	"github.com/manpreetbhatti/whiteboard/backend/internal/ws"
)

// RoomLister is the read side of the history store
type RoomLister interface {
	Get(ctx context.Context, roomID string) (room.History, error)
	ListRooms(ctx context.Context, limit, offset int) ([]db.RoomRecord, error)
	Stats(ctx context.Context) (db.Stats, error)
}

type API struct {
	hub   *ws.Hub
	store RoomLister
	log   zerolog.Logger
}

func New(hub *ws.Hub, store RoomLister, logger zerolog.Logger) *API {
	return &API{
		hub:   hub,
		store: store,
		log:   logger.With().Str("module", "api").Logger(),
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error().Err(err).Msg("encoding JSON response")
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		dbStats, err := a.store.Stats(r.Context())
		if err == nil {
			stats["total_rooms"] = dbStats.RoomCount
			stats["total_snapshots"] = dbStats.SnapshotCount
		} else {
			a.log.Warn().Err(err).Msg("store stats unavailable")
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	ActiveUsers int       `json:"active_users"`
	UndoCount   int       `json:"undo_count"`
	RedoCount   int       `json:"redo_count"`
}

type HistoryResponse struct {
	ID          string   `json:"id"`
	ActiveUsers int      `json:"active_users"`
	UndoArr     []string `json:"undoArr"`
	RedoArr     []string `json:"redoArr"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.store.ListRooms(r.Context(), limit, offset)
	if err != nil {
		a.log.Error().Err(err).Msg("list rooms")
		a.errorResponse(w, http.StatusServiceUnavailable, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, rec := range rooms {
		response[i] = RoomResponse{
			ID:          rec.ID,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
			ActiveUsers: activeRooms[rec.ID],
			UndoCount:   len(rec.History.Undo),
			RedoCount:   len(rec.History.Redo),
		}
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRoomHandler returns one room's undo/redo stacks
func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract room ID from path: /api/rooms/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	roomID := strings.TrimSuffix(path, "/")

	if roomID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	h, err := a.store.Get(r.Context(), roomID)
	if errors.Is(err, db.ErrNotFound) {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("room", roomID).Msg("get room")
		a.errorResponse(w, http.StatusServiceUnavailable, "Failed to get room")
		return
	}

	h = h.Normalize()
	a.jsonResponse(w, http.StatusOK, HistoryResponse{
		ID:          roomID,
		ActiveUsers: a.hub.GetActiveRooms()[roomID],
		UndoArr:     h.Undo,
		RedoArr:     h.Redo,
	})
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}
	a.GetRoomHandler(w, r)
}
