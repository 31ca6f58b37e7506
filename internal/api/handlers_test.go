package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/db"
	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
	"github.com/manpreetbhatti/whiteboard/backend/internal/ws"
)

type stubMember struct{ id string }

func (m *stubMember) ID() string           { return m.id }
func (m *stubMember) Send(_ []byte) error { return nil }

// brokenStore fails every read
type brokenStore struct{}

var errDown = errors.New("down")

func (brokenStore) Get(context.Context, string) (room.History, error) {
	return room.History{}, errDown
}
func (brokenStore) ListRooms(context.Context, int, int) ([]db.RoomRecord, error) {
	return nil, errDown
}
func (brokenStore) Stats(context.Context) (db.Stats, error) { return db.Stats{}, errDown }

func setupTestAPI(t *testing.T) (*API, *db.Database) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	hub := ws.NewHub(zerolog.Nop(), nil)
	return New(hub, database, zerolog.Nop()), database
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestHealthHandler(t *testing.T) {
	api, _ := setupTestAPI(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response := decode(t, w); response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, database := setupTestAPI(t)
	ctx := context.Background()

	database.Put(ctx, "r1", room.History{Undo: []string{"A", "B"}, Redo: []string{"C"}})
	api.hub.Join("r1", &stubMember{id: "m1"})

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["active_rooms"] != float64(1) {
		t.Errorf("Expected 1 active room, got %v", response["active_rooms"])
	}
	if response["active_clients"] != float64(1) {
		t.Errorf("Expected 1 active client, got %v", response["active_clients"])
	}
	if response["total_rooms"] != float64(1) {
		t.Errorf("Expected 1 stored room, got %v", response["total_rooms"])
	}
	if response["total_snapshots"] != float64(3) {
		t.Errorf("Expected 3 snapshots, got %v", response["total_snapshots"])
	}
}

func TestStatsHandlerWithBrokenStore(t *testing.T) {
	api := New(ws.NewHub(zerolog.Nop(), nil), brokenStore{}, zerolog.Nop())

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Live stats should still be served, got %d", w.Code)
	}
	if _, ok := decode(t, w)["total_rooms"]; ok {
		t.Error("Stored totals should be omitted when the store fails")
	}
}

func TestGetRoom(t *testing.T) {
	api, database := setupTestAPI(t)

	roomID := "get-test-room"
	database.Put(context.Background(), roomID, room.History{Undo: []string{"A"}, Redo: []string{"B"}})
	api.hub.Join(roomID, &stubMember{id: "m1"})
	api.hub.Join(roomID, &stubMember{id: "m2"})

	req := httptest.NewRequest("GET", "/api/rooms/"+roomID, nil)
	w := httptest.NewRecorder()

	api.GetRoomHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response HistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.ID != roomID {
		t.Errorf("Expected room ID '%s', got '%s'", roomID, response.ID)
	}
	if response.ActiveUsers != 2 {
		t.Errorf("Expected 2 active users, got %d", response.ActiveUsers)
	}
	if len(response.UndoArr) != 1 || response.UndoArr[0] != "A" {
		t.Errorf("Unexpected undoArr %v", response.UndoArr)
	}
	if len(response.RedoArr) != 1 || response.RedoArr[0] != "B" {
		t.Errorf("Unexpected redoArr %v", response.RedoArr)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	api, _ := setupTestAPI(t)

	req := httptest.NewRequest("GET", "/api/rooms/non-existent", nil)
	w := httptest.NewRecorder()

	api.GetRoomHandler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestGetRoomStoreFailure(t *testing.T) {
	api := New(ws.NewHub(zerolog.Nop(), nil), brokenStore{}, zerolog.Nop())

	req := httptest.NewRequest("GET", "/api/rooms/r1", nil)
	w := httptest.NewRecorder()

	api.GetRoomHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestListRooms(t *testing.T) {
	api, database := setupTestAPI(t)

	for i := 0; i < 5; i++ {
		database.CreateIfAbsent(context.Background(), "list-room-"+string(rune('a'+i)))
	}

	req := httptest.NewRequest("GET", "/api/rooms", nil)
	w := httptest.NewRecorder()

	api.ListRoomsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	rooms, ok := decode(t, w)["rooms"].([]any)
	if !ok {
		t.Fatal("Response should contain 'rooms' array")
	}
	if len(rooms) != 5 {
		t.Errorf("Expected 5 rooms, got %d", len(rooms))
	}
}

func TestListRoomsPagination(t *testing.T) {
	api, database := setupTestAPI(t)

	for i := 0; i < 10; i++ {
		database.CreateIfAbsent(context.Background(), "page-room-"+string(rune('a'+i)))
	}

	req := httptest.NewRequest("GET", "/api/rooms?limit=3", nil)
	w := httptest.NewRecorder()

	api.ListRoomsHandler(w, req)

	rooms := decode(t, w)["rooms"].([]any)
	if len(rooms) != 3 {
		t.Errorf("Expected 3 rooms with limit, got %d", len(rooms))
	}

	req = httptest.NewRequest("GET", "/api/rooms?limit=3&offset=7", nil)
	w = httptest.NewRecorder()

	api.ListRoomsHandler(w, req)

	rooms = decode(t, w)["rooms"].([]any)
	if len(rooms) != 3 {
		t.Errorf("Expected 3 rooms with offset, got %d", len(rooms))
	}
}

func TestRoomsRouter(t *testing.T) {
	api, database := setupTestAPI(t)
	database.CreateIfAbsent(context.Background(), "router-test-room")

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{
			name:           "GET /api/rooms - list",
			method:         "GET",
			path:           "/api/rooms",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "GET /api/rooms/{id} - history",
			method:         "GET",
			path:           "/api/rooms/router-test-room",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST /api/rooms - not allowed",
			method:         "POST",
			path:           "/api/rooms",
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE /api/rooms/{id} - not allowed",
			method:         "DELETE",
			path:           "/api/rooms/router-test-room",
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			api.RoomsRouter(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}
