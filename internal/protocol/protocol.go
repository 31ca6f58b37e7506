package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
)

// Sent to a client right after it connects, carrying the stored history
const MessageRoomPreviouslyExisted = "roomPreviouslyExisted"

// Returned for any inbound frame that cannot be decoded into an action
var ErrMalformedMessage = errors.New("malformed message")

// Inbound frame from a client
type ClientMessage struct {
	Message string  `json:"message"`
	ImgURL  *string `json:"imgUrl,omitempty"`
}

// Outbound frame: the initial snapshot and every broadcast share this shape
type Update struct {
	Message string   `json:"message"`
	UndoArr []string `json:"undoArr"`
	RedoArr []string `json:"redoArr"`
}

// Builds the frame for kind from a history
func NewUpdate(kind string, h room.History) Update {
	h = h.Normalize()
	return Update{Message: kind, UndoArr: h.Undo, RedoArr: h.Redo}
}

// Returns the frame sent to a newly connected client
func Initial(h room.History) Update {
	return NewUpdate(MessageRoomPreviouslyExisted, h)
}

func (u Update) Encode() ([]byte, error) {
	return json.Marshal(u)
}

// History converts the frame back to a history
func (u Update) History() room.History {
	return room.History{Undo: u.UndoArr, Redo: u.RedoArr}.Normalize()
}

// DecodeAction parses a client frame into an action.
// An empty kind, or a save without imgUrl, is malformed.
func DecodeAction(data []byte) (room.Action, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	kind := strings.TrimSpace(msg.Message)
	switch kind {
	case "":
		return nil, fmt.Errorf("%w: missing message kind", ErrMalformedMessage)
	case room.KindClear:
		return room.Clear{}, nil
	case room.KindUndo:
		return room.Undo{}, nil
	case room.KindRedo:
		return room.Redo{}, nil
	case room.KindSave:
		if msg.ImgURL == nil {
			return nil, fmt.Errorf("%w: save without imgUrl", ErrMalformedMessage)
		}
		return room.Save{Ref: *msg.ImgURL}, nil
	default:
		return room.Passthrough{Name: msg.Message}, nil
	}
}
