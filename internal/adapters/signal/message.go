package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
)

// EventType is the "type" field of a client frame.
type EventType string

const (
	EventCreateRoom  EventType = "userCreateRoom"
	EventJoinRoom    EventType = "userJoinRoom"
	EventLoadHistory EventType = "loadHistory"
	EventDraw        EventType = "draw"
	EventUndo        EventType = "undo"
	EventRedo        EventType = "redo"
	EventClear       EventType = "clear"
	EventLeave       EventType = "leave"
	EventPing        EventType = "ping"
)

// EventTypes lists every client event. The handler table must cover it.
var EventTypes = []EventType{
	EventCreateRoom,
	EventJoinRoom,
	EventLoadHistory,
	EventDraw,
	EventUndo,
	EventRedo,
	EventClear,
	EventLeave,
	EventPing,
}

// Event is one decoded client frame. The set of variants is closed.
type Event interface {
	Type() EventType
}

type CreateRoom struct {
	RoomCode domain.RoomCode `json:"roomCode"`
}

type JoinRoom struct {
	RoomCode domain.RoomCode `json:"roomCode"`
}

type LoadHistory struct {
	RoomCode domain.RoomCode `json:"roomCode"`
}

type Draw struct {
	Room     domain.RoomCode `json:"room"`
	DrawData domain.DrawOp   `json:"drawData"`
}

type Undo struct {
	Room domain.RoomCode `json:"room"`
}

type Redo struct {
	Room domain.RoomCode `json:"room"`
}

type Clear struct {
	Room domain.RoomCode `json:"room"`
}

type Leave struct{}

type Ping struct{}

func (CreateRoom) Type() EventType  { return EventCreateRoom }
func (JoinRoom) Type() EventType    { return EventJoinRoom }
func (LoadHistory) Type() EventType { return EventLoadHistory }
func (Draw) Type() EventType        { return EventDraw }
func (Undo) Type() EventType        { return EventUndo }
func (Redo) Type() EventType        { return EventRedo }
func (Clear) Type() EventType       { return EventClear }
func (Leave) Type() EventType       { return EventLeave }
func (Ping) Type() EventType        { return EventPing }

// decodeEvent reads the envelope type and decodes the whole frame into the
// matching variant.
func decodeEvent(data []byte) (Event, error) {
	var env struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBadPayload, err)
	}
	r, ok := routes[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %q", core.ErrBadPayload, env.Type)
	}
	ev, err := r.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrBadPayload, env.Type, err)
	}
	return ev, nil
}

// Server -> client message types.
const (
	MsgUserIsJoined = "userIsJoined"
	MsgLoadHistory  = "loadHistory"
	MsgDraw         = "draw"
	MsgLeft         = "left"
	MsgPong         = "pong"
	MsgError        = "error"
)

type joinedMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

type historyMessage struct {
	Type      string          `json:"type"`
	History   []domain.DrawOp `json:"history"`
	RedoStack []domain.DrawOp `json:"redoStack"`
}

type drawMessage struct {
	Type     string        `json:"type"`
	DrawData domain.DrawOp `json:"drawData"`
}

type errorMessage struct {
	Type  string    `json:"type"`
	Event EventType `json:"event,omitempty"`
	Error string    `json:"error"`
}
