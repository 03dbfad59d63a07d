package core

import (
	"time"

	"github.com/dkeye/Sketch/internal/domain"
)

// Audience selects who receives a room frame.
type Audience int

const (
	// AudienceOthers is every member except the sender.
	AudienceOthers Audience = iota
	// AudienceRoom is every member including the sender.
	AudienceRoom
	// AudienceSender is the sender alone.
	AudienceSender
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

func (p *PublishResult) merge(o PublishResult) {
	p.SendTo += o.SendTo
	p.Dropped = append(p.Dropped, o.Dropped...)
}

// Codec shapes room events into transport frames.
// It lives in the adapter; rooms only decide who gets what.
type Codec interface {
	Joined() (Frame, error)
	History(domain.Snapshot) (Frame, error)
	Draw(domain.DrawOp) (Frame, error)
}

// RoomService is the core-facing API of a room.
// It owns the board and the membership set but never touches transport
// resources. Every mutation and its fan-out happen under one lock, so all
// members observe operations in the order they were applied.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Snapshot() domain.Snapshot
	LastActive() time.Time

	// Join adds the member and replays the board to it.
	Join(sid SessionID, ms MemberSession) (PublishResult, error)
	Leave(sid SessionID) bool
	// SendHistory unicasts the current snapshot; ms need not be a member.
	SendHistory(sid SessionID, ms MemberSession) PublishResult

	// Draw, Undo, Redo and Clear fail with ErrRoomClosed once the room
	// is retired.
	Draw(from SessionID, op domain.DrawOp) (PublishResult, error)
	Undo(from SessionID) (PublishResult, error)
	Redo(from SessionID) (PublishResult, error)
	Clear(from SessionID) (PublishResult, error)

	// Retire closes the room if it is empty and idle for at least ttl.
	// A retired room rejects joins and mutations with ErrRoomClosed.
	Retire(ttl time.Duration, now time.Time) bool
}

type RoomInfo struct {
	Code      domain.RoomCode `json:"code"`
	Members   int             `json:"members"`
	History   int             `json:"history"`
	RedoStack int             `json:"redo_stack"`
}

// RoomManager is the session store: room code -> room.
type RoomManager interface {
	GetOrCreate(code domain.RoomCode) RoomService
	Get(code domain.RoomCode) (RoomService, bool)
	List() []RoomInfo
	Count() int
	StopRoom(code domain.RoomCode) bool
	Sweep(ttl time.Duration, now time.Time) []domain.RoomCode
}
