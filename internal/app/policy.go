package app

import "github.com/dkeye/Sketch/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// RejectAction decides what the sender of a rejected event hears.
type RejectAction int

const (
	// Ignore drops the event silently.
	Ignore RejectAction = iota
	// Notify answers the sender with an error event.
	Notify
)

type Policy interface {
	OnBackPressure(room core.RoomService, sid core.SessionID) BackpressureAction
	// OnReject is the single place where a rejected event (missing room,
	// empty history or redo stack, malformed input) is classified.
	// It never changes what the room broadcasts.
	OnReject(err error) RejectAction
}

// SilentPolicy drops rejected events without telling anyone.
type SilentPolicy struct{}

// A member whose send queue is full is disconnected; on rejoin it gets a
// fresh replay.
func (SilentPolicy) OnBackPressure(core.RoomService, core.SessionID) BackpressureAction {
	return KickMember
}

func (SilentPolicy) OnReject(error) RejectAction { return Ignore }

// StrictPolicy reports every rejection back to its sender.
type StrictPolicy struct{ SilentPolicy }

func (StrictPolicy) OnReject(error) RejectAction { return Notify }

func NewPolicy(strict bool) Policy {
	if strict {
		return StrictPolicy{}
	}
	return SilentPolicy{}
}
