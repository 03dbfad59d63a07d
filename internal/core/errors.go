package core

import "errors"

// Rejections. None of them is fatal; the caller decides whether the
// client hears about it.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrNothingToRedo   = errors.New("nothing to redo")
	ErrMissingRoomCode = errors.New("missing room code")
	ErrBadPayload      = errors.New("bad payload")
	ErrRateLimited     = errors.New("rate limited")

	// ErrRoomClosed means the room was evicted between lookup and join.
	// Callers look the code up again.
	ErrRoomClosed = errors.New("room closed")
)
