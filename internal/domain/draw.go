package domain

import "encoding/json"

// DrawOp is one atomic drawing action (a stroke, a shape, ...).
// The server stores and forwards it verbatim and never looks inside.
type DrawOp json.RawMessage

func (op DrawOp) MarshalJSON() ([]byte, error) {
	if op == nil {
		return []byte("null"), nil
	}
	return op, nil
}

func (op *DrawOp) UnmarshalJSON(data []byte) error {
	*op = append((*op)[0:0], data...)
	return nil
}

// Snapshot is the replayable state of a room.
// Both slices are always non-nil so they encode as [] rather than null.
type Snapshot struct {
	History   []DrawOp `json:"history"`
	RedoStack []DrawOp `json:"redoStack"`
}
