package core

import "errors"

// Frame is one encoded server->client message.
type Frame []byte

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend must never block: a full queue reports ErrBackpressure.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
