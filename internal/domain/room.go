package domain

import "time"

// RoomCode is chosen by the client. It is only ever used as a map key.
type RoomCode string

type Room struct {
	Code      RoomCode
	CreatedAt time.Time
}

func NewRoom(code RoomCode, now time.Time) *Room {
	return &Room{Code: code, CreatedAt: now}
}
