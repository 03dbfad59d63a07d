package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Sketch/internal/domain"
)

func TestJanitorSweepOnceReportsEvictions(t *testing.T) {
	start := time.Unix(1700000000, 0)
	m := NewRoomManagerWithClock(nopCodec{}, func() time.Time { return start })
	m.GetOrCreate("old")

	var reported []domain.RoomCode
	j := &Janitor{Rooms: m, TTL: time.Minute, OnEvict: func(c []domain.RoomCode) { reported = c }}

	j.SweepOnce(start.Add(10 * time.Second))
	if reported != nil {
		t.Fatalf("OnEvict called too early with %v", reported)
	}
	j.SweepOnce(start.Add(time.Minute))
	if len(reported) != 1 || reported[0] != "old" {
		t.Fatalf("OnEvict got %v, want [old]", reported)
	}
}

func TestJanitorDisabledReturnsImmediately(t *testing.T) {
	j := &Janitor{Rooms: NewRoomManager(nopCodec{})}
	done := make(chan struct{})
	go func() {
		j.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() with zero TTL did not return")
	}
}

func TestJanitorStopsOnContextCancel(t *testing.T) {
	j := &Janitor{Rooms: NewRoomManager(nopCodec{}), TTL: time.Hour, Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
