package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the in-memory session store. Rooms are created on
// first reference and only removed by StopRoom or an idle Sweep.
type RoomManagerImpl struct {
	codec core.Codec
	now   func() time.Time

	mu    sync.RWMutex
	rooms map[domain.RoomCode]core.RoomService
}

func NewRoomManager(codec core.Codec) *RoomManagerImpl {
	return NewRoomManagerWithClock(codec, time.Now)
}

func NewRoomManagerWithClock(codec core.Codec, now func() time.Time) *RoomManagerImpl {
	return &RoomManagerImpl{
		codec: codec,
		now:   now,
		rooms: make(map[domain.RoomCode]core.RoomService),
	}
}

func (f *RoomManagerImpl) GetOrCreate(code domain.RoomCode) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[code]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[code]; ok {
		return room
	}
	room = core.NewRoomService(domain.NewRoom(code, f.now()), f.codec, f.now)
	f.rooms[code] = room
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(code domain.RoomCode) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[code]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for code, r := range f.rooms {
		snap := r.Snapshot()
		out = append(out, core.RoomInfo{
			Code:      code,
			Members:   r.MemberCount(),
			History:   len(snap.History),
			RedoStack: len(snap.RedoStack),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (f *RoomManagerImpl) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}

// StopRoom drops an empty room right away. Rooms with members are kept.
func (f *RoomManagerImpl) StopRoom(code domain.RoomCode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[code]
	if !ok || !room.Retire(0, f.now()) {
		return false
	}
	delete(f.rooms, code)
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("room stopped")
	return true
}

// Sweep drops rooms that have had no members for at least ttl.
// A dropped room is retired first, so a join racing the sweep fails with
// core.ErrRoomClosed instead of landing in an orphaned room.
func (f *RoomManagerImpl) Sweep(ttl time.Duration, now time.Time) []domain.RoomCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	var evicted []domain.RoomCode
	for code, r := range f.rooms {
		if r.Retire(ttl, now) {
			delete(f.rooms, code)
			evicted = append(evicted, code)
		}
	}
	if len(evicted) > 0 {
		log.Info().Str("module", "app.rooms").Int("evicted", len(evicted)).Int("remaining", len(f.rooms)).Msg("idle rooms swept")
	}
	return evicted
}
