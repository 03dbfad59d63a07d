package core

import (
	"sync"
	"time"

	"github.com/dkeye/Sketch/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	codec Codec
	now   func() time.Time

	mu         sync.RWMutex
	board      *Board
	members    map[SessionID]MemberSession
	lastActive time.Time
	closed     bool
}

func NewRoomService(room *domain.Room, codec Codec, now func() time.Time) RoomService {
	if now == nil {
		now = time.Now
	}
	return &roomImpl{
		room:       room,
		codec:      codec,
		now:        now,
		board:      NewBoard(),
		members:    make(map[SessionID]MemberSession),
		lastActive: now(),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.board.Snapshot()
}

func (r *roomImpl) LastActive() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive
}

func (r *roomImpl) Join(sid SessionID, ms MemberSession) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, ErrRoomClosed
	}
	r.members[sid] = ms
	r.lastActive = r.now()
	log.Info().Str("module", "core.room").Str("room", string(r.room.Code)).Str("sid", string(sid)).Int("members", len(r.members)).Msg("member joined")

	// The ack and the replay are queued before any later broadcast can be,
	// so the joiner never sees a draw that is missing from its history.
	var res PublishResult
	if f, ok := r.encode(r.codec.Joined()); ok {
		res.merge(r.fanoutLocked(AudienceSender, sid, f))
	}
	if f, ok := r.encode(r.codec.History(r.board.Snapshot())); ok {
		res.merge(r.fanoutLocked(AudienceSender, sid, f))
	}
	return res, nil
}

func (r *roomImpl) Leave(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sid]; !ok {
		return false
	}
	delete(r.members, sid)
	r.lastActive = r.now()
	log.Info().Str("module", "core.room").Str("room", string(r.room.Code)).Str("sid", string(sid)).Int("members", len(r.members)).Msg("member left")
	return true
}

func (r *roomImpl) SendHistory(sid SessionID, ms MemberSession) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.encode(r.codec.History(r.board.Snapshot()))
	if !ok {
		return PublishResult{}
	}
	return unicast(sid, ms, f)
}

func (r *roomImpl) Draw(from SessionID, op domain.DrawOp) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, ErrRoomClosed
	}
	r.board.Draw(op)
	r.lastActive = r.now()
	f, ok := r.encode(r.codec.Draw(op))
	if !ok {
		return PublishResult{}, nil
	}
	return r.fanoutLocked(AudienceOthers, from, f), nil
}

func (r *roomImpl) Undo(from SessionID) (PublishResult, error) {
	return r.mutateAndReplay(from, r.board.Undo)
}

func (r *roomImpl) Redo(from SessionID) (PublishResult, error) {
	return r.mutateAndReplay(from, r.board.Redo)
}

func (r *roomImpl) Clear(from SessionID) (PublishResult, error) {
	return r.mutateAndReplay(from, func() error {
		r.board.Clear()
		return nil
	})
}

// mutateAndReplay applies fn and, when it succeeds, sends the full
// snapshot to the whole room. A failed fn leaves no trace.
func (r *roomImpl) mutateAndReplay(from SessionID, fn func() error) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, ErrRoomClosed
	}
	if err := fn(); err != nil {
		return PublishResult{}, err
	}
	r.lastActive = r.now()
	f, ok := r.encode(r.codec.History(r.board.Snapshot()))
	if !ok {
		return PublishResult{}, nil
	}
	return r.fanoutLocked(AudienceRoom, from, f), nil
}

func (r *roomImpl) Retire(ttl time.Duration, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return true
	}
	if len(r.members) > 0 || now.Sub(r.lastActive) < ttl {
		return false
	}
	r.closed = true
	return true
}

// fanoutLocked must be called with r.mu held.
func (r *roomImpl) fanoutLocked(aud Audience, from SessionID, f Frame) PublishResult {
	if aud == AudienceSender {
		if ms, ok := r.members[from]; ok {
			return unicast(from, ms, f)
		}
		return PublishResult{}
	}
	res := PublishResult{}
	for sid, m := range r.members {
		if aud == AudienceOthers && sid == from {
			continue
		}
		if err := m.Signal().TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Code)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) encode(f Frame, err error) (Frame, bool) {
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.room.Code)).Msg("encode frame")
		return nil, false
	}
	return f, true
}

func unicast(sid SessionID, ms MemberSession, f Frame) PublishResult {
	if err := ms.Signal().TrySend(f); err != nil {
		return PublishResult{Dropped: []SessionID{sid}}
	}
	return PublishResult{SendTo: 1}
}
