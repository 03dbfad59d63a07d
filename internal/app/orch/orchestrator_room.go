package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/rs/zerolog/log"
)

// joinAttempts bounds retries when a join or an op keeps racing the idle
// sweep.
const joinAttempts = 3

// Join binds sid to code, creating the room on first reference, and
// replays the board to the joiner. Create and join are the same operation.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, code domain.RoomCode) error {
	if code == "" {
		return core.ErrMissingRoomCode
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrUnknownSession
	}
	if prev, _, ok := o.Registry.RoomOf(sid); ok && prev != code {
		o.leaveRoom(ctx, sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
	}

	for i := 0; i < joinAttempts; i++ {
		room := o.Rooms.GetOrCreate(code)
		res, err := room.Join(sid, sess)
		if errors.Is(err, core.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return err
		}
		o.Registry.UpdateRoom(sid, code)
		o.Metrics.SetRooms(o.Rooms.Count())
		if err := o.presence().Join(ctx, string(code), string(sid)); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(code)).Msg("presence join")
		}
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(code)).Msg("added to room")
		o.settle(room, res)
		return nil
	}
	return core.ErrRoomClosed
}

// Leave unbinds sid from its room. The room's board is untouched.
func (o *Orchestrator) Leave(ctx context.Context, sid core.SessionID) (domain.RoomCode, bool) {
	return o.leaveRoom(ctx, sid)
}

func (o *Orchestrator) leaveRoom(ctx context.Context, sid core.SessionID) (domain.RoomCode, bool) {
	code, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", false
	}
	if room, ok := o.Rooms.Get(code); ok {
		room.Leave(sid)
	}
	o.Registry.RemoveRoom(sid)
	if err := o.presence().Leave(ctx, string(code), string(sid)); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(code)).Msg("presence leave")
	}
	return code, true
}

// LoadHistory unicasts the snapshot of an existing room. It never creates
// one.
func (o *Orchestrator) LoadHistory(sid core.SessionID, code domain.RoomCode) error {
	room, err := o.resolve(sid, code)
	if err != nil {
		return err
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrUnknownSession
	}
	o.settle(room, room.SendHistory(sid, sess))
	return nil
}

func (o *Orchestrator) Draw(sid core.SessionID, code domain.RoomCode, op domain.DrawOp) error {
	return o.replayOp(sid, code, "draw", func(r core.RoomService, from core.SessionID) (core.PublishResult, error) {
		return r.Draw(from, op)
	})
}

func (o *Orchestrator) Undo(sid core.SessionID, code domain.RoomCode) error {
	return o.replayOp(sid, code, "undo", core.RoomService.Undo)
}

func (o *Orchestrator) Redo(sid core.SessionID, code domain.RoomCode) error {
	return o.replayOp(sid, code, "redo", core.RoomService.Redo)
}

func (o *Orchestrator) Clear(sid core.SessionID, code domain.RoomCode) error {
	return o.replayOp(sid, code, "clear", core.RoomService.Clear)
}

// replayOp applies a room-scoped mutation. A room retired by the sweep
// after resolve is looked up again, so the op lands in the live room or is
// rejected.
func (o *Orchestrator) replayOp(
	sid core.SessionID,
	code domain.RoomCode,
	name string,
	apply func(core.RoomService, core.SessionID) (core.PublishResult, error),
) error {
	for i := 0; i < joinAttempts; i++ {
		room, err := o.resolve(sid, code)
		if err != nil {
			return err
		}
		res, err := apply(room, sid)
		if errors.Is(err, core.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return err
		}
		o.settle(room, res)
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.Room().Code)).Int("sent_to", res.SendTo).Msg(name)
		return nil
	}
	return core.ErrRoomClosed
}

// resolve finds the target room of a room-scoped event. An empty code
// falls back to the room the connection is in.
func (o *Orchestrator) resolve(sid core.SessionID, code domain.RoomCode) (core.RoomService, error) {
	if code == "" {
		bound, _, ok := o.Registry.RoomOf(sid)
		if !ok {
			return nil, core.ErrMissingRoomCode
		}
		code = bound
	}
	room, ok := o.Rooms.Get(code)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return room, nil
}

// StopRoom drops an empty room before the idle sweep would.
func (o *Orchestrator) StopRoom(code domain.RoomCode) bool {
	if !o.Rooms.StopRoom(code) {
		return false
	}
	o.Metrics.SetRooms(o.Rooms.Count())
	return true
}

// RoomPresence lists the live members of code as seen by the presence
// mirror. Without a mirror it is always empty.
func (o *Orchestrator) RoomPresence(ctx context.Context, code domain.RoomCode) ([]string, error) {
	return o.presence().Members(ctx, string(code))
}
