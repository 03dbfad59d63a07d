package signal

import (
	"context"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleCreateRoom and handleJoin are the same operation: the room is
// created on first reference and never reset by a later join.
func (ctl *SignalWSController) handleCreateRoom(ctx context.Context, sid core.SessionID, _ *WsSignalConn, ev CreateRoom) error {
	return ctl.join(ctx, sid, ev.RoomCode)
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, sid core.SessionID, _ *WsSignalConn, ev JoinRoom) error {
	return ctl.join(ctx, sid, ev.RoomCode)
}

func (ctl *SignalWSController) join(ctx context.Context, sid core.SessionID, code domain.RoomCode) error {
	if code == "" {
		return core.ErrMissingRoomCode
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("room", string(code)).Msg("join rate limited")
		return core.ErrRateLimited
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(code)).Msg("join")
	return ctl.Orch.Join(ctx, sid, code)
}

func (ctl *SignalWSController) handleLoadHistory(_ context.Context, sid core.SessionID, _ *WsSignalConn, ev LoadHistory) error {
	return ctl.Orch.LoadHistory(sid, ev.RoomCode)
}

func (ctl *SignalWSController) handleDraw(_ context.Context, sid core.SessionID, _ *WsSignalConn, ev Draw) error {
	if len(ev.DrawData) == 0 || string(ev.DrawData) == "null" {
		return core.ErrBadPayload
	}
	return ctl.Orch.Draw(sid, ev.Room, ev.DrawData)
}

func (ctl *SignalWSController) handleUndo(_ context.Context, sid core.SessionID, _ *WsSignalConn, ev Undo) error {
	return ctl.Orch.Undo(sid, ev.Room)
}

func (ctl *SignalWSController) handleRedo(_ context.Context, sid core.SessionID, _ *WsSignalConn, ev Redo) error {
	return ctl.Orch.Redo(sid, ev.Room)
}

func (ctl *SignalWSController) handleClear(_ context.Context, sid core.SessionID, _ *WsSignalConn, ev Clear) error {
	return ctl.Orch.Clear(sid, ev.Room)
}
