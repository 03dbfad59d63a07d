package signal

import (
	"context"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/rs/zerolog/log"
)

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, sid core.SessionID, conn *WsSignalConn, _ Leave) error {
	code, ok := ctl.Orch.Leave(ctx, sid)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(code)).Bool("was_bound", ok).Msg("leave")
	ctl.sendJSON(conn, struct {
		Type string `json:"type"`
	}{Type: MsgLeft})
	return nil
}

func (ctl *SignalWSController) handlePing(_ context.Context, _ core.SessionID, conn *WsSignalConn, _ Ping) error {
	ctl.sendJSON(conn, struct {
		Type string `json:"type"`
	}{Type: MsgPong})
	return nil
}
