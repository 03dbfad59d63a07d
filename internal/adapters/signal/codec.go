package signal

import (
	"encoding/json"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
)

// JSONCodec encodes room events as the JSON frames clients expect.
type JSONCodec struct{}

var _ core.Codec = JSONCodec{}

func (JSONCodec) Joined() (core.Frame, error) {
	return json.Marshal(joinedMessage{Type: MsgUserIsJoined, Success: true})
}

func (JSONCodec) History(s domain.Snapshot) (core.Frame, error) {
	msg := historyMessage{Type: MsgLoadHistory, History: s.History, RedoStack: s.RedoStack}
	if msg.History == nil {
		msg.History = []domain.DrawOp{}
	}
	if msg.RedoStack == nil {
		msg.RedoStack = []domain.DrawOp{}
	}
	return json.Marshal(msg)
}

func (JSONCodec) Draw(op domain.DrawOp) (core.Frame, error) {
	return json.Marshal(drawMessage{Type: MsgDraw, DrawData: op})
}
