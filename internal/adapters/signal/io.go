package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Sketch/internal/app"
	"github.com/dkeye/Sketch/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		c.Close()
	}()

	wait := ctl.settings.PongWait
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		ctl.Orch.Heartbeat(ctx, sid)
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

// route pairs the decoder and the handler of one event variant.
type route struct {
	decode func([]byte) (Event, error)
	handle func(ctl *SignalWSController, ctx context.Context, sid core.SessionID, c *WsSignalConn, ev Event) error
}

// on builds a route whose handler receives the concrete variant E.
func on[E Event](fn func(*SignalWSController, context.Context, core.SessionID, *WsSignalConn, E) error) route {
	return route{
		decode: func(data []byte) (Event, error) {
			var ev E
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, err
			}
			return ev, nil
		},
		handle: func(ctl *SignalWSController, ctx context.Context, sid core.SessionID, c *WsSignalConn, ev Event) error {
			return fn(ctl, ctx, sid, c, ev.(E))
		},
	}
}

var routes = map[EventType]route{
	EventCreateRoom:  on((*SignalWSController).handleCreateRoom),
	EventJoinRoom:    on((*SignalWSController).handleJoin),
	EventLoadHistory: on((*SignalWSController).handleLoadHistory),
	EventDraw:        on((*SignalWSController).handleDraw),
	EventUndo:        on((*SignalWSController).handleUndo),
	EventRedo:        on((*SignalWSController).handleRedo),
	EventClear:       on((*SignalWSController).handleClear),
	EventLeave:       on((*SignalWSController).handleLeave),
	EventPing:        on((*SignalWSController).handlePing),
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	ev, err := decodeEvent(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad frame")
		ctl.Orch.Metrics.ObserveOp("invalid", err)
		ctl.reject(c, "", err)
		return
	}

	ctx, span := ctl.tracer.Start(ctx, "sketch."+string(ev.Type()),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("sketch.sid", string(sid))),
	)
	defer span.End()

	err = routes[ev.Type()].handle(ctl, ctx, sid, c, ev)
	ctl.Orch.Metrics.ObserveOp(string(ev.Type()), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(ev.Type())).Msg("event rejected")
		ctl.reject(c, ev.Type(), err)
	}
}

// reject hands a failed event to the policy; only Notify reaches the
// client. Broadcasts never depend on the outcome.
func (ctl *SignalWSController) reject(c *WsSignalConn, ev EventType, err error) {
	p := ctl.Orch.Policy
	if p == nil || p.OnReject(err) != app.Notify {
		return
	}
	ctl.sendJSON(c, errorMessage{Type: MsgError, Event: ev, Error: err.Error()})
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
