package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Sketch/internal/app"
	"github.com/dkeye/Sketch/internal/cache"
	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/dkeye/Sketch/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

// Orchestrator routes connection events to the registry and the rooms.
// Room state only changes inside core.RoomService; the orchestrator decides
// which room, and deals with what the fan-out reported.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Presence cache.Presence
	Metrics  *metrics.Metrics
}

func (o *Orchestrator) Connect(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	o.Registry.BindSignal(sid, sess, cancel)
	o.Metrics.ConnOpened()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("connected")
}

// OnDisconnect is leave plus forgetting the connection.
func (o *Orchestrator) OnDisconnect(ctx context.Context, sid core.SessionID) {
	o.leaveRoom(ctx, sid)
	o.Registry.Unbind(sid)
	o.Metrics.ConnClosed()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
}

// Heartbeat keeps the presence entry of a live member from expiring.
func (o *Orchestrator) Heartbeat(ctx context.Context, sid core.SessionID) {
	code, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	if err := o.presence().Touch(ctx, string(code), string(sid)); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(code)).Msg("presence touch")
	}
}

// OnEvicted is the janitor callback.
func (o *Orchestrator) OnEvicted(codes []domain.RoomCode) {
	o.Metrics.Evicted(len(codes))
	o.Metrics.SetRooms(o.Rooms.Count())
	for _, code := range codes {
		log.Info().Str("module", "orch").Str("room", string(code)).Msg("room evicted")
	}
}

// settle applies the backpressure policy to whoever could not take a frame.
// It must run after the room lock is released.
func (o *Orchestrator) settle(room core.RoomService, res core.PublishResult) {
	o.Metrics.ObservePublish(res)
	if o.Policy == nil {
		return
	}
	for _, sid := range res.Dropped {
		switch o.Policy.OnBackPressure(room, sid) {
		case app.KickMember:
			if o.Registry.Cancel(sid) {
				o.Metrics.Kicked()
				log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.Room().Code)).Msg("slow member kicked")
			}
		case app.NoAction:
		}
	}
}

func (o *Orchestrator) presence() cache.Presence {
	if o.Presence == nil {
		return cache.NopPresence{}
	}
	return o.Presence
}
