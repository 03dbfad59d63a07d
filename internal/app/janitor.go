package app

import (
	"context"
	"time"

	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/rs/zerolog/log"
)

// Janitor periodically evicts rooms that stayed empty for TTL.
// A zero TTL disables it.
type Janitor struct {
	Rooms    core.RoomManager
	TTL      time.Duration
	Interval time.Duration
	// OnEvict, if set, is called with the codes dropped by each sweep.
	OnEvict func(codes []domain.RoomCode)
}

func (j *Janitor) Run(ctx context.Context) {
	if j.TTL <= 0 {
		log.Info().Str("module", "app.janitor").Msg("room eviction disabled")
		return
	}
	interval := j.Interval
	if interval <= 0 {
		interval = j.TTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.janitor").Dur("ttl", j.TTL).Dur("interval", interval).Msg("room eviction started")

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.SweepOnce(now)
		}
	}
}

func (j *Janitor) SweepOnce(now time.Time) []domain.RoomCode {
	evicted := j.Rooms.Sweep(j.TTL, now)
	if len(evicted) > 0 && j.OnEvict != nil {
		j.OnEvict(evicted)
	}
	return evicted
}
