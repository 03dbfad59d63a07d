package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Sketch/internal/core"
)

// RoomRateLimiter caps join attempts per session over a sliding window.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[core.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(sid core.SessionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}
	rl.history[sid] = append(fresh, now)
	return true
}

// Forget drops the window of a closed session.
func (rl *RoomRateLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	delete(rl.history, sid)
	rl.mu.Unlock()
}
