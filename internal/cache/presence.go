// Package cache mirrors room presence into Redis so that several relay
// instances (and dashboards) can see who is in which room. The mirror is
// advisory: room state itself never leaves the process.
package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type Presence interface {
	Join(ctx context.Context, code, sid string) error
	Leave(ctx context.Context, code, sid string) error
	// Touch refreshes a member heartbeat.
	Touch(ctx context.Context, code, sid string) error
	// Members returns the members whose heartbeat is still alive.
	Members(ctx context.Context, code string) ([]string, error)
}

type redisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) Presence {
	return &redisPresence{rdb: rdb, ttl: ttl}
}

func (p *redisPresence) Join(ctx context.Context, code, sid string) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(code), sid)
	pipe.Set(ctx, memberKey(code, sid), "1", p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) Leave(ctx context.Context, code, sid string) error {
	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(code), sid)
	pipe.Del(ctx, memberKey(code, sid))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *redisPresence) Touch(ctx context.Context, code, sid string) error {
	return p.rdb.Expire(ctx, memberKey(code, sid), p.ttl).Err()
}

func (p *redisPresence) Members(ctx context.Context, code string) ([]string, error) {
	sids, err := p.rdb.SMembers(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, err
	}
	if len(sids) == 0 {
		return []string{}, nil
	}

	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(sids))
	for i, sid := range sids {
		cmds[i] = pipe.Exists(ctx, memberKey(code, sid))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	alive := make([]string, 0, len(sids))
	var stale []any
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			alive = append(alive, sids[i])
		} else {
			stale = append(stale, sids[i])
		}
	}
	// members of a crashed instance never send Leave
	if len(stale) > 0 {
		_ = p.rdb.SRem(ctx, roomKey(code), stale...).Err()
	}
	return alive, nil
}

// NopPresence is used when no Redis address is configured.
type NopPresence struct{}

func (NopPresence) Join(context.Context, string, string) error  { return nil }
func (NopPresence) Leave(context.Context, string, string) error { return nil }
func (NopPresence) Touch(context.Context, string, string) error { return nil }
func (NopPresence) Members(context.Context, string) ([]string, error) {
	return []string{}, nil
}
