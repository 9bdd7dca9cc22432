package reconcile

import (
	"context"
	"time"

	"voice-crm/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisSweepGate is a SweepGate backed by a SET NX PX lock per campaign.
type RedisSweepGate struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisSweepGate(rdb redis.Cmdable) *RedisSweepGate {
	return &RedisSweepGate{rdb: rdb, prefix: "voice-crm:sweep:"}
}

func (g *RedisSweepGate) Acquire(ctx context.Context, campaignID string, ttl time.Duration) (func(), bool, error) {
	lock, ok, err := utils.TryLock(ctx, g.rdb, g.prefix+campaignID, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		// The caller's context may already be done; release on a short fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(rctx)
	}, true, nil
}
