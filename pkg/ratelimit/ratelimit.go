// Package ratelimit counts requests per owner in fixed one-minute windows
// backed by redis, so the counters are shared across gateway instances and
// pruned by native key TTL rather than manual sweeps.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the retry hint handed to rejected callers.
const Window = time.Minute

type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Allow counts one request for userID in the current minute bucket and
// reports whether the count stays within limit. A negative limit means
// unlimited. INCR is atomic server-side, so concurrent requests across
// instances share one counter.
func (l *Limiter) Allow(ctx context.Context, userID string, limit int) (bool, error) {
	if limit < 0 {
		return true, nil
	}

	bucket := l.now().Unix() / 60
	key := fmt.Sprintf("ratelimit:user:%s:%d", userID, bucket)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		// Keep the bucket around a little past its window so late
		// readers still see it, then let redis expire it.
		l.client.Expire(ctx, key, 2*Window)
	}

	return count <= int64(limit), nil
}
