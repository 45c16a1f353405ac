package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cadencehq/identity-service/internal/domain"
	"github.com/cadencehq/identity-service/internal/ports"
)

const (
	attemptKeyPrefix = "auth:attempts:"
	lockKeyPrefix    = "auth:lock:"
)

// RedisAttemptGuard keeps per-identity failure timestamps in a sorted set
// and the lockout marker in a TTL key. Redis executes each pipeline on a
// single thread per key, which gives the required per-identity atomicity
// without a process-local lock.
type RedisAttemptGuard struct {
	client    *redis.Client
	threshold int
	window    time.Duration
	lockFor   time.Duration
}

// NewRedisAttemptGuard creates a guard with the given lockout policy.
func NewRedisAttemptGuard(client *redis.Client, threshold int, window, lockFor time.Duration) *RedisAttemptGuard {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if lockFor <= 0 {
		lockFor = 30 * time.Minute
	}
	return &RedisAttemptGuard{client: client, threshold: threshold, window: window, lockFor: lockFor}
}

func (g *RedisAttemptGuard) Check(ctx context.Context, identity string) (ports.AttemptState, error) {
	lockTTL, err := g.client.PTTL(ctx, lockKeyPrefix+identity).Result()
	if err != nil {
		return ports.AttemptState{}, fmt.Errorf("%w: attempt guard check: %v", domain.ErrInfrastructure, err)
	}
	state := ports.AttemptState{}
	if lockTTL > 0 {
		until := time.Now().UTC().Add(lockTTL)
		state.LockedUntil = &until
		return state, nil
	}

	count, err := g.client.ZCount(ctx, attemptKeyPrefix+identity,
		strconv.FormatInt(time.Now().UTC().Add(-g.window).UnixNano(), 10), "+inf").Result()
	if err != nil {
		return ports.AttemptState{}, fmt.Errorf("%w: attempt guard count: %v", domain.ErrInfrastructure, err)
	}
	state.FailureCount = int(count)
	return state, nil
}

func (g *RedisAttemptGuard) RecordFailure(ctx context.Context, identity string, now time.Time) (ports.AttemptState, error) {
	attemptKey := attemptKeyPrefix + identity
	cutoff := now.Add(-g.window).UnixNano()

	var card *redis.IntCmd
	_, err := g.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, attemptKey, "-inf", strconv.FormatInt(cutoff, 10))
		// The member carries a unique suffix so two failures scored at the
		// same instant stay distinct set entries.
		member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
		p.ZAdd(ctx, attemptKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		p.Expire(ctx, attemptKey, g.window+time.Minute)
		card = p.ZCard(ctx, attemptKey)
		return nil
	})
	if err != nil {
		return ports.AttemptState{}, fmt.Errorf("%w: record failure: %v", domain.ErrInfrastructure, err)
	}

	state := ports.AttemptState{FailureCount: int(card.Val())}
	if state.FailureCount >= g.threshold {
		lockedUntil := now.Add(g.lockFor).UTC()
		if err := g.client.Set(ctx, lockKeyPrefix+identity, "1", g.lockFor).Err(); err != nil {
			return ports.AttemptState{}, fmt.Errorf("%w: set lock: %v", domain.ErrInfrastructure, err)
		}
		state.LockedUntil = &lockedUntil
	}
	return state, nil
}

func (g *RedisAttemptGuard) RecordSuccess(ctx context.Context, identity string) error {
	if err := g.client.Del(ctx, attemptKeyPrefix+identity, lockKeyPrefix+identity).Err(); err != nil {
		return fmt.Errorf("%w: clear attempts: %v", domain.ErrInfrastructure, err)
	}
	return nil
}
