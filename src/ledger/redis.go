package ledger

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"
	"tourbook/src/lib/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	holdsIndexKey = "capacity:holds"

	statusExceeded = -1
	statusCorrupt  = -2
)

// KEYS: slot, hold, index. ARGV: spots, capacity, token, expiresAt
var reserveScript = `
redis.call('HSETNX', KEYS[1], 'max', ARGV[2])
local max = tonumber(redis.call('HGET', KEYS[1], 'max'))
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local spots = tonumber(ARGV[1])
if reserved < 0 or reserved > max then
	return -2
end
if reserved + spots > max then
	return -1
end
redis.call('HINCRBY', KEYS[1], 'reserved', spots)
redis.call('HSET', KEYS[2], 'slot', KEYS[1], 'spots', spots)
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
return reserved + spots
`

// KEYS: hold, index. ARGV: token
var releaseScript = `
local slot = redis.call('HGET', KEYS[1], 'slot')
if not slot then
	return 0
end
local spots = tonumber(redis.call('HGET', KEYS[1], 'spots'))
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
local reserved = redis.call('HINCRBY', slot, 'reserved', -spots)
if reserved < 0 then
	return -2
end
return 1
`

// KEYS: hold, index. ARGV: token
var commitScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'committed', 1)
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`

// RedisLedger runs each check-and-increment as a Lua script, which Redis
// executes without interleaving other commands.
type RedisLedger struct {
	rdb      redis.Cmdable
	capacity CapacityFunc
	opts     Options
	caps     sync.Map
}

func NewRedisLedger(rdb redis.Cmdable, capacity CapacityFunc, opts Options) *RedisLedger {
	return &RedisLedger{rdb: rdb, capacity: capacity, opts: opts.withDefaults()}
}

func slotKey(key SlotKey) string {
	return fmt.Sprintf("capacity:slot:%d:%s", key.TourID, key.Date)
}

func holdKey(token string) string {
	return "capacity:hold:" + token
}

func (l *RedisLedger) capacityFor(ctx context.Context, tourID uint) (int, error) {
	if v, ok := l.caps.Load(tourID); ok {
		return v.(int), nil
	}
	capacity, err := l.capacity.lookup(ctx, tourID)
	if err != nil {
		return 0, err
	}
	l.caps.Store(tourID, capacity)
	return capacity, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, key SlotKey, spots int) (Token, error) {
	if spots < 0 {
		return Token{}, ErrInvalidSpots
	}
	if spots == 0 {
		return Token{Key: key}, nil
	}
	capacity, err := l.capacityFor(ctx, key.TourID)
	if err != nil {
		return Token{}, err
	}

	token := Token{
		ID:        l.opts.NewToken(),
		Key:       key,
		Spots:     spots,
		ExpiresAt: l.opts.Now().Add(l.opts.HoldWindow),
	}
	status, err := l.rdb.Eval(ctx, reserveScript,
		[]string{slotKey(key), holdKey(token.ID), holdsIndexKey},
		spots, capacity, token.ID, token.ExpiresAt.Unix(),
	).Int64()
	if err != nil {
		return Token{}, err
	}
	switch status {
	case statusExceeded:
		metrics.CapacityRejections.Inc()
		return Token{}, ErrCapacityExceeded
	case statusCorrupt:
		return Token{}, alarm(key, capacity, -1)
	}
	return token, nil
}

func (l *RedisLedger) Release(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	status, err := l.rdb.Eval(ctx, releaseScript,
		[]string{holdKey(tokenID), holdsIndexKey},
		tokenID,
	).Int64()
	if err != nil {
		return err
	}
	if status == statusCorrupt {
		metrics.IntegrityAlarms.WithLabelValues("capacity").Inc()
		log.Printf("[CapacityLedger] INTEGRITY ALARM negative reserved count after releasing %s\n", tokenID)
		return fmt.Errorf("%w: hold %s", ErrConcurrentOversell, tokenID)
	}
	return nil
}

func (l *RedisLedger) Commit(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	status, err := l.rdb.Eval(ctx, commitScript,
		[]string{holdKey(tokenID), holdsIndexKey},
		tokenID,
	).Int64()
	if err != nil {
		return err
	}
	if status == 0 {
		return ErrHoldNotFound
	}
	return nil
}

func (l *RedisLedger) Query(ctx context.Context, key SlotKey) (Availability, error) {
	vals, err := l.rdb.HMGet(ctx, slotKey(key), "max", "reserved").Result()
	if err != nil {
		return Availability{}, err
	}
	if vals[0] == nil {
		capacity, err := l.capacityFor(ctx, key.TourID)
		if err != nil {
			return Availability{}, err
		}
		return availability(capacity, 0), nil
	}
	capacity, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return Availability{}, err
	}
	reserved := 0
	if vals[1] != nil {
		if reserved, err = strconv.Atoi(fmt.Sprint(vals[1])); err != nil {
			return Availability{}, err
		}
	}
	return availability(capacity, reserved), nil
}

func (l *RedisLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	tokens, err := l.rdb.ZRangeByScore(ctx, holdsIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	released := 0
	for _, token := range tokens {
		if err := l.Release(ctx, token); err != nil {
			log.Printf("[CapacityLedger] Error releasing expired hold %s: %s\n", token, err.Error())
			continue
		}
		released++
	}
	metrics.HoldsExpired.Add(float64(released))
	return released, nil
}
