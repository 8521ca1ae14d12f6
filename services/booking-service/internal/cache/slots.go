// Package cache keeps short-lived slot listings in Redis.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type HitRecorder interface {
	SlotCache(hit bool)
}

// RedisSlots caches computed slots per (provider, date). Redis failures degrade to
// a cache miss; they never fail the caller.
type RedisSlots struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	hits   HitRecorder
}

func NewRedisSlots(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger, hits HitRecorder) *RedisSlots {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisSlots{rdb: rdb, ttl: ttl, logger: logger, hits: hits}
}

// versionTTL outlives any listing computation; an expired version reads as 0,
// which still mismatches every token handed out before it expired.
const versionTTL = 24 * time.Hour

func key(providerID, date string) string {
	return "slots:" + providerID + ":" + date
}

func versionKey(providerID, date string) string {
	return "slots-version:" + providerID + ":" + date
}

// setIfCurrent writes the listing only while the date's version still matches the
// token the reader saw before computing it.
var setIfCurrent = redis.NewScript(`
local v = redis.call("GET", KEYS[2])
if (v or "0") ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// Get returns the cached listing. On a miss it returns the date's version token
// for the following Set; -1 means the cache is unreachable.
func (c *RedisSlots) Get(ctx context.Context, providerID, date string) ([]model.Slot, int64, bool) {
	vals, err := c.rdb.MGet(ctx, key(providerID, date), versionKey(providerID, date)).Result()
	if err != nil {
		c.logger.Warn("slot cache read failed", "err", err, "provider_id", providerID, "date", date)
		c.record(false)
		return nil, -1, false
	}
	var version int64
	if v, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(v, 10, 64); err != nil {
			c.record(false)
			return nil, -1, false
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		c.record(false)
		return nil, version, false
	}
	var slots []model.Slot
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		c.record(false)
		return nil, version, false
	}
	c.record(true)
	return slots, version, true
}

// Set stores slots computed after a Get that returned version. It is a no-op when an
// Invalidate ran in between.
func (c *RedisSlots) Set(ctx context.Context, providerID, date string, version int64, slots []model.Slot) {
	if version < 0 {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	keys := []string{key(providerID, date), versionKey(providerID, date)}
	stored, err := setIfCurrent.Run(ctx, c.rdb, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("slot cache write failed", "err", err, "provider_id", providerID, "date", date)
		return
	}
	if stored == 0 {
		c.logger.Debug("slot cache write skipped, listing went stale", "provider_id", providerID, "date", date)
	}
}

// Invalidate drops the listings and bumps their versions so in-flight readers
// cannot write back what they computed before the change.
func (c *RedisSlots) Invalidate(ctx context.Context, providerID string, dates ...string) {
	if len(dates) == 0 {
		return
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range dates {
			pipe.Incr(ctx, versionKey(providerID, d))
			pipe.Expire(ctx, versionKey(providerID, d), versionTTL)
			pipe.Del(ctx, key(providerID, d))
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("slot cache invalidate failed", "err", err, "provider_id", providerID)
	}
}

func (c *RedisSlots) record(hit bool) {
	if c.hits != nil {
		c.hits.SlotCache(hit)
	}
}
