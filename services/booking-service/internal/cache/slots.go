// Package cache keeps computed slot lists in Redis for the public
// availability endpoint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/availability"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// SlotCache stores busy-filtered slots per (business, config version, date,
// service). A per-date generation counter is bumped on every calendar change,
// so invalidation never has to enumerate services.
//
// Redis failures are logged and treated as misses.
type SlotCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewSlotCache(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *SlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotCache{rdb: rdb, ttl: ttl, prefix: "bw:slots", logger: logger}
}

func (c *SlotCache) genKey(businessID, date string) string {
	return fmt.Sprintf("%s:gen:%s:%s", c.prefix, businessID, date)
}

func (c *SlotCache) slotKey(b model.Business, serviceID string, date model.Date, gen int64) string {
	return fmt.Sprintf("%s:%s:v%d:%s:g%d:%s", c.prefix, b.ID, b.ConfigVersion, date, gen, serviceID)
}

func (c *SlotCache) generation(ctx context.Context, businessID, date string) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey(businessID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached slots and the generation it looked under. A miss
// hands that generation to Put so a list computed before an Invalidate is
// filed where no later reader looks. The generation is -1 when Redis could
// not be read.
func (c *SlotCache) Get(ctx context.Context, b model.Business, serviceID string, date model.Date) ([]availability.Slot, int64, bool) {
	gen, err := c.generation(ctx, b.ID, date.String())
	if err != nil {
		c.logger.Warn("slot cache read failed", "err", err, "business_id", b.ID)
		return nil, -1, false
	}
	raw, err := c.rdb.Get(ctx, c.slotKey(b, serviceID, date, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false
	}
	if err != nil {
		c.logger.Warn("slot cache read failed", "err", err, "business_id", b.ID)
		return nil, gen, false
	}
	var slots []availability.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, gen, false
	}
	return slots, gen, true
}

// Put stores slots under gen, the generation returned by the Get that missed.
func (c *SlotCache) Put(ctx context.Context, b model.Business, serviceID string, date model.Date, gen int64, slots []availability.Slot) {
	if gen < 0 {
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.slotKey(b, serviceID, date, gen), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "err", err, "business_id", b.ID)
	}
}

// Invalidate drops every cached slot list of the date. The generation key
// outlives the entries it guards.
func (c *SlotCache) Invalidate(ctx context.Context, businessID, date string) {
	key := c.genKey(businessID, date)
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*c.ttl+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("slot cache invalidation failed", "err", err, "business_id", businessID, "date", date)
	}
}

func (c *SlotCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
