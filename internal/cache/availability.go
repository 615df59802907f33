package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hrplabs/hrp-booking/internal/booking"
)

// AvailabilityCache is a TTL-bounded read-through cache for doctor weekly
// templates. Templates change rarely (edits are gated to one weekday), so a
// short TTL plus invalidation on replace keeps readers off the doctors table
// without risking stale booking decisions: booked slots are always read from
// Postgres.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *AvailabilityCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &AvailabilityCache{client: client, ttl: ttl, log: log}
}

func availabilityKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("availability:doctor:%s", doctorID)
}

// Get returns the cached template, or ok=false on miss or any Redis error.
func (c *AvailabilityCache) Get(ctx context.Context, doctorID uuid.UUID) (booking.Availability, bool) {
	raw, err := c.client.Get(ctx, availabilityKey(doctorID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("availability cache read failed",
				zap.String("doctor_id", doctorID.String()), zap.Error(err))
		}
		return nil, false
	}

	var av booking.Availability
	if err := json.Unmarshal(raw, &av); err != nil {
		c.log.Warn("availability cache entry corrupt, dropping",
			zap.String("doctor_id", doctorID.String()), zap.Error(err))
		c.Invalidate(ctx, doctorID)
		return nil, false
	}
	return av, true
}

// Set stores the template with the configured TTL. Failures are logged and
// swallowed; the cache is best-effort.
func (c *AvailabilityCache) Set(ctx context.Context, doctorID uuid.UUID, av booking.Availability) {
	raw, err := json.Marshal(av)
	if err != nil {
		c.log.Warn("availability cache encode failed",
			zap.String("doctor_id", doctorID.String()), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, availabilityKey(doctorID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("availability cache write failed",
			zap.String("doctor_id", doctorID.String()), zap.Error(err))
	}
}

// Invalidate drops the entry after a template replacement.
func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID) {
	if err := c.client.Del(ctx, availabilityKey(doctorID)).Err(); err != nil {
		c.log.Warn("availability cache invalidation failed",
			zap.String("doctor_id", doctorID.String()), zap.Error(err))
	}
}
