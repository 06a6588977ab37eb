package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	callerKeyPrefix  = "caller:"
	maxMergeAttempts = 5
)

var (
	ErrPhoneRequired = errors.New("caller profile: phone required")
	ErrMergeConflict = errors.New("caller profile: concurrent update, merge gave up")
)

// Cache stores caller profiles in Redis, one hash per normalized phone.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewCache creates a caller profile cache with the given expiry window.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, now: time.Now}
}

func callerKey(phone string) string {
	return callerKeyPrefix + phone
}

// Load returns the cached profile or nil when the phone is not cached.
func (c *Cache) Load(ctx context.Context, phone string) (*CallerProfile, error) {
	raw, err := c.rdb.HGetAll(ctx, callerKey(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("caller profile: load %s: %w", phone, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	p := fromFields(raw)
	return &p, nil
}

// Save replaces the cached profile and restarts its TTL.
func (c *Cache) Save(ctx context.Context, p CallerProfile) error {
	if p.Phone == "" {
		return ErrPhoneRequired
	}
	now := c.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}
	key := callerKey(p.Phone)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.write(ctx, pipe, key, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("caller profile: save %s: %w", p.Phone, err)
	}
	return nil
}

// Merge overlays patch onto the cached profile, keeping any field patch leaves
// unset, and bumps last_seen. When nothing is cached, fallback (may be nil)
// is used as the base.
func (c *Cache) Merge(ctx context.Context, patch CallerProfile, fallback *CallerProfile) (CallerProfile, error) {
	return c.update(ctx, patch.Phone, fallback, func(base CallerProfile) CallerProfile {
		return merge(base, patch)
	})
}

// SyncAppointment replaces only the last-appointment snapshot of the cached
// profile. A nil snapshot clears it. The cached name wins over the fallback's
// unless the cache has none.
func (c *Cache) SyncAppointment(ctx context.Context, phone string, snap *AppointmentSnapshot, fallback *CallerProfile) (CallerProfile, error) {
	return c.update(ctx, phone, fallback, func(base CallerProfile) CallerProfile {
		base.Phone = phone
		if base.Name == "" && fallback != nil {
			base.Name = fallback.Name
		}
		base.LastAppointment = snap
		return base
	})
}

func (c *Cache) update(ctx context.Context, phone string, fallback *CallerProfile, apply func(CallerProfile) CallerProfile) (CallerProfile, error) {
	if phone == "" {
		return CallerProfile{}, ErrPhoneRequired
	}
	key := callerKey(phone)
	var merged CallerProfile

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		now := c.now()
		base := CallerProfile{CreatedAt: now}
		switch {
		case len(raw) > 0:
			base = fromFields(raw)
		case fallback != nil:
			base = *fallback
		}
		merged = apply(base)
		merged.LastSeen = now
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			c.write(ctx, pipe, key, merged)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return CallerProfile{}, fmt.Errorf("caller profile: merge %s: %w", phone, err)
	}
	return CallerProfile{}, ErrMergeConflict
}

func (c *Cache) write(ctx context.Context, pipe redis.Pipeliner, key string, p CallerProfile) {
	fields := p.fields()
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, args...)
	pipe.Expire(ctx, key, c.ttl)
}
