// Package cache holds the Redis-backed helpers of the kiosk. Every type is
// nil-safe: a nil receiver or client turns calls into no-ops so the kiosk runs
// without Redis.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/attend/internal/models"
)

const recordedPrefix = "attendance:recorded"

// Recorded remembers which (identity, date, schedule) keys already have an
// attendance event. The durable store stays authoritative; a miss here only
// means "ask the store".
type Recorded struct {
	client *redis.Client
	loc    *time.Location
}

func NewRecorded(client *redis.Client, loc *time.Location) *Recorded {
	if loc == nil {
		loc = time.Local
	}
	return &Recorded{client: client, loc: loc}
}

func recordedKey(identityID string, date models.Date, scheduleID int64) string {
	return strings.Join([]string{recordedPrefix, date.String(), strconv.FormatInt(scheduleID, 10), identityID}, ":")
}

// Has reports whether the key is marked. Redis errors are returned so the
// caller can fall back to the store.
func (r *Recorded) Has(ctx context.Context, identityID string, date models.Date, scheduleID int64) (bool, error) {
	if r == nil || r.client == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, recordedKey(identityID, date, scheduleID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the key until the end of date in the kiosk's time zone.
func (r *Recorded) Mark(ctx context.Context, identityID string, date models.Date, scheduleID int64) error {
	if r == nil || r.client == nil {
		return nil
	}
	ttl := time.Until(date.Time(r.loc).AddDate(0, 0, 1))
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, recordedKey(identityID, date, scheduleID), 1, ttl).Err()
}

// Forget clears the key after its attendance event was deleted, so the next
// recognition asks the store again.
func (r *Recorded) Forget(ctx context.Context, identityID string, date models.Date, scheduleID int64) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Del(ctx, recordedKey(identityID, date, scheduleID)).Err()
}

// Ping checks connectivity; a nil cache is always healthy.
func (r *Recorded) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}
