package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	viewersKeyPrefix = "live:viewers:"
	likesKeyPrefix   = "live:likes:"
)

// Counters keeps live engagement numbers in Redis so every relay instance
// reports the same values.
type Counters struct {
	client *redis.Client
}

// NewCounters creates the engagement counter store.
func NewCounters(client *redis.Client) *Counters {
	return &Counters{client: client}
}

// SetViewers records the current participant count for a session.
func (c *Counters) SetViewers(ctx context.Context, sessionID uuid.UUID, count int) error {
	return c.client.Set(ctx, viewersKeyPrefix+sessionID.String(), count, 0).Err()
}

// IncrLikes adds one like and returns the new total.
func (c *Counters) IncrLikes(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	n, err := c.client.Incr(ctx, likesKeyPrefix+sessionID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("incr likes: %w", err)
	}
	return n, nil
}

// Engagement returns the current viewer and like counts. Missing keys read
// as zero.
func (c *Counters) Engagement(ctx context.Context, sessionID uuid.UUID) (viewers, likes int64, err error) {
	viewers, err = c.client.Get(ctx, viewersKeyPrefix+sessionID.String()).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("get viewers: %w", err)
	}
	likes, err = c.client.Get(ctx, likesKeyPrefix+sessionID.String()).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("get likes: %w", err)
	}
	return viewers, likes, nil
}

// Reset clears the counters for a session, e.g. when it transitions to
// replay.
func (c *Counters) Reset(ctx context.Context, sessionID uuid.UUID) error {
	return c.client.Del(ctx, viewersKeyPrefix+sessionID.String(), likesKeyPrefix+sessionID.String()).Err()
}
