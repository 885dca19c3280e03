package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers message ids for a bounded time so replays can be dropped.
type Deduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *Deduper {
	if prefix == "" {
		prefix = "dedupe"
	}
	return &Deduper{client: client, prefix: prefix, ttl: ttl}
}

// FirstSeen records id and reports whether this is the first time it was seen.
// An empty id is never de-duplicated.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if d == nil || id == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, d.prefix+":"+id, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe %s: %w", id, err)
	}
	return ok, nil
}

// Forget drops id so a failed delivery can be retried by the sender.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	if d == nil || id == "" {
		return nil
	}
	return d.client.Del(ctx, d.prefix+":"+id).Err()
}
