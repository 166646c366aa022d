package redis

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// UsageCache stores the last invite usage snapshot of each community.
type UsageCache struct {
	rdb *redis.Client
}

func NewUsageCache(rdb *redis.Client) *UsageCache {
	return &UsageCache{rdb: rdb}
}

func (c *UsageCache) Uses(ctx context.Context, community string) (map[string]int, error) {
	raw, err := c.rdb.HGetAll(ctx, usesKey(community)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage of %s: %w", community, err)
	}
	uses := make(map[string]int, len(raw))
	for code, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad usage value %q for invite %s: %w", v, code, err)
		}
		uses[code] = n
	}
	return uses, nil
}

// Put replaces the snapshot; invites missing from uses are forgotten.
func (c *UsageCache) Put(ctx context.Context, community string, uses map[string]int) error {
	key := usesKey(community)
	values := make(map[string]any, len(uses))
	for code, n := range uses {
		values[code] = n
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write usage of %s: %w", community, err)
	}
	return nil
}
