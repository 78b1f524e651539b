// Package cache implements the windowed and length-bounded ZSET caches
// (spec §4.7): a shared shape (score = timestamp ms, member = uuid:payload)
// with two probabilistic eviction policies layered on top.
package cache

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"evermemcore/internal/config"
	"evermemcore/internal/memory/codec"
)

// Kind selects which eviction policy Append applies.
type Kind int

const (
	// LengthBounded trims from the lowest score so size stays at or below
	// MaxLength.
	LengthBounded Kind = iota
	// Windowed evicts members older than 2x the configured expiry window.
	Windowed
)

// Cache is one ZSET-backed cache bound to a single Redis key.
type Cache struct {
	client redis.UniversalClient
	cfg    config.CacheConfig
	kind   Kind
	key    string
}

// New binds a Cache of the given kind to key (already namespaced by the
// caller, e.g. "profile_evidence:{user_id}").
func New(client redis.UniversalClient, cfg config.CacheConfig, kind Kind, key string) *Cache {
	return &Cache{client: client, cfg: cfg, kind: kind, key: cfg.GlobalPrefix + ":" + key}
}

var trimLengthScript = redis.NewScript(`
local key = KEYS[1]
local maxLength = tonumber(ARGV[1])
local size = redis.call('ZCARD', key)
if size > maxLength then
	redis.call('ZREMRANGEBYRANK', key, 0, size - maxLength - 1)
end
return size
`)

var trimWindowScript = redis.NewScript(`
local key = KEYS[1]
local cutoff = ARGV[1]
return redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
`)

// Append implements spec §4.7 "on every append": ZADDs a uuid-wrapped
// payload at scoreMS, refreshes the key's TTL, then with probability
// cleanup_probability (length-bounded) or window_cleanup_probability
// (windowed), each 0.1 when unset, runs the matching eviction pass.
func (c *Cache) Append(ctx context.Context, payload []byte, scoreMS int64) error {
	member := codec.WrapUnique(string(payload))
	if err := c.client.ZAdd(ctx, c.key, redis.Z{Score: float64(scoreMS), Member: member}).Err(); err != nil {
		return fmt.Errorf("cache: append zadd: %w", err)
	}
	ttl := time.Duration(c.cfg.ExpireMinutes) * time.Minute
	if err := c.client.Expire(ctx, c.key, ttl).Err(); err != nil {
		return fmt.Errorf("cache: append expire: %w", err)
	}

	switch c.kind {
	case LengthBounded:
		prob := c.cfg.CleanupProbability
		if prob <= 0 {
			prob = 0.1
		}
		if rand.Float64() < prob {
			if err := trimLengthScript.Run(ctx, c.client, []string{c.key}, c.cfg.MaxLength).Err(); err != nil {
				return fmt.Errorf("cache: length trim: %w", err)
			}
		}
	case Windowed:
		prob := c.cfg.WindowCleanupProbability
		if prob <= 0 {
			prob = 0.1
		}
		if rand.Float64() < prob {
			cutoff := scoreMS - 2*int64(c.cfg.ExpireMinutes)*60000
			if err := trimWindowScript.Run(ctx, c.client, []string{c.key}, cutoff).Err(); err != nil {
				return fmt.Errorf("cache: window trim: %w", err)
			}
		}
	}
	return nil
}

// Item is one entry returned by Range.
type Item struct {
	ID        string
	Data      []byte
	Timestamp int64
	Datetime  string
}

// Range implements spec §4.7's range query by score bounds, returning
// entries sorted newest-first.
func (c *Cache) Range(ctx context.Context, minScoreMS, maxScoreMS int64) ([]Item, error) {
	res, err := c.client.ZRevRangeByScoreWithScores(ctx, c.key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScoreMS),
		Max: fmt.Sprintf("%d", maxScoreMS),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: range: %w", err)
	}

	out := make([]Item, 0, len(res))
	for _, z := range res {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, data, ok := splitMember(member)
		if !ok {
			continue
		}
		ts := int64(z.Score)
		out = append(out, Item{
			ID:        id,
			Data:      data,
			Timestamp: ts,
			Datetime:  time.UnixMilli(ts).UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func splitMember(member string) (id string, payload []byte, ok bool) {
	parsed, ok := codec.ParseUnique(member)
	if !ok {
		return "", nil, false
	}
	return member[:len(member)-len(parsed)-1], []byte(parsed), true
}
