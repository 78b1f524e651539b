// Package queue implements the partitioned Redis ZSET work queue (spec
// §4.6): 50 fixed partitions routed by group_key hash, multiple consumers
// sharing partitions via owner registration and rebalancing, atomic
// deliver/join/exit/keepalive/get_messages/cleanup operations each
// implemented as a single Lua script so no other client observes an
// intermediate state.
package queue

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"evermemcore/internal/config"
	"evermemcore/internal/memory/codec"
)

const partitionCount = 50

// Queue is a partitioned Redis work queue instance bound to one key
// namespace (spec §4.6 "Keys").
type Queue struct {
	client redis.UniversalClient
	cfg    config.QueueConfig

	ownerID       string
	lastKeepalive time.Time
}

// New constructs a Queue over an already-connected Redis client.
func New(client redis.UniversalClient, cfg config.QueueConfig) *Queue {
	return &Queue{client: client, cfg: cfg, ownerID: newOwnerID(cfg.KeyPrefix)}
}

func newOwnerID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

func (q *Queue) key(suffix string) string {
	return q.cfg.GlobalPrefix + ":" + q.cfg.KeyPrefix + ":" + suffix
}

func (q *Queue) partitionKey(p int) string {
	return q.key(fmt.Sprintf("queue:%03d", p))
}

func (q *Queue) ownerActivityKey() string { return q.key("owner_activate_time_zset") }
func (q *Queue) ownerQueueListKey(owner string) string {
	return q.key("queue_list:" + owner)
}
func (q *Queue) counterKey() string { return q.key("counter") }

// Partition implements spec §4.6 "Partition routing":
// partition = (md5(group_key)[:8] as int) % 50, rendered zero-padded.
func Partition(groupKey string) int {
	sum := md5.Sum([]byte(groupKey))
	n := binary.BigEndian.Uint32(sum[:4])
	return int(n % partitionCount)
}

// OwnerID returns this process's derived owner id.
func (q *Queue) OwnerID() string { return q.ownerID }

// DeliverResult reports the outcome of Deliver.
type DeliverResult struct {
	Accepted bool
	Reason   string // "queue_full" when rejected
}

var deliverScript = redis.NewScript(`
local queueKey = KEYS[1]
local counterKey = KEYS[2]
local member = ARGV[1]
local score = ARGV[2]
local maxTotal = tonumber(ARGV[3])
local expireSeconds = tonumber(ARGV[4])

local current = tonumber(redis.call('GET', counterKey) or '0')
if current >= maxTotal then
	return {0, 'queue_full'}
end

local added = redis.call('ZADD', queueKey, score, member)
redis.call('EXPIRE', queueKey, expireSeconds)
if added == 1 then
	redis.call('INCR', counterKey)
end
return {1, ''}
`)

var evictOldScript = redis.NewScript(`
local queueKey = KEYS[1]
local counterKey = KEYS[2]
local threshold = ARGV[1]
local removed = redis.call('ZREMRANGEBYSCORE', queueKey, '-inf', threshold)
if removed > 0 then
	redis.call('DECRBY', counterKey, removed)
end
return removed
`)

// Deliver implements spec §4.6 "deliver(group_key, payload, score,
// max_total, expire)": rejects once the global counter reaches max_total,
// otherwise ZADDs a uuid-prefixed member (so identical payloads can
// coexist), refreshes the partition TTL, and increments counter only on
// the member's first insertion. A random eviction tick (p=0.1) drops
// members older than evictBefore when provided.
func (q *Queue) Deliver(ctx context.Context, groupKey string, payload []byte, scoreMS int64, maxTotal int, expireSeconds int, evictBefore *int64) (DeliverResult, error) {
	p := Partition(groupKey)
	member := codec.WrapUnique(string(payload))

	res, err := deliverScript.Run(ctx, q.client, []string{q.partitionKey(p), q.counterKey()}, member, scoreMS, maxTotal, expireSeconds).Result()
	if err != nil {
		return DeliverResult{}, fmt.Errorf("queue: deliver: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return DeliverResult{}, fmt.Errorf("queue: deliver: unexpected script result %v", res)
	}
	accepted := fmt.Sprintf("%v", vals[0]) == "1"
	reason, _ := vals[1].(string)

	if accepted && rand.Float64() < 0.1 && evictBefore != nil {
		if _, err := evictOldScript.Run(ctx, q.client, []string{q.partitionKey(p), q.counterKey()}, *evictBefore).Result(); err != nil {
			return DeliverResult{Accepted: true}, fmt.Errorf("queue: eviction tick: %w", err)
		}
	}
	return DeliverResult{Accepted: accepted, Reason: reason}, nil
}
