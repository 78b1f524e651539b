package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ownersWithListsKey tracks every owner_id that currently has a
// queue_list:{owner_id} key, so rebalance can delete exactly those keys
// without a KEYS pattern scan (spec §4.6 "delete every queue_list:*").
func (q *Queue) ownersWithListsKey() string { return q.key("owners_with_lists") }

// rebalanceScript implements spec §4.6 rebalance: given the currently
// active owner ids (sorted lexically by the caller) it deletes every
// previously tracked queue_list:{owner}, round-robins the 50 fixed
// partitions across the active owners, writes the new lists, and updates
// the tracking set — all as one script so no client observes a partial
// assignment.
var rebalanceScript = redis.NewScript(`
local ownersKey = KEYS[1]
local prefix = ARGV[1]
local partitionCount = tonumber(ARGV[2])
local activeOwners = {}
for i = 3, #ARGV do
	table.insert(activeOwners, ARGV[i])
end

local tracked = redis.call('SMEMBERS', ownersKey)
for _, owner in ipairs(tracked) do
	redis.call('DEL', prefix .. owner)
end
redis.call('DEL', ownersKey)

local n = #activeOwners
if n == 0 then
	return 0
end

for p = 0, partitionCount - 1 do
	local owner = activeOwners[(p % n) + 1]
	local key = prefix .. owner
	redis.call('RPUSH', key, string.format('%03d', p))
	redis.call('SADD', ownersKey, owner)
end
return n
`)

// rebalance recomputes partition ownership across the currently active
// owners (spec §4.6 "Rebalance"). Callers pass the live owner id list;
// Queue sorts it for deterministic round-robin assignment.
func (q *Queue) rebalance(ctx context.Context, activeOwners []string) (map[string][]string, error) {
	sort.Strings(activeOwners)
	args := make([]interface{}, 0, len(activeOwners)+2)
	args = append(args, q.key("queue_list:"), partitionCount)
	for _, o := range activeOwners {
		args = append(args, o)
	}
	if _, err := rebalanceScript.Run(ctx, q.client, []string{q.ownersWithListsKey()}, args...).Result(); err != nil {
		return nil, fmt.Errorf("queue: rebalance: %w", err)
	}

	assignment := make(map[string][]string, len(activeOwners))
	for _, owner := range activeOwners {
		parts, err := q.client.LRange(ctx, q.ownerQueueListKey(owner), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: rebalance: read %s: %w", owner, err)
		}
		assignment[owner] = parts
	}
	return assignment, nil
}

var joinScript = redis.NewScript(`
local activityKey = KEYS[1]
local ownerID = ARGV[1]
local nowMS = ARGV[2]
local staleCutoff = ARGV[3]
redis.call('ZADD', activityKey, nowMS, ownerID)
redis.call('ZREMRANGEBYSCORE', activityKey, '-inf', staleCutoff)
return redis.call('ZRANGE', activityKey, 0, -1)
`)

// Join registers this owner as active, prunes stale owners, and rebalances
// all 50 partitions across the live set (spec §4.6 "join").
func (q *Queue) Join(ctx context.Context, nowMS int64, inactiveThresholdMS int64) (int, map[string][]string, error) {
	staleCutoff := nowMS - inactiveThresholdMS
	res, err := joinScript.Run(ctx, q.client, []string{q.ownerActivityKey()}, q.ownerID, nowMS, staleCutoff).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("queue: join: %w", err)
	}
	owners := toStringSlice(res)
	assignment, err := q.rebalance(ctx, owners)
	if err != nil {
		return 0, nil, err
	}
	return len(owners), assignment, nil
}

var exitScript = redis.NewScript(`
local activityKey = KEYS[1]
local ownerID = ARGV[1]
redis.call('ZREM', activityKey, ownerID)
return redis.call('ZRANGE', activityKey, 0, -1)
`)

// Exit deregisters this owner and rebalances the remaining owners (spec
// §4.6 "exit").
func (q *Queue) Exit(ctx context.Context) error {
	res, err := exitScript.Run(ctx, q.client, []string{q.ownerActivityKey()}, q.ownerID).Result()
	if err != nil {
		return fmt.Errorf("queue: exit: %w", err)
	}
	_, err = q.rebalance(ctx, toStringSlice(res))
	return err
}

var keepaliveScript = redis.NewScript(`
local activityKey = KEYS[1]
local listKey = KEYS[2]
local ownerID = ARGV[1]
local nowMS = ARGV[2]
if redis.call('EXISTS', listKey) == 0 then
	return 0
end
redis.call('ZADD', activityKey, nowMS, ownerID)
return 1
`)

// Keepalive refreshes this owner's activity score only if it still has an
// assigned queue_list (spec §4.6 "keepalive").
func (q *Queue) Keepalive(ctx context.Context, nowMS int64) (bool, error) {
	res, err := keepaliveScript.Run(ctx, q.client, []string{q.ownerActivityKey(), q.ownerQueueListKey(q.ownerID)}, q.ownerID, nowMS).Result()
	if err != nil {
		return false, fmt.Errorf("queue: keepalive: %w", err)
	}
	ok := fmt.Sprintf("%v", res) == "1"
	if ok {
		q.lastKeepalive = time.UnixMilli(nowMS)
	}
	return ok, nil
}

var cleanupInactiveScript = redis.NewScript(`
local activityKey = KEYS[1]
local staleCutoff = ARGV[1]
local stale = redis.call('ZRANGEBYSCORE', activityKey, '-inf', staleCutoff)
if #stale > 0 then
	redis.call('ZREMRANGEBYSCORE', activityKey, '-inf', staleCutoff)
end
return redis.call('ZRANGE', activityKey, 0, -1)
`)

// CleanupInactiveOwners evicts owners whose activity score is below
// threshold, rebalancing if any were evicted (spec §4.6
// "cleanup_inactive_owners").
func (q *Queue) CleanupInactiveOwners(ctx context.Context, nowMS int64, inactiveThresholdMS int64) error {
	staleCutoff := nowMS - inactiveThresholdMS
	res, err := cleanupInactiveScript.Run(ctx, q.client, []string{q.ownerActivityKey()}, staleCutoff).Result()
	if err != nil {
		return fmt.Errorf("queue: cleanup_inactive_owners: %w", err)
	}
	_, err = q.rebalance(ctx, toStringSlice(res))
	return err
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, fmt.Sprintf("%v", r))
	}
	return out
}
