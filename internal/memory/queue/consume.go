package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"evermemcore/internal/memory/codec"
)

// GetMessagesStatus reports why Consume returned no payloads, mirroring
// spec §4.6's get_messages status values.
type GetMessagesStatus string

const (
	StatusOK            GetMessagesStatus = "ok"
	StatusJoinRequired   GetMessagesStatus = "join_required"
	StatusNoQueues       GetMessagesStatus = "no_queues"
)

// ErrJoinLimitExceeded is returned when the automatic join-and-retry in
// Consume exhausts its recursion budget (spec §4.6 "max 2 recursions").
var ErrJoinLimitExceeded = errors.New("queue: join-required retry limit exceeded")

var getMessagesScript = redis.NewScript(`
local listKey = KEYS[1]
local scoreThreshold = ARGV[1]
local currentScore = ARGV[2]
local maxThreshold = currentScore - scoreThreshold

if redis.call('EXISTS', listKey) == 0 then
	return {err = 'JOIN_REQUIRED'}
end

local partitions = redis.call('LRANGE', listKey, 0, -1)
if #partitions == 0 then
	return {err = 'NO_QUEUES'}
end

local out = {}
for _, p in ipairs(partitions) do
	local queueKey = ARGV[3] .. p
	local popped = redis.call('ZRANGEBYSCORE', queueKey, '-inf', maxThreshold, 'LIMIT', 0, 1)
	if #popped > 0 then
		redis.call('ZREM', queueKey, popped[1])
		redis.call('DECR', ARGV[4])
		table.insert(out, popped[1])
	end
end
return out
`)

// Message is one payload returned by Consume, with the uuid dedup prefix
// stripped back off.
type Message struct {
	ID      string
	Payload []byte
}

// Consume implements spec §4.6 get_messages plus the client-side
// auto-join-and-retry contract: a JOIN_REQUIRED result triggers an
// automatic Join and a single retry, recursing at most twice before
// failing. It also applies the "keepalive every >30s" client policy.
func (q *Queue) Consume(ctx context.Context, scoreThreshold int64, currentScoreMS int64) ([]Message, GetMessagesStatus, error) {
	return q.consume(ctx, scoreThreshold, currentScoreMS, 0)
}

func (q *Queue) consume(ctx context.Context, scoreThreshold int64, currentScoreMS int64, retries int) ([]Message, GetMessagesStatus, error) {
	if time.Since(q.lastKeepalive) > 30*time.Second {
		if _, err := q.Keepalive(ctx, currentScoreMS); err != nil {
			return nil, "", fmt.Errorf("queue: consume keepalive: %w", err)
		}
	}

	res, err := getMessagesScript.Run(ctx, q.client, []string{q.ownerQueueListKey(q.ownerID)},
		scoreThreshold, currentScoreMS, q.key("queue:"), q.counterKey()).Result()
	if err != nil {
		if isJoinRequired(err) {
			if retries >= 2 {
				return nil, StatusJoinRequired, ErrJoinLimitExceeded
			}
			if _, _, joinErr := q.Join(ctx, currentScoreMS, int64(q.cfg.ActivityExpireSeconds)*1000); joinErr != nil {
				return nil, "", fmt.Errorf("queue: consume auto-join: %w", joinErr)
			}
			return q.consume(ctx, scoreThreshold, currentScoreMS, retries+1)
		}
		if isNoQueues(err) {
			return nil, StatusNoQueues, nil
		}
		return nil, "", fmt.Errorf("queue: get_messages: %w", err)
	}

	members := toStringSlice(res)
	out := make([]Message, 0, len(members))
	for _, m := range members {
		id, payload := splitMember(m)
		out = append(out, Message{ID: id, Payload: payload})
	}
	return out, StatusOK, nil
}

func splitMember(m string) (id string, payload []byte) {
	if parsed, ok := codec.ParseUnique(m); ok {
		i := strings.IndexByte(m, ':')
		return m[:i], []byte(parsed)
	}
	return m, nil
}

func isJoinRequired(err error) bool {
	return strings.Contains(err.Error(), "JOIN_REQUIRED")
}

func isNoQueues(err error) bool {
	return strings.Contains(err.Error(), "NO_QUEUES")
}
