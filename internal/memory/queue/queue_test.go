package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"evermemcore/internal/config"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.QueueConfig{
		KeyPrefix:              "test",
		GlobalPrefix:           "evermem",
		MaxTotalMessages:       100,
		ExpireSeconds:          3600,
		ActivityExpireSeconds: 60,
		EnableMetrics:          true,
		LogIntervalSeconds:     30,
		CleanupIntervalSeconds: 300,
	}
	return New(client, cfg), mr
}

func TestPartition_Deterministic(t *testing.T) {
	a := Partition("group-1")
	b := Partition("group-1")
	if a != b {
		t.Fatalf("expected stable partition, got %d then %d", a, b)
	}
	if a < 0 || a >= partitionCount {
		t.Fatalf("partition %d out of range", a)
	}
}

func TestDeliver_AcceptsThenRejectsWhenFull(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	q.cfg.MaxTotalMessages = 2

	now := time.Now().UnixMilli()
	for i := 0; i < 2; i++ {
		res, err := q.Deliver(ctx, "g1", []byte(fmt.Sprintf("payload-%d", i)), now, q.cfg.MaxTotalMessages, q.cfg.ExpireSeconds, nil)
		if err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
		if !res.Accepted {
			t.Fatalf("deliver %d: expected accepted, got %+v", i, res)
		}
	}

	res, err := q.Deliver(ctx, "g1", []byte("overflow"), now, q.cfg.MaxTotalMessages, q.cfg.ExpireSeconds, nil)
	if err != nil {
		t.Fatalf("deliver overflow: %v", err)
	}
	if res.Accepted || res.Reason != "queue_full" {
		t.Fatalf("expected queue_full rejection, got %+v", res)
	}
}

func TestJoin_RebalancesPartitionsAcrossOwners(t *testing.T) {
	ctx := context.Background()
	q1, mr := newTestQueue(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q2 := New(client, q1.cfg)

	now := time.Now().UnixMilli()
	threshold := int64(q1.cfg.ActivityExpireSeconds) * 1000

	n1, assign1, err := q1.Join(ctx, now, threshold)
	if err != nil {
		t.Fatalf("join q1: %v", err)
	}
	if n1 != 1 || len(assign1[q1.OwnerID()]) != partitionCount {
		t.Fatalf("expected single owner holding all partitions, got n=%d assign=%+v", n1, assign1)
	}

	n2, assign2, err := q2.Join(ctx, now, threshold)
	if err != nil {
		t.Fatalf("join q2: %v", err)
	}
	if n2 != 2 {
		t.Fatalf("expected 2 active owners, got %d", n2)
	}
	total := len(assign2[q1.OwnerID()]) + len(assign2[q2.OwnerID()])
	if total != partitionCount {
		t.Fatalf("expected %d partitions split across owners, got %d", partitionCount, total)
	}
	if len(assign2[q1.OwnerID()]) == 0 || len(assign2[q2.OwnerID()]) == 0 {
		t.Fatalf("expected both owners to receive partitions, got %+v", assign2)
	}
}

func TestKeepalive_NoopWithoutQueueList(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	ok, err := q.Keepalive(ctx, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	if ok {
		t.Fatalf("expected keepalive to no-op before join")
	}
}

func TestConsume_EmptyAfterJoinWithNothingDelivered(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now().UnixMilli()

	if _, _, err := q.Join(ctx, now, int64(q.cfg.ActivityExpireSeconds)*1000); err != nil {
		t.Fatalf("join: %v", err)
	}

	msgs, status, err := q.Consume(ctx, 0, now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if status != StatusOK || len(msgs) != 0 {
		t.Fatalf("expected ok/empty for a joined owner with nothing delivered, got status=%s msgs=%v", status, msgs)
	}
}

func TestConsume_JoinRequiredAutoJoinsAndRetrieves(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now().UnixMilli()

	groupKey := "group-x"
	if _, err := q.Deliver(ctx, groupKey, []byte("hello"), now, q.cfg.MaxTotalMessages, q.cfg.ExpireSeconds, nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	msgs, status, err := q.Consume(ctx, 0, now+1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("expected ok after auto-join, got status=%s", status)
	}
	if len(msgs) != 1 || string(msgs[0].Payload) != "hello" {
		t.Fatalf("expected to retrieve delivered payload, got %+v", msgs)
	}
}

func TestConsume_JoinLimitExceededAtRetryBudget(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now().UnixMilli()

	_, status, err := q.consume(ctx, 0, now, 2)
	if status != StatusJoinRequired || err != ErrJoinLimitExceeded {
		t.Fatalf("expected join limit exceeded at retry budget, got status=%s err=%v", status, err)
	}
}

func TestCleanupInactiveOwners_EvictsStaleAndRebalances(t *testing.T) {
	ctx := context.Background()
	q1, mr := newTestQueue(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q2 := New(client, q1.cfg)

	now := time.Now().UnixMilli()
	threshold := int64(q1.cfg.ActivityExpireSeconds) * 1000

	if _, _, err := q1.Join(ctx, now-120000, threshold); err != nil {
		t.Fatalf("join q1: %v", err)
	}
	if _, _, err := q2.Join(ctx, now, threshold); err != nil {
		t.Fatalf("join q2: %v", err)
	}

	if err := q1.CleanupInactiveOwners(ctx, now, threshold); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	parts, err := client.LRange(ctx, q1.ownerQueueListKey(q1.OwnerID()), 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(parts) != 0 {
		t.Fatalf("expected stale owner's queue_list cleared, got %v", parts)
	}

	parts2, err := client.LRange(ctx, q2.ownerQueueListKey(q2.OwnerID()), 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange q2: %v", err)
	}
	if len(parts2) != partitionCount {
		t.Fatalf("expected surviving owner to hold all partitions, got %d", len(parts2))
	}
}

func TestForceCleanup_PurgeAllClearsEverything(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now().UnixMilli()

	if _, _, err := q.Join(ctx, now, int64(q.cfg.ActivityExpireSeconds)*1000); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := q.Deliver(ctx, "g1", []byte("x"), now, q.cfg.MaxTotalMessages, q.cfg.ExpireSeconds, nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if err := q.ForceCleanup(ctx, true); err != nil {
		t.Fatalf("force cleanup: %v", err)
	}

	total, err := q.TotalMessages(ctx)
	if err != nil {
		t.Fatalf("total messages: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected all partitions purged, got total=%d", total)
	}
}

func TestLifecycle_SoftShutdownRefusesWithRemainingMessages(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Now().UnixMilli()

	if _, err := q.Deliver(ctx, "g1", []byte("x"), now, q.cfg.MaxTotalMessages, q.cfg.ExpireSeconds, nil); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	lc := NewLifecycle(q)
	if err := lc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := lc.Shutdown(ctx, true); err == nil {
		t.Fatalf("expected soft shutdown to refuse while messages remain")
	}

	if err := lc.Shutdown(ctx, false); err != nil {
		t.Fatalf("expected hard shutdown to proceed, got %v", err)
	}
}

func TestLifecycle_StartTwiceFails(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	lc := NewLifecycle(q)
	if err := lc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := lc.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail from non-CREATED state")
	}
	if err := lc.Shutdown(ctx, false); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
