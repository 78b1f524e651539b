package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"evermemcore/internal/observability"
)

// State is one of the queue lifecycle states (spec §4.6 "Lifecycle":
// CREATED -> STARTED -> SHUTDOWN, no restart after shutdown).
type State int

const (
	StateCreated State = iota
	StateStarted
	StateShutdown
)

// Lifecycle wraps a Queue with the CREATED/STARTED/SHUTDOWN state machine
// and the periodic cleanup/log background tasks.
type Lifecycle struct {
	Queue *Queue

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  sync.WaitGroup
}

// NewLifecycle wraps q in CREATED state.
func NewLifecycle(q *Queue) *Lifecycle {
	return &Lifecycle{Queue: q, state: StateCreated}
}

// Start transitions CREATED -> STARTED and launches the cleanup and log
// background loops (spec §4.6 "Periodic background tasks").
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateCreated {
		return fmt.Errorf("queue: lifecycle: cannot start from state %d", l.state)
	}
	l.state = StateStarted
	l.stop = make(chan struct{})

	l.done.Add(1)
	go l.cleanupLoop(ctx)
	if l.Queue.cfg.EnableMetrics {
		l.done.Add(1)
		go l.logLoop(ctx)
	}
	return nil
}

// Shutdown transitions STARTED -> SHUTDOWN. soft refuses to complete if
// any partition still has messages (spec §4.6 "Soft-shutdown refuses to
// complete if messages remain; hard-shutdown always proceeds").
func (l *Lifecycle) Shutdown(ctx context.Context, soft bool) error {
	l.mu.Lock()
	if l.state == StateShutdown {
		l.mu.Unlock()
		return nil
	}
	if l.state != StateStarted {
		l.mu.Unlock()
		return fmt.Errorf("queue: lifecycle: cannot shut down from state %d", l.state)
	}
	l.mu.Unlock()

	if soft {
		remaining, err := l.Queue.TotalMessages(ctx)
		if err != nil {
			return fmt.Errorf("queue: lifecycle: soft shutdown check: %w", err)
		}
		if remaining > 0 {
			return fmt.Errorf("queue: lifecycle: soft shutdown refused, %d messages remain", remaining)
		}
	}

	l.mu.Lock()
	close(l.stop)
	l.state = StateShutdown
	l.mu.Unlock()
	l.done.Wait()
	return l.Queue.Exit(ctx)
}

func (l *Lifecycle) cleanupLoop(ctx context.Context) {
	defer l.done.Done()
	interval := time.Duration(l.Queue.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	log := observability.LoggerWithTrace(ctx)
	for {
		jittered := jitter(interval, 0.3)
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(jittered):
			now := time.Now().UnixMilli()
			threshold := int64(l.Queue.cfg.ActivityExpireSeconds) * 1000
			if err := l.Queue.CleanupInactiveOwners(ctx, now, threshold); err != nil {
				log.Warn().Err(err).Msg("queue cleanup_inactive_owners failed")
			}
		}
	}
}

func (l *Lifecycle) logLoop(ctx context.Context) {
	defer l.done.Done()
	interval := time.Duration(l.Queue.cfg.LogIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := observability.LoggerWithTrace(ctx)
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
			stats, err := l.Queue.Stats(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("queue stats failed")
				continue
			}
			log.Info().Int("partitions", len(stats)).Msg("queue stats snapshot")
		}
	}
}

// jitter returns d scaled by a uniform random factor within [1-frac,
// 1+frac].
func jitter(d time.Duration, frac float64) time.Duration {
	scale := 1 + (rand.Float64()*2-1)*frac
	return time.Duration(float64(d) * scale)
}

// PartitionStat summarizes one partition for the log loop and admin tools.
type PartitionStat struct {
	Partition  int
	Size       int64
	OldestMS   int64
	NewestMS   int64
	TTLSeconds int64
}

// Stats reports per-partition size and score range (spec §4.6 "log loop").
func (q *Queue) Stats(ctx context.Context) ([]PartitionStat, error) {
	out := make([]PartitionStat, 0, partitionCount)
	for p := 0; p < partitionCount; p++ {
		key := q.partitionKey(p)
		size, err := q.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: stats: zcard %s: %w", key, err)
		}
		if size == 0 {
			out = append(out, PartitionStat{Partition: p})
			continue
		}
		oldest, _ := q.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		newest, _ := q.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
		ttl, _ := q.client.TTL(ctx, key).Result()
		stat := PartitionStat{Partition: p, Size: size, TTLSeconds: int64(ttl.Seconds())}
		if len(oldest) > 0 {
			stat.OldestMS = int64(oldest[0].Score)
		}
		if len(newest) > 0 {
			stat.NewestMS = int64(newest[0].Score)
		}
		out = append(out, stat)
	}
	return out, nil
}

// TotalMessages sums ZCARD across all 50 partitions (used by soft
// shutdown; intentionally not the approximate `counter` key, since
// shutdown needs the ground truth).
func (q *Queue) TotalMessages(ctx context.Context) (int64, error) {
	var total int64
	for p := 0; p < partitionCount; p++ {
		n, err := q.client.ZCard(ctx, q.partitionKey(p)).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ForceCleanup implements spec §4.6 force_cleanup. purgeAll=false clears
// owner bookkeeping and recomputes counter from actual partition sizes;
// purgeAll=true additionally deletes every partition and zeroes counter.
func (q *Queue) ForceCleanup(ctx context.Context, purgeAll bool) error {
	tracked, err := q.client.SMembers(ctx, q.ownersWithListsKey()).Result()
	if err != nil {
		return fmt.Errorf("queue: force_cleanup: list tracked owners: %w", err)
	}
	for _, owner := range tracked {
		if err := q.client.Del(ctx, q.ownerQueueListKey(owner)).Err(); err != nil {
			return fmt.Errorf("queue: force_cleanup: delete queue_list for %s: %w", owner, err)
		}
	}

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.ownerActivityKey())
	pipe.Del(ctx, q.ownersWithListsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: force_cleanup: clear owner bookkeeping: %w", err)
	}

	if purgeAll {
		pipe := q.client.TxPipeline()
		for p := 0; p < partitionCount; p++ {
			pipe.Del(ctx, q.partitionKey(p))
		}
		pipe.Set(ctx, q.counterKey(), 0, 0)
		_, err := pipe.Exec(ctx)
		return err
	}

	total, err := q.TotalMessages(ctx)
	if err != nil {
		return fmt.Errorf("queue: force_cleanup: recompute counter: %w", err)
	}
	return q.client.Set(ctx, q.counterKey(), total, 0).Err()
}
