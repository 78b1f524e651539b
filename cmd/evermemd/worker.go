package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"evermemcore/internal/memory"
	"evermemcore/internal/memory/cache"
	"evermemcore/internal/memory/codec"
	"evermemcore/internal/memory/queue"
)

// deliverRequest is the queue payload shape for one deliver_memorize call,
// routed by GroupID to a fixed partition (spec §4.6 "Partition routing").
type deliverRequest = memory.DeliverMemorizeRequest

// worker drains the partitioned queue and feeds each payload through the
// memory façade. Redelivery is possible (spec §4.6 makes no exactly-once
// guarantee across owner crashes); processed envelope ids are appended to a
// windowed cache so a debugging/admin surface can inspect recent activity
// and spot duplicate deliveries after the fact.
type worker struct {
	queue   *queue.Queue
	svc     *memory.Service
	recent  *cache.Cache
	workers int
}

func (w *worker) run(ctx context.Context) {
	if _, _, err := w.queue.Join(ctx, time.Now().UnixMilli(), 60_000); err != nil {
		log.Error().Err(err).Msg("evermemd: initial queue join failed")
	}

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}

	go w.keepaliveLoop(ctx)

	wg.Wait()
	_ = w.queue.Exit(context.Background())
}

func (w *worker) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.Keepalive(ctx, time.Now().UnixMilli()); err != nil {
				log.Error().Err(err).Msg("evermemd: keepalive failed")
			}
		}
	}
}

func (w *worker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, status, err := w.queue.Consume(ctx, 0, time.Now().UnixMilli())
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("evermemd: consume failed")
			time.Sleep(time.Second)
			continue
		}
		if status != queue.StatusOK || len(msgs) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, m := range msgs {
			w.handle(ctx, m)
		}
	}
}

func (w *worker) handle(ctx context.Context, m queue.Message) {
	env, err := codec.UnmarshalEnvelope(m.Payload)
	if err != nil {
		log.Error().Err(err).Str("message_id", m.ID).Msg("evermemd: decode envelope failed")
		return
	}

	var req deliverRequest
	if err := codec.Deserialize(env.Payload, &req); err != nil {
		log.Error().Err(err).Str("message_id", m.ID).Msg("evermemd: decode payload failed")
		return
	}

	memories, err := w.svc.DeliverMemorize(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("group_id", req.GroupID).Msg("evermemd: deliver_memorize failed")
		return
	}
	log.Info().Str("group_id", req.GroupID).Int("memories", len(memories)).Msg("evermemd: delivered")

	now := time.Now().UnixMilli()
	if err := w.recent.Append(ctx, []byte(env.ID), now); err != nil {
		log.Warn().Err(err).Str("envelope_id", env.ID).Msg("evermemd: recent-activity append failed")
	}
}
