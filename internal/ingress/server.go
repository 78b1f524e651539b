// Package ingress is the HTTP producer in front of the partitioned work
// queue and the process-boundary read operations named in spec.md §6:
// deliver_memorize, retrieve_lightweight, retrieve_agentic, fetch_mem. It
// is the one piece of "glue" (spec's "Process boundary" framing) that gives
// cmd/evermemd's worker pool real traffic to drain.
package ingress

import (
	"context"
	"net/http"
	"time"

	"evermemcore/internal/config"
	"evermemcore/internal/memory"
	"evermemcore/internal/memory/codec"
	"evermemcore/internal/memory/errs"
	"evermemcore/internal/memory/queue"
)

// Server exposes the process-boundary operations over HTTP.
type Server struct {
	svc   *memory.Service
	queue *queue.Queue
	cfg   config.QueueConfig
	mux   *http.ServeMux
}

// NewServer wires a Server against an already-built façade and queue. q may
// be nil when Redis is disabled; deliver_memorize then runs the façade
// directly instead of enqueuing (spec §4.6 is a durability/fan-out layer,
// not a correctness requirement of deliver_memorize itself).
func NewServer(svc *memory.Service, q *queue.Queue, cfg config.QueueConfig) *Server {
	s := &Server{svc: svc, queue: q, cfg: cfg, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/deliver_memorize", s.handleDeliverMemorize)
	s.mux.HandleFunc("POST /v1/retrieve_lightweight", s.handleRetrieveLightweight)
	s.mux.HandleFunc("POST /v1/retrieve_agentic", s.handleRetrieveAgentic)
	s.mux.HandleFunc("GET /v1/fetch_mem", s.handleFetchMem)
}

// enqueue serializes req the same way cmd/evermemd/worker.go decodes it
// (codec.Serialize -> codec.WrapEnvelope -> Marshal) and hands it to the
// partitioned queue, routed by req.GroupID (spec §4.6 "deliver").
func (s *Server) enqueue(ctx context.Context, req memory.DeliverMemorizeRequest) (queue.DeliverResult, error) {
	payload, err := codec.Serialize(req)
	if err != nil {
		return queue.DeliverResult{}, errs.Wrap(errs.InvalidParameter, "encode deliver_memorize payload", err)
	}
	envelope, err := codec.WrapEnvelope(payload).Marshal()
	if err != nil {
		return queue.DeliverResult{}, errs.Wrap(errs.InvalidParameter, "marshal envelope", err)
	}
	now := time.Now().UnixMilli()
	return s.queue.Deliver(ctx, req.GroupID, envelope, now, s.cfg.MaxTotalMessages, s.cfg.ExpireSeconds, nil)
}
