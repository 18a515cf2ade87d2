package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// Scheduler runs incremental indexing passes on a fixed interval and serves
// on-demand triggers in between. The single-flight lease makes overlapping
// triggers harmless.
type Scheduler struct {
	coord    *Coordinator
	interval time.Duration
	log      *slog.Logger
	trigger  chan ReindexRequest
}

// NewScheduler creates a Scheduler ticking at interval.
func NewScheduler(coord *Coordinator, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		coord:    coord,
		interval: interval,
		log:      log,
		trigger:  make(chan ReindexRequest, 8),
	}
}

// Trigger queues an on-demand run. Non-blocking; when the queue is full the
// request is dropped, since a run is already imminent.
func (s *Scheduler) Trigger(req ReindexRequest) {
	select {
	case s.trigger <- req:
	default:
		s.log.Warn("reindex trigger dropped, queue full", "collection", req.Collection)
	}
}

// Run blocks until ctx is cancelled. The first incremental pass starts
// immediately rather than one interval in.
func (s *Scheduler) Run(ctx context.Context) {
	s.runScheduled(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		case req := <-s.trigger:
			s.runTriggered(ctx, req)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if _, err := s.coord.IndexAll(ctx, false); err != nil {
		s.log.Error("scheduled indexing pass failed", "error", err)
	}
}

func (s *Scheduler) runTriggered(ctx context.Context, req ReindexRequest) {
	s.log.Info("reindex triggered", "collection", req.Collection, "force", req.Force)
	if req.Collection == "" {
		if _, err := s.coord.IndexAll(ctx, req.Force); err != nil {
			s.log.Error("triggered indexing pass failed", "error", err)
		}
		return
	}
	coll, err := domain.ValidateCollection(req.Collection)
	if err != nil {
		s.log.Warn("reindex trigger for unknown collection", "collection", req.Collection)
		return
	}
	if _, err := s.coord.IndexCollection(ctx, coll, req.Force); err != nil {
		s.log.Error("triggered indexing run failed", "collection", coll, "error", err)
	}
}
