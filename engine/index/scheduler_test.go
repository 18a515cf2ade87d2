package index

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

func newTestScheduler(t *testing.T, states *memStates) *Scheduler {
	t.Helper()
	c := newTestCoordinator(t, &memSource{}, states, &countingEmbedder{}, newMemVectors())
	return NewScheduler(c, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSchedulerRunsImmediateFirstPass(t *testing.T) {
	states := newMemStates()
	s := newTestScheduler(t, states)

	// A cancelled context stops Run right after the initial pass.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	if len(states.runs) != len(domain.AllCollections) {
		t.Errorf("run records = %d, want one per collection", len(states.runs))
	}
}

func TestSchedulerTriggerNeverBlocks(t *testing.T) {
	s := newTestScheduler(t, newMemStates())
	for i := 0; i < 20; i++ {
		s.Trigger(ReindexRequest{Collection: "events"})
	}
	if len(s.trigger) != cap(s.trigger) {
		t.Errorf("queued = %d, want %d with the rest dropped", len(s.trigger), cap(s.trigger))
	}
}

func TestSchedulerTriggeredSingleCollection(t *testing.T) {
	states := newMemStates()
	s := newTestScheduler(t, states)

	s.runTriggered(context.Background(), ReindexRequest{Collection: "events", Force: true})

	if len(states.runs) != 1 || states.runs[0].Collection != domain.CollectionEvents {
		t.Errorf("runs = %+v", states.runs)
	}
}

func TestSchedulerTriggeredUnknownCollectionIgnored(t *testing.T) {
	states := newMemStates()
	s := newTestScheduler(t, states)

	s.runTriggered(context.Background(), ReindexRequest{Collection: "podcasts"})

	if len(states.runs) != 0 {
		t.Errorf("runs = %+v", states.runs)
	}
}
