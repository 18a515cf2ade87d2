// Package index drives the content indexing runs: extraction, chunking,
// embedding, and vector-store upserts, with per-entity freshness tracking so
// unchanged content is never reprocessed. Runs are single-flight per
// collection through a lease held in the document store, which keeps the
// guarantee across process restarts and multiple instances.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavilion-app/pavilion-search/engine/chunker"
	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/engine/extract"
	"github.com/pavilion-app/pavilion-search/engine/semantic"
	"github.com/pavilion-app/pavilion-search/pkg/fn"
	"github.com/pavilion-app/pavilion-search/pkg/metrics"
)

// DefaultLeaseTTL caps how long a crashed run can block a collection.
const DefaultLeaseTTL = 30 * time.Minute

// EntitySource lists the entities of a collection.
type EntitySource interface {
	ListEntities(ctx context.Context, collection domain.Collection) ([]domain.Entity, error)
}

// StateStore keeps indexing metadata, leases, and run records.
type StateStore interface {
	GetIndexState(ctx context.Context, collection domain.Collection, entityID string) (*domain.IndexState, error)
	PutIndexState(ctx context.Context, state domain.IndexState) error
	AcquireLease(ctx context.Context, collection domain.Collection, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, collection domain.Collection, holder string) error
	PutRun(ctx context.Context, run Run) error
}

// Embedder converts chunk texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore writes and purges indexed records.
type VectorStore interface {
	Upsert(ctx context.Context, records []semantic.Record) error
	DeleteByEntity(ctx context.Context, namespace domain.Collection, entityID string) error
}

// Status is the outcome of indexing one entity.
type Status string

const (
	StatusIndexed Status = "indexed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Summary is the outcome of a run over one or more collections.
type Summary struct {
	Indexed        int  `json:"indexed_count"`
	Skipped        int  `json:"skipped_count"`
	Errors         int  `json:"error_count"`
	AlreadyRunning bool `json:"already_running,omitempty"`
}

func (s *Summary) add(o Summary) {
	s.Indexed += o.Indexed
	s.Skipped += o.Skipped
	s.Errors += o.Errors
	s.AlreadyRunning = s.AlreadyRunning || o.AlreadyRunning
}

// Run is one completed collection run, recorded for the status endpoint.
type Run struct {
	Collection domain.Collection
	Summary    Summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// ReindexRequest is the on-demand trigger message. An empty Collection means
// every collection.
type ReindexRequest struct {
	Collection string `json:"collection,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	Workers  int
	LeaseTTL time.Duration
	Log      *slog.Logger
	Metrics  *metrics.Registry
}

// Coordinator owns the indexing algorithm.
type Coordinator struct {
	source   EntitySource
	states   StateStore
	chunks   *chunker.Chunker
	embedder Embedder
	vectors  VectorStore

	workers  int
	leaseTTL time.Duration
	log      *slog.Logger

	indexed *metrics.Counter
	skipped *metrics.Counter
	failed  *metrics.Counter

	now       func() time.Time // for testing
	newHolder func() string    // for testing
}

// New creates a Coordinator.
func New(source EntitySource, states StateStore, chunks *chunker.Chunker, embedder Embedder, vectors VectorStore, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Coordinator{
		source:    source,
		states:    states,
		chunks:    chunks,
		embedder:  embedder,
		vectors:   vectors,
		workers:   opts.Workers,
		leaseTTL:  opts.LeaseTTL,
		log:       opts.Log,
		indexed:   opts.Metrics.Counter("index_entities_indexed_total", "Entities indexed"),
		skipped:   opts.Metrics.Counter("index_entities_skipped_total", "Entities skipped as unchanged"),
		failed:    opts.Metrics.Counter("index_entities_failed_total", "Entities that failed to index"),
		now:       time.Now,
		newHolder: uuid.NewString,
	}
}

// IndexEntity indexes one entity. With force false, an unchanged fingerprint
// skips all extraction and embedding work.
func (c *Coordinator) IndexEntity(ctx context.Context, entity domain.Entity, force bool) (Status, error) {
	collection := entity.EntityCollection()
	id := entity.EntityID()

	state, err := c.states.GetIndexState(ctx, collection, id)
	if err != nil {
		c.failed.Inc()
		return StatusError, fmt.Errorf("read index state %s/%s: %w", collection, id, err)
	}
	if !force && state != nil && state.Fingerprint == entity.Fingerprint() {
		c.skipped.Inc()
		return StatusSkipped, nil
	}

	text, attr := extract.Text(entity)
	if text == "" {
		// Nothing to index. Purge whatever an earlier version left behind
		// and remember the fingerprint so the entity is not revisited.
		if state != nil && state.ChunkCount > 0 {
			if err := c.vectors.DeleteByEntity(ctx, collection, id); err != nil {
				c.failed.Inc()
				return StatusError, fmt.Errorf("purge %s/%s: %w", collection, id, err)
			}
		}
		if err := c.states.PutIndexState(ctx, domain.IndexState{
			Collection:    collection,
			EntityID:      id,
			Fingerprint:   entity.Fingerprint(),
			ChunkCount:    0,
			LastIndexedAt: c.now(),
		}); err != nil {
			c.failed.Inc()
			return StatusError, fmt.Errorf("write index state %s/%s: %w", collection, id, err)
		}
		c.skipped.Inc()
		return StatusSkipped, nil
	}

	chunks := c.chunks.Split(id, collection, text, attr)
	vectors, err := c.embedder.EmbedBatch(ctx, fn.Map(chunks, func(ch chunker.Chunk) string { return ch.Text }))
	if err != nil {
		c.failed.Inc()
		return StatusError, fmt.Errorf("embed %s/%s: %w", collection, id, err)
	}

	indexedAt := c.now()
	records := make([]semantic.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = semantic.Record{
			ID:        chunkPointID(collection, id, ch.Sequence),
			Embedding: vectors[i],
			Namespace: collection,
			EntityID:  id,
			Sequence:  ch.Sequence,
			Text:      ch.Text,
			Attr:      ch.Attr,
			IndexedAt: indexedAt,
		}
	}

	// Delete before upsert: a crash in between leaves the entity
	// temporarily unsearchable rather than serving stale chunks alongside
	// fresh ones.
	if err := c.vectors.DeleteByEntity(ctx, collection, id); err != nil {
		c.failed.Inc()
		return StatusError, fmt.Errorf("purge %s/%s: %w", collection, id, err)
	}
	if err := c.vectors.Upsert(ctx, records); err != nil {
		c.failed.Inc()
		return StatusError, fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	if err := c.states.PutIndexState(ctx, domain.IndexState{
		Collection:    collection,
		EntityID:      id,
		Fingerprint:   entity.Fingerprint(),
		ChunkCount:    len(records),
		LastIndexedAt: indexedAt,
	}); err != nil {
		c.failed.Inc()
		return StatusError, fmt.Errorf("write index state %s/%s: %w", collection, id, err)
	}

	c.indexed.Inc()
	return StatusIndexed, nil
}

// IndexCollection runs one single-flight pass over a collection. A run
// already holding the lease is coalesced into an AlreadyRunning summary, not
// an error. Entity failures are isolated: logged, counted, never aborting the
// batch.
func (c *Coordinator) IndexCollection(ctx context.Context, collection domain.Collection, force bool) (Summary, error) {
	if _, err := domain.ValidateCollection(string(collection)); err != nil {
		return Summary{}, err
	}

	holder := c.newHolder()
	if err := c.states.AcquireLease(ctx, collection, holder, c.leaseTTL); err != nil {
		if errors.Is(err, domain.ErrIndexRunning) {
			c.log.Info("indexing already running, coalescing", "collection", collection)
			return Summary{AlreadyRunning: true}, nil
		}
		return Summary{}, fmt.Errorf("acquire lease %s: %w", collection, err)
	}
	defer func() {
		// Release on every path, including panics and per-entity errors.
		if err := c.states.ReleaseLease(context.WithoutCancel(ctx), collection, holder); err != nil {
			c.log.Error("lease release failed", "collection", collection, "error", err)
		}
	}()

	started := c.now()
	entities, err := c.source.ListEntities(ctx, collection)
	if err != nil {
		return Summary{}, fmt.Errorf("list %s: %w", collection, err)
	}

	var summary Summary
	statuses := fn.ParMapResult(entities, c.workers, func(e domain.Entity) fn.Result[Status] {
		status, err := c.IndexEntity(ctx, e, force)
		if err != nil {
			return fn.Err[Status](err)
		}
		return fn.Ok(status)
	})
	for i, res := range statuses {
		status, err := res.Unwrap()
		if err != nil {
			c.log.Error("entity indexing failed",
				"collection", collection,
				"entity_id", entities[i].EntityID(),
				"error", err,
			)
			summary.Errors++
			continue
		}
		switch status {
		case StatusIndexed:
			summary.Indexed++
		case StatusSkipped:
			summary.Skipped++
		}
	}

	run := Run{Collection: collection, Summary: summary, StartedAt: started, FinishedAt: c.now()}
	if err := c.states.PutRun(ctx, run); err != nil {
		c.log.Warn("run record write failed", "collection", collection, "error", err)
	}
	c.log.Info("collection indexed",
		"collection", collection,
		"indexed", summary.Indexed,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"took", run.FinishedAt.Sub(run.StartedAt),
	)
	return summary, nil
}

// ReindexAll force-indexes every collection. Collections run concurrently;
// each keeps its own single-flight lease.
func (c *Coordinator) ReindexAll(ctx context.Context) (Summary, error) {
	return c.indexAll(ctx, true)
}

// IndexAll runs an incremental pass over every collection.
func (c *Coordinator) IndexAll(ctx context.Context, force bool) (Summary, error) {
	return c.indexAll(ctx, force)
}

func (c *Coordinator) indexAll(ctx context.Context, force bool) (Summary, error) {
	results := fn.ParMapResult(domain.AllCollections, len(domain.AllCollections), func(coll domain.Collection) fn.Result[Summary] {
		return fn.FromPair(c.IndexCollection(ctx, coll, force))
	})

	var total Summary
	var firstErr error
	for i, res := range results {
		s, err := res.Unwrap()
		if err != nil {
			c.log.Error("collection run failed", "collection", domain.AllCollections[i], "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total.add(s)
	}
	return total, firstErr
}

// chunkPointID derives the deterministic vector-store point id for one chunk.
func chunkPointID(collection domain.Collection, entityID string, sequence int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/%s/%d", collection, entityID, sequence)).String()
}
