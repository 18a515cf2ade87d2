package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// GetIndexState returns the indexing metadata for one entity, or nil when the
// entity has never been indexed.
func (s *Store) GetIndexState(ctx context.Context, collection domain.Collection, entityID string) (*domain.IndexState, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (st:IndexState {collection: $collection, entity_id: $entity_id}) RETURN st`
	res, err := sess.Run(ctx, cypher, map[string]any{
		"collection": string(collection),
		"entity_id":  entityID,
	})
	if err != nil {
		return nil, domain.Transient("docstore.state", err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return nil, domain.Transient("docstore.state", err)
		}
		return nil, nil
	}
	node, ok := nodeValue(res.Record(), "st")
	if !ok {
		return nil, nil
	}
	return &domain.IndexState{
		Collection:    domain.Collection(strProp(node.Props, "collection")),
		EntityID:      strProp(node.Props, "entity_id"),
		Fingerprint:   strProp(node.Props, "fingerprint"),
		ChunkCount:    int(intProp(node.Props, "chunk_count")),
		LastIndexedAt: timeProp(node.Props, "last_indexed_at"),
	}, nil
}

// PutIndexState upserts the indexing metadata for one entity.
func (s *Store) PutIndexState(ctx context.Context, state domain.IndexState) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (st:IndexState {collection: $collection, entity_id: $entity_id})
SET st.fingerprint = $fingerprint,
    st.chunk_count = $chunk_count,
    st.last_indexed_at = $last_indexed_at`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"collection":      string(state.Collection),
		"entity_id":       state.EntityID,
		"fingerprint":     state.Fingerprint,
		"chunk_count":     state.ChunkCount,
		"last_indexed_at": state.LastIndexedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.Transient("docstore.state", err)
	}
	return nil
}

// DeleteIndexState removes the metadata for one entity, used when the entity
// itself has been removed from the platform.
func (s *Store) DeleteIndexState(ctx context.Context, collection domain.Collection, entityID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (st:IndexState {collection: $collection, entity_id: $entity_id}) DELETE st`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"collection": string(collection),
		"entity_id":  entityID,
	})
	if err != nil {
		return domain.Transient("docstore.state", err)
	}
	return nil
}

// EnsureSchema creates the constraints the store relies on. The lease
// uniqueness constraint is load-bearing: without it two concurrent first-ever
// MERGEs can create duplicate lease nodes and both acquirers win.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `CREATE CONSTRAINT index_lease_collection IF NOT EXISTS
FOR (l:IndexLease) REQUIRE l.collection IS UNIQUE`
	if _, err := sess.Run(ctx, cypher, nil); err != nil {
		return domain.Transient("docstore.schema", err)
	}
	return nil
}

// AcquireLease claims the per-collection indexing lease for holder. The claim
// is a single statement so concurrent callers race inside the database, not
// in process memory: the lease survives restarts and expires on its own after
// ttl. Returns domain.ErrIndexRunning when another holder has it.
//
// The first SET bumps a counter purely to take the node's write lock before
// the expiry check runs. Under read-committed isolation a bare
// MERGE-WITH-WHERE-SET lets two acquirers both pass the WHERE on the
// unlocked node and both claim the lease; forcing the lock first serializes
// them, so the loser re-reads the committed expiry and gets no row.
func (s *Store) AcquireLease(ctx context.Context, collection domain.Collection, holder string, ttl time.Duration) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	now := s.now().UnixMilli()
	cypher := `MERGE (l:IndexLease {collection: $collection})
SET l.lock = coalesce(l.lock, 0) + 1
WITH l
WHERE l.expires_at IS NULL OR l.expires_at < $now
SET l.holder = $holder, l.expires_at = $expires
RETURN l.holder AS holder`
	res, err := sess.Run(ctx, cypher, map[string]any{
		"collection": string(collection),
		"holder":     holder,
		"now":        now,
		"expires":    now + ttl.Milliseconds(),
	})
	if err != nil {
		return domain.Transient("docstore.lease", err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return domain.Transient("docstore.lease", err)
		}
		return fmt.Errorf("lease for %s: %w", collection, domain.ErrIndexRunning)
	}
	return nil
}

// ReleaseLease clears the lease if holder still owns it. Releasing a lease
// that expired and was re-acquired by someone else is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, collection domain.Collection, holder string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (l:IndexLease {collection: $collection, holder: $holder})
REMOVE l.holder, l.expires_at`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"collection": string(collection),
		"holder":     holder,
	})
	if err != nil {
		return domain.Transient("docstore.lease", err)
	}
	return nil
}

// PutRunRecord stores the outcome of one indexing run. One record is kept per
// collection; each run overwrites the last.
func (s *Store) PutRunRecord(ctx context.Context, rec RunRecord) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (r:IndexRun {collection: $collection})
SET r.indexed = $indexed,
    r.skipped = $skipped,
    r.errors = $errors,
    r.started_at = $started_at,
    r.finished_at = $finished_at`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"collection":  string(rec.Collection),
		"indexed":     rec.Indexed,
		"skipped":     rec.Skipped,
		"errors":      rec.Errors,
		"started_at":  rec.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at": rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.Transient("docstore.run", err)
	}
	return nil
}

// IndexStatus aggregates indexing progress per collection: how many entities
// carry index metadata, when one was last written, and the last run outcome.
func (s *Store) IndexStatus(ctx context.Context) ([]CollectionStatus, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (st:IndexState)
RETURN st.collection AS collection, count(st) AS indexed, max(st.last_indexed_at) AS last`
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, domain.Transient("docstore.status", err)
	}

	byCollection := make(map[domain.Collection]*CollectionStatus)
	for res.Next(ctx) {
		rec := res.Record()
		name, _ := rec.Get("collection")
		coll, ok := name.(string)
		if !ok {
			continue
		}
		st := &CollectionStatus{Collection: domain.Collection(coll)}
		if v, ok := rec.Get("indexed"); ok {
			if n, ok := v.(int64); ok {
				st.IndexedCount = n
			}
		}
		if v, ok := rec.Get("last"); ok {
			if raw, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
					st.LastIndexedAt = t
				}
			}
		}
		byCollection[st.Collection] = st
	}
	if err := res.Err(); err != nil {
		return nil, domain.Transient("docstore.status", err)
	}

	runs, err := s.lastRuns(ctx)
	if err != nil {
		return nil, err
	}

	// Every known collection appears in the response, indexed or not.
	out := make([]CollectionStatus, 0, len(domain.AllCollections))
	for _, coll := range domain.AllCollections {
		st := byCollection[coll]
		if st == nil {
			st = &CollectionStatus{Collection: coll}
		}
		if run, ok := runs[coll]; ok {
			st.LastRun = &run
		}
		out = append(out, *st)
	}
	return out, nil
}

func (s *Store) lastRuns(ctx context.Context) (map[domain.Collection]RunRecord, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (r:IndexRun) RETURN r`, nil)
	if err != nil {
		return nil, domain.Transient("docstore.status", err)
	}

	runs := make(map[domain.Collection]RunRecord)
	for res.Next(ctx) {
		node, ok := nodeValue(res.Record(), "r")
		if !ok {
			continue
		}
		rec := RunRecord{
			Collection: domain.Collection(strProp(node.Props, "collection")),
			Indexed:    int(intProp(node.Props, "indexed")),
			Skipped:    int(intProp(node.Props, "skipped")),
			Errors:     int(intProp(node.Props, "errors")),
			StartedAt:  timeProp(node.Props, "started_at"),
			FinishedAt: timeProp(node.Props, "finished_at"),
		}
		runs[rec.Collection] = rec
	}
	if err := res.Err(); err != nil {
		return nil, domain.Transient("docstore.status", err)
	}
	return runs, nil
}

// LogQuery appends one anonymous analytics row. Failures here never block a
// search response; callers log and move on.
func (s *Store) LogQuery(ctx context.Context, rec QueryLogRecord) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `CREATE (:QueryLog {
  client_hash: $client_hash,
  query: $query,
  cached: $cached,
  source_count: $source_count,
  latency_ms: $latency_ms,
  at: $at
})`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"client_hash":  rec.ClientHash,
		"query":        rec.Query,
		"cached":       rec.Cached,
		"source_count": rec.SourceCount,
		"latency_ms":   rec.LatencyMS,
		"at":           rec.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.Transient("docstore.querylog", err)
	}
	return nil
}
