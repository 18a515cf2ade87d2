// Package docstore is the Neo4j-backed document store boundary: it reads
// platform entities by collection, keeps the per-entity indexing metadata and
// per-collection indexing leases, resolves media assets, and records
// anonymised query logs.
package docstore

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Store provides document-store operations for the search subsystem.
type Store struct {
	driver       neo4j.DriverWithContext
	mediaBaseURL string
	newSession   func(ctx context.Context) runner // for testing
	now          func() time.Time                 // for testing
}

// New creates a Store. mediaBaseURL is the public blob-store prefix used to
// resolve media object keys into URLs.
func New(driver neo4j.DriverWithContext, mediaBaseURL string) *Store {
	return &Store{
		driver:       driver,
		mediaBaseURL: trimSlash(mediaBaseURL),
		now:          time.Now,
	}
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// CollectionStatus summarises indexing progress for one collection.
type CollectionStatus struct {
	Collection    domain.Collection `json:"collection"`
	IndexedCount  int64             `json:"indexed_count"`
	LastIndexedAt time.Time         `json:"last_indexed_at,omitempty"`
	LastRun       *RunRecord        `json:"last_run,omitempty"`
}

// RunRecord is the outcome of one indexing run over a collection.
type RunRecord struct {
	Collection domain.Collection `json:"collection"`
	Indexed    int               `json:"indexed"`
	Skipped    int               `json:"skipped"`
	Errors     int               `json:"errors"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// QueryLogRecord is one anonymous analytics row. ClientHash is a sha256
// digest; the raw client identity is never persisted.
type QueryLogRecord struct {
	ClientHash  string
	Query       string
	Cached      bool
	SourceCount int
	LatencyMS   int64
	At          time.Time
}
