// Package query orchestrates a search request through its stages: normalize,
// rate-limit, cache lookup, embed, vector search, answer synthesis, media
// attachment, related-query generation, cache store, and analytics logging.
// Synthesis failure degrades to raw sources; every other stage failure after
// validation surfaces with a distinct error kind.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavilion-app/pavilion-search/engine/answer"
	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/engine/semantic"
	"github.com/pavilion-app/pavilion-search/pkg/cache"
	"github.com/pavilion-app/pavilion-search/pkg/docstore"
	"github.com/pavilion-app/pavilion-search/pkg/fn"
	"github.com/pavilion-app/pavilion-search/pkg/metrics"
)

const (
	// DefaultTopK is how many chunks a search retrieves across namespaces.
	DefaultTopK = 8
	// DefaultTimeout bounds the whole pipeline wall-clock.
	DefaultTimeout = 10 * time.Second
	// DegradedNotice prefixes the answer when synthesis is unavailable but
	// sources were found.
	DegradedNotice = "The answer service is temporarily unavailable. Here are the most relevant sources for your search."
)

// Request is one search invocation. ClientKey is the raw rate-limit identity;
// it is hashed before anything is logged or persisted.
type Request struct {
	Query       string
	ClientKey   string
	BypassCache bool
}

// Media groups attached assets by kind.
type Media struct {
	Videos []domain.MediaAsset `json:"videos"`
	Images []domain.MediaAsset `json:"images"`
}

// Result is the search response. Immutable once built; cache entries are
// replaced wholesale.
type Result struct {
	Answer         string               `json:"answer"`
	Sources        []domain.Attribution `json:"sources"`
	Media          Media                `json:"media"`
	RelatedQueries []string             `json:"related_queries"`
	LatencyMS      int64                `json:"latency_ms"`
	Cached         bool                 `json:"cached"`
}

// QueryEvent is the fire-and-forget analytics message.
type QueryEvent struct {
	ClientHash  string `json:"client_hash"`
	Query       string `json:"query"`
	Cached      bool   `json:"cached"`
	SourceCount int    `json:"source_count"`
	LatencyMS   int64  `json:"latency_ms"`
	Degraded    bool   `json:"degraded,omitempty"`
}

// Limiter bounds pipeline invocations per client identity.
type Limiter interface {
	Allow(key string) bool
}

// Embedder embeds one query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs the similarity query across namespaces.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, namespaces []domain.Collection, topK int) ([]semantic.Match, error)
}

// MediaFinder resolves media assets attached to matched entities.
type MediaFinder interface {
	MediaForEntities(ctx context.Context, refs []docstore.EntityRef) ([]domain.MediaAsset, error)
}

// QueryLogger persists anonymous analytics rows.
type QueryLogger interface {
	LogQuery(ctx context.Context, rec docstore.QueryLogRecord) error
}

// EventPublisher emits analytics events to the message bus. May be nil.
type EventPublisher interface {
	PublishQueryEvent(ctx context.Context, ev QueryEvent) error
}

// Options configures a Pipeline.
type Options struct {
	TopK    int
	Timeout time.Duration
	Log     *slog.Logger
	Metrics *metrics.Registry
}

// Pipeline executes search requests. Invocations are independent; the only
// state shared between concurrent queries is the result cache and the rate
// limiter, both safe for concurrent use.
type Pipeline struct {
	limiter Limiter
	results cache.Cache
	embed   Embedder
	search  Searcher
	answers answer.Synthesizer
	media   MediaFinder
	logs    QueryLogger
	events  EventPublisher

	topK    int
	timeout time.Duration
	log     *slog.Logger

	queries  *metrics.Counter
	hits     *metrics.Counter
	degraded *metrics.Counter
	latency  *metrics.Histogram

	now func() time.Time // for testing
}

// New creates a Pipeline. media, logs, and events may be nil; the matching
// stages then become no-ops.
func New(limiter Limiter, results cache.Cache, embed Embedder, search Searcher, answers answer.Synthesizer, media MediaFinder, logs QueryLogger, events EventPublisher, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pipeline{
		limiter:  limiter,
		results:  results,
		embed:    embed,
		search:   search,
		answers:  answers,
		media:    media,
		logs:     logs,
		events:   events,
		topK:     opts.TopK,
		timeout:  opts.Timeout,
		log:      opts.Log,
		queries:  opts.Metrics.Counter("query_requests_total", "Search queries received"),
		hits:     opts.Metrics.Counter("query_cache_hits_total", "Queries served from the result cache"),
		degraded: opts.Metrics.Counter("query_degraded_total", "Queries answered without synthesis"),
		latency:  opts.Metrics.Histogram("query_latency_seconds", "End-to-end query latency", nil),
		now:      time.Now,
	}
}

// Run executes the full pipeline for one request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := p.now()
	p.queries.Inc()

	// Normalize.
	q, err := domain.ValidateQuery(req.Query)
	if err != nil {
		return nil, err
	}

	// RateLimitCheck, before any expensive work.
	if p.limiter != nil && !p.limiter.Allow(req.ClientKey) {
		return nil, fmt.Errorf("client %s: %w", hashKey(req.ClientKey), domain.ErrRateLimited)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	key := resultCacheKey(q)

	// CacheLookup. A hit skips every downstream stage.
	if !req.BypassCache {
		if cached := p.lookup(ctx, key); cached != nil {
			cached.Cached = true
			cached.LatencyMS = p.now().Sub(start).Milliseconds()
			p.hits.Inc()
			p.finish(req, q, cached)
			return cached, nil
		}
	}

	// Embed.
	vec, err := p.embed.Embed(ctx, q)
	if err != nil {
		return nil, p.stageError("embed", err)
	}

	// VectorSearch.
	matches, err := p.search.Search(ctx, vec, nil, p.topK)
	if err != nil {
		return nil, p.stageError("search", err)
	}

	res := &Result{
		Sources:        make([]domain.Attribution, 0, len(matches)),
		RelatedQueries: []string{},
	}

	// One source per entity, best match first; near-duplicate chunks from
	// the same entity collapse into a single citation.
	unique := fn.UniqueBy(matches, func(m semantic.Match) string {
		return string(m.Namespace) + "/" + m.EntityID
	})
	for _, m := range unique {
		res.Sources = append(res.Sources, m.Attr)
	}

	if len(matches) > 0 {
		// Synthesize, degrading to raw sources on provider failure.
		passages := fn.Map(matches, func(m semantic.Match) string { return m.Text })
		text, err := p.answers.Synthesize(ctx, q, passages)
		switch {
		case err == nil:
			res.Answer = text
		case errors.Is(err, context.DeadlineExceeded):
			return nil, p.stageError("synthesize", err)
		default:
			p.log.Warn("synthesis unavailable, degrading to sources", "error", err)
			p.degraded.Inc()
			res.Answer = DegradedNotice
		}

		res.Media = p.attachMedia(ctx, unique)
		res.RelatedQueries = relatedQueries(q, unique, 4)
	}

	if err := ctx.Err(); err != nil {
		return nil, p.stageError("pipeline", err)
	}

	// CacheStore. Runs even for bypass requests so the next caller benefits.
	p.store(ctx, key, res)

	res.LatencyMS = p.now().Sub(start).Milliseconds()
	p.finish(req, q, res)
	return res, nil
}

func (p *Pipeline) lookup(ctx context.Context, key string) *Result {
	data, ok, err := p.results.Get(ctx, key)
	if err != nil {
		p.log.Warn("result cache read failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		p.log.Warn("result cache entry corrupt", "error", err)
		return nil
	}
	return &res
}

func (p *Pipeline) store(ctx context.Context, key string, res *Result) {
	// Cached copies carry neither the producing request's latency nor its
	// cached flag.
	clean := *res
	clean.Cached = false
	clean.LatencyMS = 0
	data, err := json.Marshal(&clean)
	if err != nil {
		p.log.Error("result marshal failed", "error", err)
		return
	}
	if err := p.results.Set(ctx, key, data); err != nil {
		p.log.Warn("result cache write failed", "error", err)
	}
}

func (p *Pipeline) attachMedia(ctx context.Context, matches []semantic.Match) Media {
	var media Media
	if p.media == nil || len(matches) == 0 {
		return media
	}
	refs := fn.Map(matches, func(m semantic.Match) docstore.EntityRef {
		return docstore.EntityRef{Collection: m.Namespace, EntityID: m.EntityID}
	})
	assets, err := p.media.MediaForEntities(ctx, refs)
	if err != nil {
		// Media is garnish; a store hiccup must not fail the query.
		p.log.Warn("media attachment failed", "error", err)
		return media
	}
	for _, a := range assets {
		switch a.Kind {
		case domain.MediaVideo:
			media.Videos = append(media.Videos, a)
		case domain.MediaImage:
			media.Images = append(media.Images, a)
		}
	}
	return media
}

// finish logs and publishes analytics without blocking the response.
func (p *Pipeline) finish(req Request, q string, res *Result) {
	p.latency.Observe(float64(res.LatencyMS) / 1000)

	hash := hashKey(req.ClientKey)
	ev := QueryEvent{
		ClientHash:  hash,
		Query:       q,
		Cached:      res.Cached,
		SourceCount: len(res.Sources),
		LatencyMS:   res.LatencyMS,
		Degraded:    res.Answer == DegradedNotice,
	}

	// Detached context: the response must not wait on analytics.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if p.logs != nil {
			if err := p.logs.LogQuery(ctx, docstore.QueryLogRecord{
				ClientHash:  hash,
				Query:       q,
				Cached:      res.Cached,
				SourceCount: len(res.Sources),
				LatencyMS:   res.LatencyMS,
				At:          p.now(),
			}); err != nil {
				p.log.Warn("query log failed", "error", err)
			}
		}
		if p.events != nil {
			if err := p.events.PublishQueryEvent(ctx, ev); err != nil {
				p.log.Warn("analytics publish failed", "error", err)
			}
		}
	}()
}

// stageError maps deadline expiry onto the pipeline timeout sentinel so
// clients can tell "try a simpler query" from "service down".
func (p *Pipeline) stageError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", stage, domain.ErrPipelineTimeout)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// resultCacheKey hashes the lowercased query; display casing stays out of the
// key so "Fall Seminar" and "fall seminar" share an entry.
func resultCacheKey(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(q)))
	return "qr:" + hex.EncodeToString(sum[:])
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
