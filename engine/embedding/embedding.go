// Package embedding converts text into fixed-length vectors through an
// external provider, fronted by a content-addressed cache so identical text
// under the same model never triggers a second network call.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/pkg/cache"
	"github.com/pavilion-app/pavilion-search/pkg/fn"
)

const (
	// DefaultModel is the embedding model identifier.
	DefaultModel = "text-embedding-3-small"
	// Dimension is the vector dimension of DefaultModel.
	Dimension = 1536
	// DefaultBatchSize bounds texts per provider request.
	DefaultBatchSize = 128
	// DefaultWorkers bounds concurrent provider requests.
	DefaultWorkers = 4
)

// Provider is the raw text-to-vectors boundary. Implementations return one
// vector per input, in input order.
type Provider interface {
	CreateEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// BatchError identifies which input of a batch call failed, so callers can
// retry only the failed subset.
type BatchError struct {
	Index int // index into the original input slice of the first failed text
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch at input %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	Model     string
	BatchSize int
	Workers   int
	Retry     fn.RetryOpts
	Log       *slog.Logger
}

// Client is the cache-first embedding client.
type Client struct {
	provider  Provider
	cache     cache.Cache
	model     string
	batchSize int
	workers   int
	retry     fn.RetryOpts
	log       *slog.Logger
}

// New creates a Client over a provider and an embedding cache.
func New(provider Provider, c cache.Cache, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.DefaultRetry
	}
	if opts.Retry.RetryIf == nil {
		opts.Retry.RetryIf = domain.IsTransient
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Client{
		provider:  provider,
		cache:     c,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		retry:     opts.Retry,
		log:       opts.Log,
	}
}

// Model returns the model identifier vectors are produced with.
func (c *Client) Model() string { return c.model }

// CacheKey is the content address of one text under the client's model.
func (c *Client) CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// Embed returns the vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order. Cached texts are
// served without a provider call; the remainder is fetched in sub-batches
// with bounded concurrency. Any sub-batch failure fails the whole call — a
// zero vector substitute would silently corrupt similarity rankings.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.cached(ctx, text); ok {
			vectors[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return vectors, nil
	}

	batches := fn.Batches(missIdx, c.batchSize)
	results := fn.ParMapResult(batches, c.workers, func(batch []int) fn.Result[[][]float32] {
		return fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(c.fetch(ctx, texts, batch))
		})
	})

	for bi, res := range results {
		vecs, err := res.Unwrap()
		if err != nil {
			return nil, &BatchError{
				Index: batches[bi][0],
				Err:   fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err),
			}
		}
		for j, idx := range batches[bi] {
			vectors[idx] = vecs[j]
		}
	}
	return vectors, nil
}

func (c *Client) cached(ctx context.Context, text string) ([]float32, bool) {
	data, ok, err := c.cache.Get(ctx, c.CacheKey(text))
	if err != nil {
		// A cache backend failure degrades to a provider call.
		c.log.Warn("embedding cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		c.log.Warn("embedding cache entry corrupt, refetching", "error", err)
		return nil, false
	}
	return vec, true
}

// fetch embeds the texts at the given indexes and writes them through to the
// cache. Provider errors are classified before being returned so the retry
// policy only repeats transient ones.
func (c *Client) fetch(ctx context.Context, texts []string, idx []int) ([][]float32, error) {
	batch := fn.Map(idx, func(i int) string { return texts[i] })
	vecs, err := c.provider.CreateEmbeddings(ctx, c.model, batch)
	if err != nil {
		return nil, classify(err)
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(batch))
	}
	for j, i := range idx {
		if err := c.cache.Set(ctx, c.CacheKey(texts[i]), encodeVector(vecs[j])); err != nil {
			c.log.Warn("embedding cache write failed", "error", err)
		}
	}
	return vecs, nil
}

// Vectors are cached as little-endian float32 runs: compact, and decoding
// reproduces bit-identical vectors.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding: %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
