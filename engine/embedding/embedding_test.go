package embedding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/pkg/cache"
	"github.com/pavilion-app/pavilion-search/pkg/fn"
)

type fakeProvider struct {
	calls   atomic.Int64
	fail    int32 // fail the first N calls
	failErr error
}

func (p *fakeProvider) CreateEmbeddings(_ context.Context, _ string, texts []string) ([][]float32, error) {
	n := p.calls.Add(1)
	if int32(n) <= p.fail {
		if p.failErr != nil {
			return nil, p.failErr
		}
		return nil, domain.Transient("embedding", errors.New("429"))
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		// Deterministic per-text vector so ordering is verifiable.
		vecs[i] = []float32{float32(len(t)), float32(t[0])}
	}
	return vecs, nil
}

func newTestClient(p *fakeProvider, opts Options) *Client {
	opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.RetryOpts{
			MaxAttempts: 3,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}
	}
	return New(p, cache.NewMemory(0), opts)
}

func TestEmbedCacheHitSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	c := newTestClient(p, Options{})

	first, err := c.Embed(context.Background(), "harvest festival")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := c.Embed(context.Background(), "harvest festival")
	if err != nil {
		t.Fatalf("Embed (cached): %v", err)
	}

	if p.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls.Load())
	}
	if len(first) != len(second) {
		t.Fatal("vector lengths differ")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("vector not bit-identical at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	p := &fakeProvider{}
	c := newTestClient(p, Options{BatchSize: 2, Workers: 3})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vector %d out of order: %v for %q", i, vecs[i], text)
		}
	}
}

func TestEmbedBatchMixedCacheAndFetch(t *testing.T) {
	p := &fakeProvider{}
	c := newTestClient(p, Options{BatchSize: 10})

	if _, err := c.Embed(context.Background(), "known"); err != nil {
		t.Fatal(err)
	}
	calls := p.calls.Load()

	vecs, err := c.EmbedBatch(context.Background(), []string{"fresh", "known", "newer"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[1][0] != float32(len("known")) {
		t.Errorf("cached slot wrong: %v", vecs[1])
	}
	// One more provider call covers both misses; the hit stays local.
	if p.calls.Load() != calls+1 {
		t.Errorf("provider calls = %d, want %d", p.calls.Load(), calls+1)
	}
}

func TestTransientFailureRetriedThenSucceeds(t *testing.T) {
	p := &fakeProvider{fail: 2}
	c := newTestClient(p, Options{})

	if _, err := c.Embed(context.Background(), "retry me"); err != nil {
		t.Fatalf("Embed after retries: %v", err)
	}
	if p.calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls.Load())
	}
}

func TestExhaustedRetriesReportUnavailable(t *testing.T) {
	p := &fakeProvider{fail: 100}
	c := newTestClient(p, Options{})

	_, err := c.Embed(context.Background(), "never works")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("err = %v", err)
	}
	var be *BatchError
	if !errors.As(err, &be) || be.Index != 0 {
		t.Errorf("batch error = %v", err)
	}
}

func TestNonTransientFailureNotRetried(t *testing.T) {
	p := &fakeProvider{fail: 100, failErr: errors.New("invalid api key")}
	c := newTestClient(p, Options{})

	_, err := c.Embed(context.Background(), "denied")
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry)", p.calls.Load())
	}
}

func TestPartialBatchFailureFailsWhole(t *testing.T) {
	p := &fakeProvider{fail: 1, failErr: errors.New("bad request")}
	c := newTestClient(p, Options{BatchSize: 1, Workers: 1})

	_, err := c.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err == nil {
		t.Fatal("a failed sub-batch must fail the whole call")
	}
	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v", err)
	}
}

func TestEmptyBatch(t *testing.T) {
	c := newTestClient(&fakeProvider{}, Options{})
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("vecs=%v err=%v", vecs, err)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.25e-7, 0}
	got, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: %v != %v", i, got[i], vec[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("truncated data must fail to decode")
	}
}

func TestCacheKeyIncludesModel(t *testing.T) {
	a := newTestClient(&fakeProvider{}, Options{Model: "model-a"})
	b := newTestClient(&fakeProvider{}, Options{Model: "model-b"})
	if a.CacheKey("same text") == b.CacheKey("same text") {
		t.Error("different models must not share cache entries")
	}
}
