package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultBasics(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok result misreported")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatalf("Unwrap: %d, %v", v, err)
	}

	e := Err[int](errors.New("boom"))
	if e.IsOk() {
		t.Fatal("Err result misreported")
	}
	if e.UnwrapOr(7) != 7 {
		t.Fatal("UnwrapOr fallback")
	}

	if got := FromPair(3, nil).UnwrapOr(0); got != 3 {
		t.Fatalf("FromPair ok: %d", got)
	}
	if FromPair(3, errors.New("x")).IsOk() {
		t.Fatal("FromPair err should fail")
	}
}

func TestCollect(t *testing.T) {
	ok := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	vals, err := ok.Unwrap()
	if err != nil || len(vals) != 3 || vals[1] != 2 {
		t.Fatalf("Collect ok: %v %v", vals, err)
	}

	bad := Collect([]Result[int]{Ok(1), Err[int](errors.New("mid")), Ok(3)})
	if bad.IsOk() {
		t.Fatal("Collect should surface the error")
	}
}

func TestParMapResultOrderAndBound(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	results := ParMapResult(items, 3, func(v int) Result[int] {
		cur := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if cur <= m || maxInFlight.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return Ok(v * 10)
	})

	if maxInFlight.Load() > 3 {
		t.Errorf("concurrency bound violated: %d", maxInFlight.Load())
	}
	for i, r := range results {
		v, err := r.Unwrap()
		if err != nil || v != i*10 {
			t.Errorf("result %d: %d, %v", i, v, err)
		}
	}
}

func TestFanOutResult(t *testing.T) {
	r := FanOutResult(
		func() Result[string] { return Ok("a") },
		func() Result[string] { return Ok("b") },
	)
	vals, err := r.Unwrap()
	if err != nil || vals[0] != "a" || vals[1] != "b" {
		t.Fatalf("FanOutResult: %v %v", vals, err)
	}
}

func TestBatches(t *testing.T) {
	got := Batches([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("Batches: %v", got)
	}
	if Batches([]int{1}, 0) != nil {
		t.Fatal("n<=0 should return nil")
	}
}

func TestUniqueBy(t *testing.T) {
	type s struct{ k, v string }
	got := UniqueBy([]s{{"a", "1"}, {"b", "2"}, {"a", "3"}}, func(x s) string { return x.k })
	if len(got) != 2 || got[0].v != "1" {
		t.Fatalf("UniqueBy: %v", got)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var sleeps []time.Duration
	opts := RetryOpts{
		MaxAttempts: 4,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	calls := 0
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(99)
	})

	v, err := r.Unwrap()
	if err != nil || v != 99 {
		t.Fatalf("retry result: %d, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2 entries", sleeps)
	}
	// Without jitter the waits double.
	if sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Errorf("backoff schedule: %v", sleeps)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("always"))
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("calls=%d ok=%v", calls, r.IsOk())
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		RetryIf:     func(err error) bool { return !errors.Is(err, permanent) },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if _, err := r.Unwrap(); !errors.Is(err, permanent) {
		t.Errorf("err = %v", err)
	}
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := Retry(ctx, RetryOpts{
		MaxAttempts: 5,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("transient"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
