package resilience

import (
	"testing"
	"time"
)

// fakeClock advances manually.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(quota int, window time.Duration) (*KeyedLimiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)}
	kl := NewKeyedLimiter(LimiterOpts{Quota: quota, Window: window})
	kl.now = clk.now
	return kl, clk
}

func TestKeyedLimiterQuota(t *testing.T) {
	kl, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !kl.Allow("client-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if kl.Allow("client-a") {
		t.Error("request over quota should be rejected")
	}
}

func TestKeyedLimiterIsolatesClients(t *testing.T) {
	kl, _ := newTestLimiter(1, time.Minute)

	if !kl.Allow("client-a") {
		t.Fatal("first client-a request should pass")
	}
	if kl.Allow("client-a") {
		t.Fatal("second client-a request should be rejected")
	}
	if !kl.Allow("client-b") {
		t.Error("client-b must have an independent bucket")
	}
}

func TestKeyedLimiterWindowReset(t *testing.T) {
	kl, clk := newTestLimiter(2, time.Minute)

	kl.Allow("c")
	kl.Allow("c")
	if kl.Allow("c") {
		t.Fatal("quota exhausted, should reject")
	}

	clk.advance(time.Minute)
	if !kl.Allow("c") {
		t.Error("request after the window should succeed")
	}
}

func TestKeyedLimiterPrune(t *testing.T) {
	kl, clk := newTestLimiter(1, time.Minute)

	kl.Allow("stale")
	clk.advance(10 * time.Minute)
	kl.Allow("fresh")

	if removed := kl.Prune(5 * time.Minute); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if kl.Size() != 1 {
		t.Errorf("size = %d, want 1", kl.Size())
	}
}
