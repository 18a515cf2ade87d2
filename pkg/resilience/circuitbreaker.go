package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the provider while the circuit
// is open.
var ErrCircuitOpen = errors.New("circuit open")

// State is the circuit's position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerOpts configures a Breaker. Zero fields take the defaults: five
// consecutive failures open the circuit for 30s, then one probe decides.
type BreakerOpts struct {
	// Failures is how many consecutive failures open the circuit.
	Failures int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// Probes is how many calls may test recovery while half-open.
	Probes int
	Log    *slog.Logger
}

// Breaker shields callers from a provider that is failing hard: after enough
// consecutive errors every call is rejected with ErrCircuitOpen until the
// cooldown elapses, then a limited number of probe calls test recovery. A
// probe success closes the circuit; a probe failure reopens it.
type Breaker struct {
	name string
	opts BreakerOpts
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int

	now func() time.Time // for testing
}

// NewBreaker creates a Breaker named after the provider it guards; the name
// appears in transition logs.
func NewBreaker(name string, opts BreakerOpts) *Breaker {
	if opts.Failures <= 0 {
		opts.Failures = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Probes <= 0 {
		opts.Probes = 1
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{name: name, opts: opts, log: log, state: StateClosed, now: time.Now}
}

// State reports the circuit's position, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position()
}

// position moves open to half-open once the cooldown has elapsed. Callers
// hold mu.
func (b *Breaker) position() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probes = 0
		b.log.Info("circuit half-open", "breaker", b.name)
	}
	return b.state
}

// Call runs f unless the circuit rejects it, and feeds the outcome back into
// the circuit's state.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.position() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.Probes {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.Failures {
			b.trip()
		}
		return
	}

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.log.Info("circuit closed", "breaker", b.name)
	}
	b.failures = 0
}

// trip opens the circuit. Callers hold mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probes = 0
	b.log.Warn("circuit opened", "breaker", b.name, "cooldown", b.opts.Cooldown)
}
