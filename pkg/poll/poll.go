// Package poll implements the adaptive polling engine: a scheduler that
// repeatedly invokes a caller-supplied asynchronous factory, adjusting the
// delay between invocations in response to outcomes (success, failure,
// external refresh, host visibility). It depends on no storage, metrics, or
// control-surface code (its only third-party import is google/uuid for tick
// IDs) — callers wire it to those from the outside (see the pollstore,
// pollmetrics, and cluster packages).
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rmax-ai/pollwatch/pkg/poll/clock"
)

// Phase labels why a tick's state was installed.
type Phase string

const (
	PhaseStandby      Phase = "standby"
	PhaseWhenResolved Phase = "when-resolved"
	PhaseWhenRejected Phase = "when-rejected"
	PhaseResolved     Phase = "resolved"
	PhaseRejected     Phase = "rejected"
	PhaseReconnect    Phase = "reconnect"
	PhaseRefresh      Phase = "refresh"
)

// Tick is the immutable value installed at each transition of the state
// machine. Value and Err are mutually exclusive and are only meaningful
// when Phase is one of Resolved, Rejected, or Reconnect — Rejected carries
// Err, the other two carry Value.
type Tick[T any] struct {
	ID       string
	Interval time.Duration
	Value    T
	Err      error
	Phase    Phase
	At       time.Time
}

// TickResult is what the outstanding-tick promise resolves to: the newly
// installed tick, or a disposal error if the poll was torn down while a
// consumer was awaiting it.
type TickResult[T any] struct {
	Tick Tick[T]
	Err  error
}

// DisposedError is delivered to any consumer awaiting a tick when Dispose
// is called.
type DisposedError struct{ Name string }

func (e *DisposedError) Error() string {
	return fmt.Sprintf("poll %q: disposed", e.Name)
}

// FactoryFunc is the caller-supplied asynchronous operation. It receives
// the state that was current when it was invoked and yields either a
// success value or a failure reason. It must never panic; a panic is
// recovered and treated as a failure, matching the "must not synchronously
// throw" contract.
type FactoryFunc[T any] func(ctx context.Context, prior Tick[T]) (T, error)

// GateFunc is an optional predicate that must settle before the first
// invocation. Whether it succeeds or fails, polling begins.
type GateFunc func(ctx context.Context) error

// HiddenFunc reports whether the host currently considers itself hidden
// (e.g. an application backgrounded, or a health check target considered
// out of scope). A nil HiddenFunc means never hidden.
type HiddenFunc func() bool

var (
	ErrIntervalExceedsMax = errors.New("poll: interval exceeds max")
	ErrMinExceedsMax      = errors.New("poll: min exceeds max")
	ErrMinExceedsInterval = errors.New("poll: min exceeds interval")
	ErrFactoryRequired    = errors.New("poll: factory is required")
)

// Options configures a Poll instance. Interval, Min, and Max are validated
// at construction; Min <= Interval <= Max must hold.
type Options[T any] struct {
	Name     string
	Interval time.Duration
	Min      time.Duration
	Max      time.Duration
	Variance float64
	Factory  FactoryFunc[T]
	Gate     GateFunc
	Hidden   HiddenFunc
	Clock    clock.Clock
	Rand     RandSource
	Context  context.Context
}

func (o *Options[T]) validate() error {
	if o.Factory == nil {
		return ErrFactoryRequired
	}
	if o.Interval > o.Max {
		return ErrIntervalExceedsMax
	}
	if o.Min > o.Max {
		return ErrMinExceedsMax
	}
	if o.Min > o.Interval {
		return ErrMinExceedsInterval
	}
	return nil
}

func (o *Options[T]) applyDefaults() {
	if o.Name == "" {
		o.Name = "unknown"
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Rand == nil {
		o.Rand = defaultRandSource
	}
	if o.Hidden == nil {
		o.Hidden = func() bool { return false }
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
}

// snapshot is the lock-free-readable view of a Poll's current state. It is
// replaced wholesale by the run loop on every transition; readers never
// contend with the mailbox.
type snapshot[T any] struct {
	state    Tick[T]
	tickCh   chan TickResult[T]
	disposed bool
}

// Poll is one adaptive polling engine instance. Configuration is immutable
// after construction; mutable state is owned exclusively by a private
// goroutine (run) that serializes every transition, matching the
// single-logical-mailbox concurrency model.
type Poll[T any] struct {
	name     string
	interval time.Duration
	min      time.Duration
	max      time.Duration
	variance float64
	factory  FactoryFunc[T]
	gate     GateFunc
	hidden   HiddenFunc
	clk      clock.Clock
	rnd      RandSource
	ctx      context.Context

	cmds chan any
	done chan struct{}
	snap atomic.Pointer[snapshot[T]]

	ticked   *Broadcaster[Tick[T]]
	disposal *Broadcaster[struct{}]
}

// New constructs a Poll and starts its scheduling goroutine. The first
// invocation is deferred until any Gate settles.
func New[T any](opts Options[T]) (*Poll[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	p := &Poll[T]{
		name:     opts.Name,
		interval: opts.Interval,
		min:      opts.Min,
		max:      opts.Max,
		variance: opts.Variance,
		factory:  opts.Factory,
		gate:     opts.Gate,
		hidden:   opts.Hidden,
		clk:      opts.Clock,
		rnd:      opts.Rand,
		ctx:      opts.Context,
		cmds:     make(chan any, 16),
		done:     make(chan struct{}),
		ticked:   NewBroadcaster[Tick[T]](),
		disposal: NewBroadcaster[struct{}](),
	}

	initial := Tick[T]{
		ID:    uuid.NewString(),
		Phase: PhaseStandby,
		At:    p.clk.Now(),
	}
	p.snap.Store(&snapshot[T]{state: initial, tickCh: make(chan TickResult[T], 1)})

	go p.run()
	return p, nil
}

// Name, Interval, Max, Min, Variance are trivial configuration accessors.
func (p *Poll[T]) Name() string            { return p.name }
func (p *Poll[T]) Interval() time.Duration { return p.interval }
func (p *Poll[T]) Max() time.Duration      { return p.max }
func (p *Poll[T]) Min() time.Duration      { return p.min }
func (p *Poll[T]) Variance() float64       { return p.variance }
func (p *Poll[T]) State() Tick[T]          { return p.snap.Load().state }
func (p *Poll[T]) IsDisposed() bool        { return p.snap.Load().disposed }

// Tick returns a channel that resolves exactly once, when the next tick's
// state has been installed. A fresh channel is returned by every call
// after that tick resolves; the same channel is returned to every caller
// racing to observe the same upcoming tick.
func (p *Poll[T]) Tick() <-chan TickResult[T] {
	return p.snap.Load().tickCh
}

// Ticked returns a broadcast subscription delivering every tick installed
// from this point forward, in installation order, and an unsubscribe func.
func (p *Poll[T]) Ticked() (<-chan Tick[T], func()) {
	return p.ticked.Subscribe()
}

// Disposed returns a channel that is closed exactly once, when Dispose
// completes.
func (p *Poll[T]) Disposed() <-chan struct{} {
	return p.done
}

// Refresh preempts the current schedule: it installs a zero-delay refresh
// state immediately and arranges for the factory to run at the next
// opportunity. It returns the new outstanding tick channel. The outcome of
// any factory call already in flight is superseded and will be ignored
// when it settles.
func (p *Poll[T]) Refresh() <-chan TickResult[T] {
	resp := make(chan chan TickResult[T], 1)
	select {
	case p.cmds <- cmdRefresh[T]{resp: resp}:
	case <-p.done:
		return p.snap.Load().tickCh
	}
	select {
	case ch := <-resp:
		return ch
	case <-p.done:
		return p.snap.Load().tickCh
	}
}

// Dispose is idempotent. It cancels any pending timer, rejects the
// outstanding tick promise with a DisposedError, emits Disposed, and stops
// the scheduling goroutine. No further transitions or factory invocations
// occur after it returns.
func (p *Poll[T]) Dispose() {
	ackCh := make(chan struct{})
	select {
	case p.cmds <- cmdDispose{ack: ackCh}:
		select {
		case <-ackCh:
		case <-p.done:
		}
	case <-p.done:
	}
}

// --- internal command types ---

type cmdTimerFired struct{ seq uint64 }

type cmdFactoryDone[T any] struct {
	seq   uint64
	prior Tick[T]
	value T
	err   error
}

type cmdRefresh[T any] struct {
	resp chan chan TickResult[T]
}

type cmdDispose struct {
	ack chan struct{}
}

type cmdGateSettled struct {
	err error
}

// --- the run loop: the poll's single logical mailbox ---

func (p *Poll[T]) run() {
	defer close(p.done)

	var seq uint64
	var cur Tick[T]
	var timer clock.Timer

	install := func(next Tick[T]) {
		old := p.snap.Load()
		next.ID = uuid.NewString()
		newSnap := &snapshot[T]{
			state:  next,
			tickCh: make(chan TickResult[T], 1),
		}
		p.snap.Store(newSnap)
		old.tickCh <- TickResult[T]{Tick: next}
		p.ticked.Publish(next)
		cur = next
		seq++
	}

	schedule := func(delay time.Duration, mySeq uint64) {
		if timer != nil {
			timer.Stop()
		}
		timer = p.clk.AfterFunc(delay, func() {
			select {
			case p.cmds <- cmdTimerFired{seq: mySeq}:
			case <-p.done:
			}
		})
	}

	// The gate settles on its own goroutine and reports back through the
	// mailbox, exactly like a factory invocation, so a Refresh or Dispose
	// racing the gate is handled by the same code path as any other
	// in-flight supersession instead of a special pre-loop case.
	go func() {
		err := runGate(p.ctx, p.gate)
		select {
		case p.cmds <- cmdGateSettled{err: err}:
		case <-p.done:
		}
	}()

	handleTimerFired := func() {
		if p.hidden() {
			next := Tick[T]{Phase: PhaseStandby, Interval: p.jitterConfigured(), At: p.clk.Now()}
			install(next)
			schedule(next.Interval, seq)
			return
		}

		prior := cur
		mySeq := seq
		go func() {
			v, err := runFactory(p.ctx, p.factory, prior)
			select {
			case p.cmds <- cmdFactoryDone[T]{seq: mySeq, prior: prior, value: v, err: err}:
			case <-p.done:
			}
		}()
	}

	handleFactoryDone := func(c cmdFactoryDone[T]) {
		var next Tick[T]
		if c.err != nil {
			backoff := clampDuration(c.prior.Interval*2, p.min, p.max)
			next = Tick[T]{
				Phase:    PhaseRejected,
				Interval: jitter(backoff, p.variance, p.min, p.max, p.rnd),
				Err:      c.err,
				At:       p.clk.Now(),
			}
		} else {
			phase := PhaseResolved
			if c.prior.Phase == PhaseRejected {
				phase = PhaseReconnect
			}
			next = Tick[T]{
				Phase:    phase,
				Interval: p.jitterConfigured(),
				Value:    c.value,
				At:       p.clk.Now(),
			}
		}
		install(next)
		schedule(next.Interval, seq)
	}

	for cmd := range p.cmds {
		switch c := cmd.(type) {
		case cmdGateSettled:
			if c.err != nil {
				slog.Warn("poll: gate failed, polling proceeds", "name", p.name, "error", c.err)
			}
			phase := PhaseWhenResolved
			if c.err != nil {
				phase = PhaseWhenRejected
			}
			next := Tick[T]{Phase: phase, Interval: p.jitterConfigured(), At: p.clk.Now()}
			install(next)
			schedule(next.Interval, seq)

		case cmdTimerFired:
			if c.seq != seq {
				continue // superseded; stale timer fire
			}
			handleTimerFired()

		case cmdFactoryDone[T]:
			if c.seq != seq {
				continue // stale settlement of a superseded invocation
			}
			handleFactoryDone(c)

		case cmdRefresh[T]:
			next := Tick[T]{Phase: PhaseRefresh, Interval: 0, At: p.clk.Now()}
			install(next)
			resp := p.snap.Load().tickCh
			schedule(0, seq)
			c.resp <- resp

		case cmdDispose:
			old := p.snap.Load()
			p.snap.Store(&snapshot[T]{state: old.state, tickCh: old.tickCh, disposed: true})
			if timer != nil {
				timer.Stop()
			}
			old.tickCh <- TickResult[T]{Err: &DisposedError{Name: p.name}}
			p.disposal.Publish(struct{}{})
			p.ticked.Close()
			p.disposal.Close()
			close(c.ack)
			return
		}
	}
}

func (p *Poll[T]) jitterConfigured() time.Duration {
	return jitter(p.interval, p.variance, p.min, p.max, p.rnd)
}

func runGate(ctx context.Context, gate GateFunc) (err error) {
	if gate == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll: gate panicked: %v", r)
		}
	}()
	return gate(ctx)
}

func runFactory[T any](ctx context.Context, factory FactoryFunc[T], prior Tick[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = fmt.Errorf("poll: factory panicked: %v", r)
		}
	}()
	return factory(ctx, prior)
}
