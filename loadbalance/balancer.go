// Package loadbalance holds an ordered collection of backends, each
// wrapped with its own capacity and error-handling state, and offers a
// "best current" selector the call dispatcher consumes on every attempt.
//
// Ordering key (descending preference): skip status and health-floor
// status first (a skipped item or one whose health has dropped below its
// configured MinHealthForSelection sorts last), then health (higher
// wins), then latency EWMA (lower wins), then insertion index (stable
// tie-break). sort() re-applies this ordering; withContext() returns the
// current head without mutating anything.
package loadbalance

import (
	"sort"
	"sync"
	"time"

	"github.com/mini-rpc/coreband/capacity"
	"github.com/mini-rpc/coreband/errhandler"
)

// Item pairs a backend with its capacity state and error handler. Items
// are compared by pointer identity, matching the courteous selection
// algorithm's `it != previous` checks.
type Item[B any] struct {
	backend    B
	cap        *capacity.State
	errHandler errhandler.Handler
	insertion  int

	mu          sync.Mutex
	latencyEwma float64
	skipUntil   time.Time
}

// ewmaAlpha weights new latency samples against the running average.
const ewmaAlpha = 0.2

// NewItem wraps a backend with its capacity state and error handler.
// insertion is the stable tie-break index assigned by the balancer.
func NewItem[B any](backend B, cap *capacity.State, errHandler errhandler.Handler, insertion int) *Item[B] {
	return &Item[B]{backend: backend, cap: cap, errHandler: errHandler, insertion: insertion}
}

// Backend returns the wrapped backend.
func (it *Item[B]) Backend() B { return it.backend }

// Capacity returns the item's capacity state.
func (it *Item[B]) Capacity() *capacity.State { return it.cap }

// Sample folds a measured call latency into the item's EWMA.
func (it *Item[B]) Sample(d time.Duration) {
	it.mu.Lock()
	defer it.mu.Unlock()
	ms := float64(d) / float64(time.Millisecond)
	if it.latencyEwma == 0 {
		it.latencyEwma = ms
		return
	}
	it.latencyEwma = ewmaAlpha*ms + (1-ewmaAlpha)*it.latencyEwma
}

func (it *Item[B]) latency() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.latencyEwma
}

// skip marks the item unselectable until now+d.
func (it *Item[B]) skip(d time.Duration) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.skipUntil = time.Now().Add(d)
}

func (it *Item[B]) skipped() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return time.Now().Before(it.skipUntil)
}

// belowHealthFloor reports whether the item's current health has dropped
// below its configured MinHealthForSelection. A zero floor (the default)
// disables the check, matching a deployment that never set one.
func (it *Item[B]) belowHealthFloor() bool {
	floor := it.cap.MinHealthForSelection()
	return floor > 0 && it.cap.Health() < floor
}

// OnSuccess records a successful call for this item's health tracking.
func (it *Item[B]) OnSuccess() {
	it.cap.OnSuccess()
}

// OnError feeds the failure into the capacity error tracker and the
// item's error handler, returning the backoff decision: a nonnegative
// delay to sleep before retrying this same item, or a negative duration
// signalling give-up. On a fatal classification the item is also skipped
// briefly so the ordering favors other items on the next sort.
func (it *Item[B]) OnError(errorCount uint32, cause error) time.Duration {
	it.cap.OnError()
	class := errhandler.Classify(cause)
	delay := it.errHandler.OnError(errorCount, class)
	if delay < 0 {
		it.skip(time.Second)
	}
	return delay
}

// Balancer is an ordered sequence of Items. Reads (WithContext, Peek,
// Items) take the read side of the lock; Sort takes the write side, per
// the concurrency model's guidance to protect the published ordering with
// a mutex taken only for iteration and re-sorting.
type Balancer[B any] struct {
	mu    sync.RWMutex
	order []*Item[B]
}

// New builds a Balancer over the given backends, seeding each with the
// same capacity config and its own error handler. Initial ordering is
// insertion order.
func New[B any](backends []B, capCfg capacity.Config, newHandler func() errhandler.Handler) *Balancer[B] {
	return NewWithCapacity(backends, func(B) capacity.Config { return capCfg }, newHandler)
}

// NewWithCapacity is New's per-backend variant: capacityFor derives each
// backend's own capacity.Config instead of sharing one across the fleet,
// for callers (e.g. registry.NewBalancer) whose discovered backends carry
// their own capacity hints.
func NewWithCapacity[B any](backends []B, capacityFor func(B) capacity.Config, newHandler func() errhandler.Handler) *Balancer[B] {
	items := make([]*Item[B], len(backends))
	for i, b := range backends {
		items[i] = NewItem(b, capacity.New(capacityFor(b)), newHandler(), i)
	}
	return &Balancer[B]{order: items}
}

// less implements the documented ordering key. An item below its health
// floor is treated as unselectable exactly like a skipped item: it sorts
// after every selectable item, regardless of latency or insertion order.
func less[B any](a, b *Item[B]) bool {
	as, bs := a.skipped() || a.belowHealthFloor(), b.skipped() || b.belowHealthFloor()
	if as != bs {
		return !as // non-skipped/healthy wins
	}
	ah, bh := a.cap.Health(), b.cap.Health()
	if ah != bh {
		return ah > bh // higher health wins
	}
	al, bl := a.latency(), b.latency()
	if al != bl {
		return al < bl // lower latency wins
	}
	return a.insertion < b.insertion // stable tie-break
}

func sortedCopy[B any](items []*Item[B]) []*Item[B] {
	out := make([]*Item[B], len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// WithContext returns the current head; stable until the next Sort.
func (b *Balancer[B]) WithContext() *Item[B] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.order[0]
}

// Peek returns the item that would be head after a hypothetical re-sort
// using fresh samples, without mutating the published order.
func (b *Balancer[B]) Peek() *Item[B] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedCopy(b.order)[0]
}

// Sort materializes a new ordering using the current sample vector.
func (b *Balancer[B]) Sort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	sort.SliceStable(b.order, func(i, j int) bool { return less(b.order[i], b.order[j]) })
}

// Items returns a read-only snapshot of the current order.
func (b *Balancer[B]) Items() []*Item[B] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Item[B], len(b.order))
	copy(out, b.order)
	return out
}

// Size returns N, the number of backends in the balancer.
func (b *Balancer[B]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}
