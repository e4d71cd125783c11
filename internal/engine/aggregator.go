package engine

import (
	"sync"
	"time"
)

// ChangeKind discriminates a per-row change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a single decoded, scope-filtered notification handed to the
// aggregator. For deletes only ID is set.
type Change struct {
	Kind   ChangeKind
	ID     string
	Entity Entity
}

// Batch is one drained set of coalesced changes, applied to the snapshot as
// a single state transition.
type Batch struct {
	Inserts map[string]Entity
	Updates map[string]Entity
	Deletes map[string]struct{}
}

func newBatch() Batch {
	return Batch{
		Inserts: map[string]Entity{},
		Updates: map[string]Entity{},
		Deletes: map[string]struct{}{},
	}
}

func (b Batch) empty() bool {
	return len(b.Inserts) == 0 && len(b.Updates) == 0 && len(b.Deletes) == 0
}

// Aggregator absorbs a high-frequency, unordered stream of change
// notifications and converts it into infrequent batched transitions. Every
// intake upserts into an id-keyed queue (last value wins) and resets the
// debounce timer, so N notifications inside a window cost one flush
// proportional to distinct affected rows, not notification count.
//
// The timer is reset, not extended, on each intake; a continuous stream can
// in principle delay a flush indefinitely, which is acceptable for the
// bounded human-paced bursts of this domain.
type Aggregator struct {
	mu      sync.Mutex
	window  time.Duration
	flush   func(Batch)
	inserts map[string]Entity
	updates map[string]Entity
	deletes map[string]struct{}
	timer   *time.Timer
	closed  bool
}

func NewAggregator(window time.Duration, flush func(Batch)) *Aggregator {
	return &Aggregator{
		window:  window,
		flush:   flush,
		inserts: map[string]Entity{},
		updates: map[string]Entity{},
		deletes: map[string]struct{}{},
	}
}

// Intake queues one change and (re)starts the debounce timer.
func (a *Aggregator) Intake(c Change) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	switch c.Kind {
	case ChangeInsert:
		a.inserts[c.ID] = c.Entity
	case ChangeUpdate:
		a.updates[c.ID] = c.Entity
	case ChangeDelete:
		a.deletes[c.ID] = struct{}{}
	default:
		return
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.window, a.fire)
}

func (a *Aggregator) fire() {
	batch, ok := a.drain()
	if ok && !batch.empty() {
		a.flush(batch)
	}
}

// Flush drains immediately without waiting for the timer. Used when an
// authoritative refetch is about to supersede queued deltas anyway.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.fire()
}

func (a *Aggregator) drain() (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Batch{}, false
	}
	batch := Batch{Inserts: a.inserts, Updates: a.updates, Deletes: a.deletes}
	a.inserts = map[string]Entity{}
	a.updates = map[string]Entity{}
	a.deletes = map[string]struct{}{}
	a.timer = nil
	return batch, true
}

// Close cancels the pending timer and drops queued-but-undelivered
// notifications. The subscription is re-established on restart and a fresh
// read supersedes missed deltas.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.inserts = nil
	a.updates = nil
	a.deletes = nil
}
