// Package tracker bridges "which item is being shown" to "mark it seen".
//
// Every projection handed to the tracker gets a version. Presenters echo the
// version back with each activation so the index is resolved against the
// list they actually displayed, not whatever the projection shrank to since.
package tracker

import (
	"context"
	"sync"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/store"
)

// recentVersions is how many projections of the current generation stay
// resolvable after they are replaced.
const recentVersions = 8

// Marker is the slice of the read-state store the tracker needs.
type Marker interface {
	Has(id string) bool
	Add(ctx context.Context, rec store.Record) error
}

// Outcome describes what an activation did.
type Outcome int

const (
	OutcomeStale       Outcome = iota // version unknown or from an older generation
	OutcomeOutOfRange                 // index outside the projection
	OutcomeAlreadySeen                // item was already marked
	OutcomeMarked                     // item is now marked seen
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStale:
		return "stale"
	case OutcomeOutOfRange:
		return "out-of-range"
	case OutcomeAlreadySeen:
		return "already-seen"
	case OutcomeMarked:
		return "marked"
	default:
		return "unknown"
	}
}

type projection struct {
	version uint64
	items   []feed.Item
}

// Tracker holds the position within the current projection.
// It never marks anything on its own: only Activate marks.
type Tracker struct {
	marker Marker

	mu         sync.Mutex
	version    uint64
	generation uint64
	position   int
	recent     []projection // oldest first; last is current
}

// New creates a Tracker that marks through m.
func New(m Marker) *Tracker {
	return &Tracker{marker: m, position: -1}
}

// Reset installs the projection of a new generation. The position moves to
// the first item, or -1 when filtered is empty. Projections of earlier
// generations stop resolving.
func (t *Tracker) Reset(generation uint64, filtered []feed.Item) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation = generation
	t.recent = t.recent[:0]
	t.position = -1
	if len(filtered) > 0 {
		t.position = 0
	}
	return t.pushLocked(filtered)
}

// Update installs a recomputed projection within the current generation.
// The position is clamped into range, never reset.
func (t *Tracker) Update(filtered []feed.Item) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case len(filtered) == 0:
		t.position = -1
	case t.position < 0:
		t.position = 0
	case t.position >= len(filtered):
		t.position = len(filtered) - 1
	}
	return t.pushLocked(filtered)
}

// Activate handles a presenter's report that the item at index of the
// projection with the given version is now displayed. Only a not yet seen
// item is marked. A storage error is returned alongside OutcomeMarked since
// the item still counts as seen.
func (t *Tracker) Activate(ctx context.Context, version uint64, index int) (Outcome, feed.Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.lookupLocked(version)
	if !ok {
		return OutcomeStale, feed.Item{}, nil
	}
	if index < 0 || index >= len(p.items) {
		return OutcomeOutOfRange, feed.Item{}, nil
	}
	item := p.items[index]

	if version == t.version {
		t.position = index
	}

	if t.marker.Has(item.ID) {
		return OutcomeAlreadySeen, item, nil
	}
	err := t.marker.Add(ctx, store.RecordFor(item))
	return OutcomeMarked, item, err
}

// Position returns the index into the current projection, or -1.
func (t *Tracker) Position() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// Version returns the version of the current projection.
func (t *Tracker) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Generation returns the generation of the current projection.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

func (t *Tracker) pushLocked(filtered []feed.Item) uint64 {
	t.version++
	t.recent = append(t.recent, projection{version: t.version, items: filtered})
	if len(t.recent) > recentVersions {
		t.recent = append(t.recent[:0], t.recent[len(t.recent)-recentVersions:]...)
	}
	return t.version
}

func (t *Tracker) lookupLocked(version uint64) (projection, bool) {
	for i := len(t.recent) - 1; i >= 0; i-- {
		if t.recent[i].version == version {
			return t.recent[i], true
		}
	}
	return projection{}, false
}
