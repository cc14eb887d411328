// Package session wires the read-state store, fetch coordinator, filter and
// position tracker into one explicit context object.
//
// A Session owns the latest fetch result and its projection. Every change is
// published as a Snapshot through Options.OnChange, outside any lock.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/abelbrown/feedcard/internal/coord"
	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/filter"
	"github.com/abelbrown/feedcard/internal/otel"
	"github.com/abelbrown/feedcard/internal/store"
	"github.com/abelbrown/feedcard/internal/tracker"
)

// Options configures a Session.
type Options struct {
	Timeout  time.Duration // per fetch
	Logger   *otel.Logger
	OnChange func(Snapshot)
}

// Snapshot is what a presenter renders.
type Snapshot struct {
	Language   string
	Status     feed.Status
	Message    string // "" when there are cards to show
	Items      []feed.Item
	Position   int // index into Items, -1 when Items is empty
	Version    uint64
	Generation uint64
	Seen       int
	Err        error
}

// Current returns the item at Position.
func (s Snapshot) Current() (feed.Item, bool) {
	if s.Position < 0 || s.Position >= len(s.Items) {
		return feed.Item{}, false
	}
	return s.Items[s.Position], true
}

// Session is the engine behind one presenter.
//
// Thread-safety: mu serializes every projection recompute. Lock order is
// Session.mu, then the tracker, then the store.
type Session struct {
	store    *store.Store
	coord    *coord.Coordinator
	tracker  *tracker.Tracker
	logger   *otel.Logger
	onChange func(Snapshot)

	mu       sync.Mutex
	result   feed.Result
	filtered []feed.Item
	gen      uint64
	version  uint64
}

// New creates a Session over st that fetches through f.
func New(st *store.Store, f coord.Fetcher, opts Options) *Session {
	s := &Session{
		store:    st,
		tracker:  tracker.New(st),
		logger:   opts.Logger,
		onChange: opts.OnChange,
		result:   feed.Result{Status: feed.StatusIdle},
		filtered: []feed.Item{},
	}
	s.coord = coord.New(f, coord.Options{
		Timeout:  opts.Timeout,
		Logger:   opts.Logger,
		OnResult: s.apply,
	})
	return s
}

// SelectLanguage starts a fetch for language and returns its generation.
// The Loading snapshot is published before it returns.
func (s *Session) SelectLanguage(ctx context.Context, language string) uint64 {
	return s.coord.Fetch(ctx, language)
}

// Retry re-fetches the current language. Returns 0 when no language was
// ever selected.
func (s *Session) Retry(ctx context.Context) uint64 {
	return s.coord.Retry(ctx)
}

// Activate reports that the item at index of the projection with the given
// version is now displayed. A newly marked item shrinks the projection and a
// new snapshot is published. The returned item is the one the index resolved
// to. A storage error is returned alongside OutcomeMarked.
func (s *Session) Activate(ctx context.Context, version uint64, index int) (tracker.Outcome, feed.Item, error) {
	s.mu.Lock()
	out, item, err := s.tracker.Activate(ctx, version, index)
	if out != tracker.OutcomeMarked {
		s.mu.Unlock()
		s.logger.Debug(otel.Event{
			Kind:     otel.KindMarkSkip,
			Comp:     "session",
			ItemID:   item.ID,
			Language: item.Language,
			Msg:      out.String(),
		})
		return out, item, nil
	}
	s.recomputeLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return out, item, err
}

// Refresh re-reads the persisted seen set and recomputes the projection.
// Ids marked by other processes disappear from the projection.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.store.Refresh(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.recomputeLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Language returns the language of the latest fetch.
func (s *Session) Language() string {
	return s.coord.Language()
}

// Wait blocks until in-flight fetches finish.
func (s *Session) Wait() {
	s.coord.Wait()
}

// Close cancels the in-flight fetch and waits for it to finish. The store
// is owned by the caller and is not closed.
func (s *Session) Close() {
	s.coord.Cancel()
	s.coord.Wait()
}

// apply receives coordinator results. Results older than the latest
// generation seen here are dropped.
func (s *Session) apply(res feed.Result) {
	s.mu.Lock()
	if res.Generation < s.gen {
		s.mu.Unlock()
		return
	}
	s.gen = res.Generation
	s.result = res
	s.filtered = filter.Unseen(res.Items, s.store.All())
	s.version = s.tracker.Reset(res.Generation, s.filtered)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) recomputeLocked() {
	s.filtered = filter.Unseen(s.result.Items, s.store.All())
	s.version = s.tracker.Update(s.filtered)
}

func (s *Session) snapshotLocked() Snapshot {
	items := make([]feed.Item, len(s.filtered))
	copy(items, s.filtered)

	msg := s.result.Message()
	if s.result.Status == feed.StatusSuccess && len(items) == 0 {
		msg = feed.MsgEmpty
	}
	return Snapshot{
		Language:   s.result.Language,
		Status:     s.result.Status,
		Message:    msg,
		Items:      items,
		Position:   s.tracker.Position(),
		Version:    s.version,
		Generation: s.gen,
		Seen:       s.store.Len(),
		Err:        s.result.Err,
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
