// Package store persists the set of item ids the user has already seen.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/otel"
)

// DefaultKey is the record name the seen set is stored under.
const DefaultKey = "readArticles"

// Backend is durable key-value storage for a single serialized record.
// Load returns (nil, nil) when the key does not exist.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// Record is one persisted entry of the seen set.
type Record struct {
	ID       string    `json:"id"`
	Title    string    `json:"title,omitempty"`
	Language string    `json:"language,omitempty"`
	SeenAt   time.Time `json:"seenAt,omitempty"`
}

// UnmarshalJSON accepts numeric ids as well as strings, so whole article
// objects persisted by earlier clients decode too.
func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	var raw struct {
		plain
		ID feed.LooseString `json:"id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Record(raw.plain)
	r.ID = strings.TrimSpace(string(raw.ID))
	return nil
}

// RecordFor builds the record persisted when item is marked seen.
func RecordFor(item feed.Item) Record {
	return Record{ID: item.ID, Title: item.Title, Language: item.Language}
}

// Options configures a Store.
type Options struct {
	Key    string      // defaults to DefaultKey
	Logger *otel.Logger // optional
	Now    func() time.Time
}

// Store is the read-state store. NOT an interface - concrete type.
//
// The in-memory set is authoritative for the session: an id added here stays
// seen even if its durable write fails. Every successful write persists the
// whole in-memory set, so ids whose write failed are retried by the next one.
//
// Thread-safety: all methods are safe for concurrent use. viewMu guards the
// in-memory set; writeMu serializes read-modify-write of the persisted record.
type Store struct {
	backend Backend
	key     string
	logger  *otel.Logger
	now     func() time.Time

	viewMu  sync.RWMutex
	seen    map[string]Record
	order   []string
	durable map[string]struct{}

	writeMu sync.Mutex
}

// Open creates a Store over backend and loads the persisted seen set.
// A corrupt record is copied to "<key>.corrupt" and the store starts empty.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		backend: backend,
		key:     opts.Key,
		logger:  opts.Logger,
		now:     opts.Now,
		seen:    make(map[string]Record),
		durable: make(map[string]struct{}),
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadRecords returns the records persisted under key without opening a
// Store. It never writes: a corrupt record is reported as an error wrapping
// feed.ErrData instead of being backed up. Duplicate ids keep their first
// occurrence.
func ReadRecords(ctx context.Context, backend Backend, key string) ([]Record, error) {
	if key == "" {
		key = DefaultKey
	}
	data, err := backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", feed.ErrStorage, key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", feed.ErrData, key, err)
	}

	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}

// Has reports whether id has been seen.
func (s *Store) Has(id string) bool {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of seen ids.
func (s *Store) Len() int {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return len(s.seen)
}

// All returns a copy of the seen id set.
func (s *Store) All() map[string]struct{} {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	out := make(map[string]struct{}, len(s.seen))
	for id := range s.seen {
		out[id] = struct{}{}
	}
	return out
}

// Records returns the seen records in insertion order.
func (s *Store) Records() []Record {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.seen[id])
	}
	return out
}

// Unsynced returns how many seen ids are not yet known to be durable.
func (s *Store) Unsynced() int {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return len(s.seen) - len(s.durable)
}

// Add marks rec.ID as seen. Adding an id that is already present is a no-op
// with no backend write. On a persistence failure the returned error wraps
// feed.ErrStorage and the id stays seen in memory.
func (s *Store) Add(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", feed.ErrData)
	}

	s.viewMu.Lock()
	if _, ok := s.seen[rec.ID]; ok {
		s.viewMu.Unlock()
		return nil
	}
	if rec.SeenAt.IsZero() {
		rec.SeenAt = s.now().UTC()
	}
	s.insertLocked(rec)
	s.viewMu.Unlock()

	ctx, span := otel.Tracer("store").Start(ctx, "store.add")
	span.SetAttributes(attribute.String("item.id", rec.ID))
	defer span.End()

	if err := s.persist(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindStoreError, Comp: "store", ItemID: rec.ID, Err: err.Error()})
		return err
	}

	s.logger.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindMarkAdd, Comp: "store", ItemID: rec.ID, Language: rec.Language})
	return nil
}

// Refresh re-reads the persisted record and merges it into the in-memory set.
// Ids are never removed from memory.
func (s *Store) Refresh(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	persisted, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	for _, rec := range persisted {
		if _, ok := s.seen[rec.ID]; !ok {
			s.insertLocked(rec)
		}
		s.durable[rec.ID] = struct{}{}
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.backend.Close()
}

// persist rewrites the record as (persisted ∪ memory). Persisted order first,
// then memory-only ids in insertion order.
func (s *Store) persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	persisted, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	s.viewMu.Lock()
	merged := make([]Record, 0, len(persisted)+len(s.order))
	inRecord := make(map[string]struct{}, len(persisted)+len(s.order))
	for _, rec := range persisted {
		if _, dup := inRecord[rec.ID]; dup {
			continue
		}
		inRecord[rec.ID] = struct{}{}
		merged = append(merged, rec)
		if _, ok := s.seen[rec.ID]; !ok {
			s.insertLocked(rec)
		}
	}
	for _, id := range s.order {
		if _, ok := inRecord[id]; ok {
			continue
		}
		inRecord[id] = struct{}{}
		merged = append(merged, s.seen[id])
	}
	s.viewMu.Unlock()

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", feed.ErrStorage, err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: save %s: %w", feed.ErrStorage, s.key, err)
	}

	s.viewMu.Lock()
	for id := range inRecord {
		s.durable[id] = struct{}{}
	}
	s.viewMu.Unlock()
	return nil
}

// loadLocked reads and decodes the persisted record. Caller must hold writeMu.
func (s *Store) loadLocked(ctx context.Context) ([]Record, error) {
	data, err := s.backend.Load(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", feed.ErrStorage, s.key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	records, err := decodeRecords(data)
	if err != nil {
		// Keep the unreadable bytes around instead of silently overwriting them.
		backupKey := s.key + ".corrupt"
		if saveErr := s.backend.Save(ctx, backupKey, data); saveErr != nil {
			return nil, fmt.Errorf("%w: back up corrupt %s: %w", feed.ErrStorage, s.key, errors.Join(err, saveErr))
		}
		s.logger.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindStoreCorrupt, Comp: "store", Err: err.Error(), Msg: "backed up to " + backupKey})
		return nil, nil
	}
	return records, nil
}

// insertLocked adds rec to the in-memory set. Caller must hold viewMu.
func (s *Store) insertLocked(rec Record) {
	s.seen[rec.ID] = rec
	s.order = append(s.order, rec.ID)
}

// decodeRecords accepts an array of records. Entries without an id are skipped.
func decodeRecords(data []byte) ([]Record, error) {
	var raw []Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode seen set: %w", err)
	}
	out := raw[:0]
	for _, rec := range raw {
		if rec.ID != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}
