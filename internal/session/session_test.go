package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/otel"
	"github.com/abelbrown/feedcard/internal/store"
	"github.com/abelbrown/feedcard/internal/tracker"
)

// mockFetcher serves canned items per language. Languages in block wait for
// their channel or ctx; languages in late ignore ctx and answer only once
// their channel closes.
type mockFetcher struct {
	mu    sync.Mutex
	items map[string][]feed.Item
	errs  map[string]error
	block map[string]chan struct{}
	late  map[string]chan struct{}
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		items: make(map[string][]feed.Item),
		errs:  make(map[string]error),
		block: make(map[string]chan struct{}),
		late:  make(map[string]chan struct{}),
	}
}

func (m *mockFetcher) Fetch(ctx context.Context, language string) ([]feed.Item, error) {
	m.mu.Lock()
	ch := m.block[language]
	late := m.late[language]
	m.mu.Unlock()
	if late != nil {
		<-late
	}
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[language], m.errs[language]
}

// failingBackend wraps a backend and fails every Save while fail is set.
type failingBackend struct {
	store.Backend
	mu   sync.Mutex
	fail bool
}

func (b *failingBackend) setFail(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = v
}

func (b *failingBackend) Save(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.Save(ctx, key, data)
}

type snapshots struct {
	mu  sync.Mutex
	all []Snapshot
}

func (s *snapshots) record(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, snap)
}

func (s *snapshots) list() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.all))
	copy(out, s.all)
	return out
}

func items(ids ...string) []feed.Item {
	out := make([]feed.Item, len(ids))
	for i, id := range ids {
		out[i] = feed.Item{ID: id, Title: "Item " + id, Language: "en"}
	}
	return out
}

func ids(items []feed.Item) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.ID
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func openBackend(t *testing.T) store.Backend {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	return db
}

func openStore(t *testing.T, b store.Backend) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), b, store.Options{Logger: otel.NewNullLogger()})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	return st
}

func TestScenarioActivateShiftsLeft(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1", "2", "3")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()

	snap := s.Snapshot()
	if ids(snap.Items) != "[1,2,3]" || snap.Position != 0 {
		t.Fatalf("initial snapshot = %s pos %d", ids(snap.Items), snap.Position)
	}

	out, item, err := s.Activate(ctx, snap.Version, 0)
	if out != tracker.OutcomeMarked || item.ID != "1" || err != nil {
		t.Fatalf("Activate = %v %q %v", out, item.ID, err)
	}
	snap = s.Snapshot()
	if ids(snap.Items) != "[2,3]" || snap.Seen != 1 {
		t.Fatalf("after first mark = %s seen %d", ids(snap.Items), snap.Seen)
	}

	out, item, _ = s.Activate(ctx, snap.Version, 0)
	if out != tracker.OutcomeMarked || item.ID != "2" {
		t.Fatalf("second activation = %v %q, want marked 2", out, item.ID)
	}
	snap = s.Snapshot()
	if ids(snap.Items) != "[3]" {
		t.Errorf("after second mark = %s, want [3]", ids(snap.Items))
	}
	if !st.Has("1") || !st.Has("2") || st.Len() != 2 {
		t.Errorf("store should be {1,2}, len %d", st.Len())
	}
}

func TestScenarioPersistedSeenHidden(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	first := openStore(t, b)
	if err := first.Add(ctx, store.Record{ID: "2"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	st := openStore(t, b)
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1", "2", "3")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()

	if got := ids(s.Snapshot().Items); got != "[1,3]" {
		t.Errorf("projection = %s, want [1,3]", got)
	}
}

func TestScenarioDuplicateActivation(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1", "2", "3")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()
	v := s.Snapshot().Version

	s.Activate(ctx, v, 0)
	out, _, _ := s.Activate(ctx, v, 0)

	if out != tracker.OutcomeAlreadySeen {
		t.Errorf("duplicate activation = %v", out)
	}
	if st.Len() != 1 {
		t.Errorf("store grew by %d, want 1", st.Len())
	}
}

func TestLanguageSwitchSupersedes(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	release := make(chan struct{})
	f.block["en"] = release
	f.items["en"] = items("en1")
	f.items["hi"] = []feed.Item{{ID: "hi1"}, {ID: "hi2"}}
	rec := &snapshots{}
	s := New(st, f, Options{OnChange: rec.record})

	genEN := s.SelectLanguage(ctx, "en")
	genHI := s.SelectLanguage(ctx, "hi")
	close(release)
	s.Wait()

	snap := s.Snapshot()
	if snap.Language != "hi" || snap.Generation != genHI || ids(snap.Items) != "[hi1,hi2]" {
		t.Fatalf("snapshot = %s gen %d %s", snap.Language, snap.Generation, ids(snap.Items))
	}
	for _, sn := range rec.list() {
		if sn.Generation == genEN && sn.Status == feed.StatusSuccess {
			t.Errorf("superseded result was applied: %+v", sn)
		}
	}
}

func TestLateResponseDoesNotReplaceNewerLanguage(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	lateEN := make(chan struct{})
	f.late["en"] = lateEN
	f.items["en"] = items("en1", "en2")
	f.items["hi"] = []feed.Item{{ID: "hi1", Language: "hi"}}

	rec := &snapshots{}
	hiApplied := make(chan struct{})
	var once sync.Once
	s := New(st, f, Options{OnChange: func(snap Snapshot) {
		rec.record(snap)
		if snap.Language == "hi" && snap.Status == feed.StatusSuccess {
			once.Do(func() { close(hiApplied) })
		}
	}})

	genEN := s.SelectLanguage(ctx, "en")
	genHI := s.SelectLanguage(ctx, "hi")

	select {
	case <-hiApplied:
	case <-time.After(2 * time.Second):
		t.Fatal("hi result was never applied")
	}
	close(lateEN)
	s.Wait()

	snap := s.Snapshot()
	if snap.Language != "hi" || snap.Generation != genHI || ids(snap.Items) != "[hi1]" {
		t.Fatalf("snapshot = %s gen %d %s, want hi gen %d [hi1]", snap.Language, snap.Generation, ids(snap.Items), genHI)
	}
	sawHI := false
	for _, sn := range rec.list() {
		if sn.Generation == genEN && sn.Status != feed.StatusLoading {
			t.Errorf("late en response reached a snapshot: %+v", sn)
		}
		for _, item := range sn.Items {
			if strings.HasPrefix(item.ID, "en") {
				t.Errorf("snapshot gen %d shows en item %s", sn.Generation, item.ID)
			}
		}
		if sn.Generation == genHI && sn.Status == feed.StatusSuccess {
			sawHI = true
		} else if sawHI {
			t.Errorf("snapshot published after hi was applied: %+v", sn)
		}
	}

	// Marking still works against the hi projection.
	out, item, err := s.Activate(ctx, snap.Version, 0)
	if out != tracker.OutcomeMarked || item.ID != "hi1" || err != nil {
		t.Fatalf("Activate = %v %s %v", out, item.ID, err)
	}
	if st.Has("en1") || st.Len() != 1 {
		t.Errorf("seen set = %d ids, en1 seen=%v", st.Len(), st.Has("en1"))
	}
}

func TestLoadingPublishedSynchronously(t *testing.T) {
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	release := make(chan struct{})
	f.block["en"] = release
	rec := &snapshots{}
	s := New(st, f, Options{OnChange: rec.record})

	s.SelectLanguage(context.Background(), "en")
	got := rec.list()
	close(release)
	s.Wait()

	if len(got) == 0 {
		t.Fatal("no snapshot published before SelectLanguage returned")
	}
	if got[0].Status != feed.StatusLoading || got[0].Message != feed.MsgLoading || got[0].Position != -1 {
		t.Errorf("loading snapshot = %+v", got[0])
	}
}

func TestStorageFailureKeepsProgress(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{Backend: openBackend(t)}
	st := openStore(t, b)
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1", "2")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()

	b.setFail(true)
	out, _, err := s.Activate(ctx, s.Snapshot().Version, 0)
	if out != tracker.OutcomeMarked || !errors.Is(err, feed.ErrStorage) {
		t.Fatalf("Activate = %v %v", out, err)
	}
	snap := s.Snapshot()
	if ids(snap.Items) != "[2]" {
		t.Errorf("item should be hidden despite storage failure, got %s", ids(snap.Items))
	}

	b.setFail(false)
	if _, _, err := s.Activate(ctx, snap.Version, 0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	reopened := openStore(t, b.Backend)
	if !reopened.Has("1") || !reopened.Has("2") {
		t.Errorf("next successful write should persist both ids, have %d", reopened.Len())
	}
}

func TestFetchErrorAndRetry(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	f.errs["en"] = errors.New("network down")
	s := New(st, f, Options{})

	if gen := s.Retry(ctx); gen != 0 {
		t.Errorf("Retry with no language = %d", gen)
	}

	s.SelectLanguage(ctx, "en")
	s.Wait()

	snap := s.Snapshot()
	if snap.Status != feed.StatusError || len(snap.Items) != 0 || snap.Position != -1 {
		t.Fatalf("error snapshot = %+v", snap)
	}
	if !strings.Contains(snap.Message, "network down") || !errors.Is(snap.Err, feed.ErrFetch) {
		t.Errorf("Message = %q err = %v", snap.Message, snap.Err)
	}

	f.mu.Lock()
	delete(f.errs, "en")
	f.items["en"] = items("1")
	f.mu.Unlock()

	s.Retry(ctx)
	s.Wait()
	if snap := s.Snapshot(); snap.Status != feed.StatusSuccess || len(snap.Items) != 1 {
		t.Errorf("retry snapshot = %+v", snap)
	}
}

func TestEverythingSeenShowsEmptyMessage(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()
	s.Activate(ctx, s.Snapshot().Version, 0)

	snap := s.Snapshot()
	if snap.Message != feed.MsgEmpty || snap.Position != -1 {
		t.Errorf("snapshot = %q pos %d", snap.Message, snap.Position)
	}
	if _, ok := snap.Current(); ok {
		t.Error("Current should report nothing on an empty projection")
	}
}

func TestRefreshHidesExternalMarks(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	st := openStore(t, b)
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1", "2", "3")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()

	other := openStore(t, b)
	if err := other.Add(ctx, store.Record{ID: "3"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := ids(s.Snapshot().Items); got != "[1,2]" {
		t.Errorf("projection after refresh = %s", got)
	}
}

func TestStaleActivationIgnored(t *testing.T) {
	ctx := context.Background()
	st := openStore(t, openBackend(t))
	defer st.Close()
	f := newMockFetcher()
	f.items["en"] = items("1")
	f.items["hi"] = items("9")
	s := New(st, f, Options{})

	s.SelectLanguage(ctx, "en")
	s.Wait()
	old := s.Snapshot().Version
	s.SelectLanguage(ctx, "hi")
	s.Wait()

	out, _, _ := s.Activate(ctx, old, 0)
	if out != tracker.OutcomeStale || st.Len() != 0 {
		t.Errorf("activation for previous language = %v, seen %d", out, st.Len())
	}
}

func TestSnapshotCurrent(t *testing.T) {
	snap := Snapshot{Items: items("a", "b"), Position: 1}
	item, ok := snap.Current()
	if !ok || item.ID != "b" {
		t.Errorf("Current = %q %v", item.ID, ok)
	}
}
