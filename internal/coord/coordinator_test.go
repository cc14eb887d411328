package coord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/fetch"
	"github.com/abelbrown/feedcard/internal/otel"
)

// mockFetcher implements Fetcher for testing. Languages listed in block
// wait for their channel to close (or ctx) before returning. Languages listed
// in late ignore ctx and return their items only once the channel closes.
type mockFetcher struct {
	mu         sync.Mutex
	items      map[string][]feed.Item
	errs       map[string]error
	block      map[string]chan struct{}
	late       map[string]chan struct{}
	requestIDs []string
	fetchCount atomic.Int32
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
	m.fetchCount.Add(1)

	m.mu.Lock()
	m.requestIDs = append(m.requestIDs, fetch.RequestID(ctx))
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

// recorder collects published results.
type recorder struct {
	mu      sync.Mutex
	results []feed.Result
}

func (r *recorder) record(res feed.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) all() []feed.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Result, len(r.results))
	copy(out, r.results)
	return out
}

func items(ids ...string) []feed.Item {
	out := make([]feed.Item, len(ids))
	for i, id := range ids {
		out[i] = feed.Item{ID: id, Title: "Item " + id}
	}
	return out
}

func TestFetchPublishesLoadingThenSuccess(t *testing.T) {
	mock := newMockFetcher()
	mock.items["en"] = items("1", "2", "3")
	rec := &recorder{}
	c := New(mock, Options{OnResult: rec.record, Logger: otel.NewNullLogger()})

	gen := c.Fetch(context.Background(), "en")
	if gen != 1 {
		t.Errorf("first generation = %d, want 1", gen)
	}
	first := rec.all()
	if len(first) == 0 || first[0].Status != feed.StatusLoading {
		t.Fatalf("Loading should be published synchronously, got %+v", first)
	}
	if first[0].Message() != feed.MsgLoading {
		t.Errorf("loading message = %q", first[0].Message())
	}

	c.Wait()

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[1].Status != feed.StatusSuccess || len(got[1].Items) != 3 {
		t.Errorf("unexpected final result: %+v", got[1])
	}
	if got[1].Generation != gen || got[1].Language != "en" {
		t.Errorf("result gen/lang = %d/%s", got[1].Generation, got[1].Language)
	}
	if c.Current().Status != feed.StatusSuccess {
		t.Errorf("Current = %v", c.Current().Status)
	}
}

func TestNewerFetchSupersedesOlder(t *testing.T) {
	mock := newMockFetcher()
	release := make(chan struct{})
	mock.block["en"] = release
	mock.items["en"] = items("en1")
	mock.items["hi"] = items("hi1", "hi2")
	rec := &recorder{}
	c := New(mock, Options{OnResult: rec.record})

	// The second Fetch cancels the first one's context, so en ends with
	// ctx.Err() and that outcome is discarded.
	genA := c.Fetch(context.Background(), "en")
	genB := c.Fetch(context.Background(), "hi")
	if genB <= genA {
		t.Fatalf("generations not increasing: %d then %d", genA, genB)
	}
	close(release)
	c.Wait()

	for _, res := range rec.all() {
		if res.Generation == genA && res.Status != feed.StatusLoading {
			t.Errorf("superseded generation published %v", res.Status)
		}
	}
	cur := c.Current()
	if cur.Language != "hi" || cur.Generation != genB || len(cur.Items) != 2 {
		t.Errorf("Current should be the hi result, got %+v", cur)
	}
}

func TestLateResponseAfterNewerResultIsDiscarded(t *testing.T) {
	mock := newMockFetcher()
	lateEN := make(chan struct{})
	mock.late["en"] = lateEN
	mock.items["en"] = items("en1", "en2")
	mock.items["hi"] = items("hi1")

	rec := &recorder{}
	hiApplied := make(chan struct{})
	var once sync.Once
	logger := otel.NewNullLogger()
	defer logger.Close()
	c := New(mock, Options{Logger: logger, OnResult: func(res feed.Result) {
		rec.record(res)
		if res.Language == "hi" && res.Status == feed.StatusSuccess {
			once.Do(func() { close(hiApplied) })
		}
	}})

	genA := c.Fetch(context.Background(), "en")
	genB := c.Fetch(context.Background(), "hi")

	select {
	case <-hiApplied:
	case <-time.After(2 * time.Second):
		t.Fatal("hi result was never applied")
	}
	// en answers successfully, but only after hi is already current.
	close(lateEN)
	c.Wait()

	for _, res := range rec.all() {
		if res.Generation == genA && res.Status != feed.StatusLoading {
			t.Errorf("late en response was published: %+v", res)
		}
	}
	last := rec.all()[len(rec.all())-1]
	if last.Generation != genB || last.Language != "hi" {
		t.Errorf("last published result = gen %d %s, want gen %d hi", last.Generation, last.Language, genB)
	}
	cur := c.Current()
	if cur.Language != "hi" || cur.Generation != genB || len(cur.Items) != 1 || cur.Items[0].ID != "hi1" {
		t.Errorf("Current should still be the hi result, got %+v", cur)
	}

	var stale bool
	for _, ev := range logger.Recent(64) {
		if ev.Kind == otel.KindFetchStale && ev.Generation == genA {
			stale = true
		}
	}
	if !stale {
		t.Error("expected a fetch.stale event for the late en response")
	}
}

func TestSupersededFetchIsCancelled(t *testing.T) {
	mock := newMockFetcher()
	mock.block["en"] = make(chan struct{}) // never released
	rec := &recorder{}
	c := New(mock, Options{OnResult: rec.record})

	c.Fetch(context.Background(), "en")
	c.Fetch(context.Background(), "hi")

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded fetch was not cancelled")
	}
}

func TestFetchTimeout(t *testing.T) {
	mock := newMockFetcher()
	mock.block["en"] = make(chan struct{})
	rec := &recorder{}
	c := New(mock, Options{Timeout: 20 * time.Millisecond, OnResult: rec.record})

	c.Fetch(context.Background(), "en")
	c.Wait()

	cur := c.Current()
	if cur.Status != feed.StatusError {
		t.Fatalf("expected Error, got %v", cur.Status)
	}
	if !errors.Is(cur.Err, feed.ErrFetch) || !errors.Is(cur.Err, context.DeadlineExceeded) {
		t.Errorf("expected ErrFetch wrapping deadline, got %v", cur.Err)
	}
	if len(cur.Items) != 0 {
		t.Errorf("error result should carry no items")
	}
}

func TestFetchError(t *testing.T) {
	mock := newMockFetcher()
	mock.errs["en"] = errors.New("connection refused")
	c := New(mock, Options{})

	c.Fetch(context.Background(), "en")
	c.Wait()

	cur := c.Current()
	if cur.Status != feed.StatusError {
		t.Fatalf("expected Error, got %v", cur.Status)
	}
	if !strings.HasPrefix(cur.Message(), "Error: ") || !strings.Contains(cur.Message(), "connection refused") {
		t.Errorf("Message = %q", cur.Message())
	}
}

func TestFetchDropsMalformedItems(t *testing.T) {
	mock := newMockFetcher()
	mock.items["en"] = items("1", "", "2", "1")
	c := New(mock, Options{})

	c.Fetch(context.Background(), "en")
	c.Wait()

	got := c.Current().Items
	if len(got) != 3 {
		t.Fatalf("expected blank id dropped and duplicate kept, got %d items", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "2" || got[2].ID != "1" {
		t.Errorf("unexpected ids: %v", got)
	}
}

func TestRetryRefetchesCurrentLanguage(t *testing.T) {
	mock := newMockFetcher()
	mock.errs["en"] = errors.New("boom")
	c := New(mock, Options{})

	if gen := c.Retry(context.Background()); gen != 0 {
		t.Errorf("Retry before any fetch should be a no-op, got gen %d", gen)
	}

	c.Fetch(context.Background(), "en")
	c.Wait()

	mock.mu.Lock()
	delete(mock.errs, "en")
	mock.items["en"] = items("1")
	mock.mu.Unlock()

	gen := c.Retry(context.Background())
	c.Wait()

	if gen != 2 {
		t.Errorf("retry generation = %d, want 2", gen)
	}
	cur := c.Current()
	if cur.Status != feed.StatusSuccess || cur.Language != "en" {
		t.Errorf("retry result = %+v", cur)
	}
	if mock.fetchCount.Load() != 2 {
		t.Errorf("expected 2 fetches, got %d", mock.fetchCount.Load())
	}
}

func TestEachFetchGetsRequestID(t *testing.T) {
	mock := newMockFetcher()
	c := New(mock, Options{})

	c.Fetch(context.Background(), "en")
	c.Wait()
	c.Fetch(context.Background(), "en")
	c.Wait()

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.requestIDs) != 2 {
		t.Fatalf("expected 2 request ids, got %d", len(mock.requestIDs))
	}
	if mock.requestIDs[0] == "" || mock.requestIDs[0] == mock.requestIDs[1] {
		t.Errorf("request ids should be unique and non-empty: %v", mock.requestIDs)
	}
}

func TestCancelAppliesErrorResult(t *testing.T) {
	mock := newMockFetcher()
	mock.block["en"] = make(chan struct{})
	c := New(mock, Options{})

	c.Fetch(context.Background(), "en")
	c.Cancel()
	c.Wait()

	if cur := c.Current(); cur.Status != feed.StatusError || !errors.Is(cur.Err, context.Canceled) {
		t.Errorf("expected cancelled error result, got %+v", cur)
	}
}
