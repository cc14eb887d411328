// Package coord provides background fetch coordination for feedcard.
//
// Every Fetch starts a new generation. Only the latest generation's outcome
// is applied and published; older outcomes are discarded when they arrive.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abelbrown/feedcard/internal/feed"
	"github.com/abelbrown/feedcard/internal/fetch"
	"github.com/abelbrown/feedcard/internal/filter"
	"github.com/abelbrown/feedcard/internal/otel"
)

// defaultTimeout is the timeout for each individual fetch.
const defaultTimeout = 30 * time.Second

// Fetcher retrieves the item list for one language.
type Fetcher interface {
	Fetch(ctx context.Context, language string) ([]feed.Item, error)
}

// Options configures a Coordinator.
type Options struct {
	Timeout  time.Duration
	Logger   *otel.Logger
	OnResult func(feed.Result) // called without any coordinator lock held
}

// Coordinator runs fetches in the background and supersedes older ones.
// Context cancellation and the generation counter are the only stop
// mechanisms.
type Coordinator struct {
	fetcher  Fetcher
	timeout  time.Duration
	logger   *otel.Logger
	onResult func(feed.Result)

	mu       sync.Mutex
	gen      uint64
	language string
	current  feed.Result
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Coordinator around f.
func New(f Fetcher, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Coordinator{
		fetcher:  f,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		onResult: opts.OnResult,
		current:  feed.Result{Status: feed.StatusIdle},
	}
}

// Fetch starts a fetch for language and returns its generation.
// The Loading result is published before Fetch returns. Any fetch still in
// flight is cancelled and its outcome will be discarded.
func (c *Coordinator) Fetch(ctx context.Context, language string) uint64 {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.language = language
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	c.cancel = cancel
	loading := feed.Result{Status: feed.StatusLoading, Language: language, Generation: gen}
	c.current = loading
	c.mu.Unlock()

	c.publish(loading)

	c.wg.Add(1)
	go c.run(fetchCtx, cancel, gen, language, uuid.NewString())
	return gen
}

// Retry re-fetches the current language. Returns 0 if nothing was ever
// fetched.
func (c *Coordinator) Retry(ctx context.Context) uint64 {
	c.mu.Lock()
	language := c.language
	started := c.gen > 0
	c.mu.Unlock()
	if !started {
		return 0
	}
	return c.Fetch(ctx, language)
}

// Current returns the latest applied result.
func (c *Coordinator) Current() feed.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Generation returns the latest generation handed out.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Language returns the language of the latest fetch.
func (c *Coordinator) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Cancel aborts the in-flight fetch, if any. Its outcome is still applied as
// an error result unless a newer fetch has started.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Wait blocks until all background fetch goroutines exit.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, gen uint64, language, rid string) {
	defer c.wg.Done()
	defer cancel()

	ctx = fetch.WithRequestID(ctx, rid)
	ctx, span := otel.Tracer("coord").Start(ctx, "coord.fetch", trace.WithAttributes(
		attribute.String("feed.language", language),
		attribute.Int64("feed.generation", int64(gen)),
		attribute.String("request.id", rid),
	))
	defer span.End()

	start := time.Now()
	c.logger.Emit(otel.Event{
		Level:      otel.LevelInfo,
		Kind:       otel.KindFetchStart,
		Comp:       "coord",
		RequestID:  rid,
		Generation: gen,
		Language:   language,
	})

	items, err := c.fetcher.Fetch(ctx, language)
	res := feed.Result{Language: language, Generation: gen}
	if err != nil {
		if !errors.Is(err, feed.ErrFetch) {
			err = fmt.Errorf("%w: %w", feed.ErrFetch, err)
		}
		res.Status = feed.StatusError
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		valid, report := filter.Validate(items)
		if !report.OK() {
			c.logger.Emit(otel.Event{
				Level:      otel.LevelWarn,
				Kind:       otel.KindDataError,
				Comp:       "coord",
				RequestID:  rid,
				Generation: gen,
				Language:   language,
				Count:      report.Malformed + len(report.Duplicates),
				Err:        report.Err().Error(),
			})
		}
		res.Status = feed.StatusSuccess
		res.Items = valid
		span.SetAttributes(attribute.Int("feed.items", len(valid)))
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Emit(otel.Event{
			Level:      otel.LevelDebug,
			Kind:       otel.KindFetchStale,
			Comp:       "coord",
			RequestID:  rid,
			Generation: gen,
			Language:   language,
			Dur:        time.Since(start),
		})
		return
	}
	c.current = res
	c.mu.Unlock()

	ev := otel.Event{
		Level:      otel.LevelInfo,
		Kind:       otel.KindFetchComplete,
		Comp:       "coord",
		RequestID:  rid,
		Generation: gen,
		Language:   language,
		Dur:        time.Since(start),
		Count:      len(res.Items),
	}
	if res.Err != nil {
		ev.Level = otel.LevelError
		ev.Kind = otel.KindFetchError
		ev.Err = res.Err.Error()
	}
	c.logger.Emit(ev)

	c.publish(res)
}

func (c *Coordinator) publish(res feed.Result) {
	if c.onResult != nil {
		c.onResult(res)
	}
}
